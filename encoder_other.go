//go:build !386 && !amd64

package modpatch

// Only x86 hosts can be patched. NativeEncoder fails everywhere else but the
// explicit encoders still work, which is enough for dry runs.
const nativeWidth Width = 0
