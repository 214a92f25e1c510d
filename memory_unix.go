//go:build unix

package modpatch

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	protRX  = unix.PROT_READ | unix.PROT_EXEC
	protRWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC

	// Protection of the arenas ImageLoader maps modules into.
	arenaProt = protRWX
)

// unprotect makes the pages writable. There is no portable way to ask for the
// current protection, so restore returns the pages to read+execute, which is
// what every patched region of a loaded module is.
func unprotect(start, size uintptr) (func() error, error) {
	region := unsafe.Slice((*byte)(unsafe.Pointer(start)), size)
	if err := unix.Mprotect(region, protRWX); err != nil {
		return nil, err
	}

	return func() error {
		return unix.Mprotect(region, protRX)
	}, nil
}

// Not needed on x86, which keeps the instruction cache coherent.
func flushInstructionCache(addr uintptr, n int) error {
	return nil
}
