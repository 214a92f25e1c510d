// Patch native modules of a closed host application at runtime
//
// modpatch rewrites machine code and virtual dispatch tables of modules that
// are already mapped into the current process. Each supported build of a
// module has a table of patches (see the tables directory) that redirect
// call sites to replacement functions, neutralize regions with no-op runs
// or swap vtable slots.
//
// The whole sequence runs once, on one thread, before the host starts using
// the modules:
//
//	load module -> read build id -> gate -> apply every patch -> Patched
//
// Any failure is fatal: a module that failed part way through is left as it
// is and must not be used. There is no unpatch.
//
// Limitations:
//   - Only 32-bit and 64-bit x86 code is generated
//   - Offsets are trusted unless a patch declares the bytes it expects
//   - On unix, pages touched by a write are left read+execute afterwards,
//     whatever they were before. Data pages holding vtables lose write
//     access.
//   - Replacement functions must match the calling convention of whatever
//     they replace. Nothing checks this.
package modpatch
