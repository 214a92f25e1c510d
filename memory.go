package modpatch

import (
	"fmt"
	"os"
	"unsafe"
)

// Reader reads bytes from a module's address space.
type Reader interface {
	Read(addr uintptr, n int) ([]byte, error)
}

// Writer writes bytes into a module's address space, regardless of the
// current protection of the pages involved.
type Writer interface {
	Write(addr uintptr, buf []byte) error
}

// Memory is what the engine needs from the address space it patches.
type Memory interface {
	Reader
	Writer
}

// ProcessMemory is the memory of the current process.
//
// Write makes the pages writable, copies, puts the protection back and
// flushes the instruction cache where the platform needs it. No thread may
// be executing the range while it is written.
type ProcessMemory struct{}

var _ Memory = ProcessMemory{}

func (ProcessMemory) Read(addr uintptr, n int) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("read of %d bytes at nil address", n)
	}
	buf := make([]byte, n)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(addr)), n))
	return buf, nil
}

func (ProcessMemory) Write(addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if addr == 0 {
		return fmt.Errorf("%w: write of %d bytes at nil address", ErrMemoryProtection, len(buf))
	}

	start, size := pageSpan(addr, len(buf))
	restore, err := unprotect(start, size)
	if err != nil {
		return fmt.Errorf("%w: %#x+%d: %w", ErrMemoryProtection, addr, len(buf), err)
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(buf)), buf)

	if err := restore(); err != nil {
		return fmt.Errorf("%w: restoring %#x+%d: %w", ErrMemoryProtection, addr, len(buf), err)
	}

	return flushInstructionCache(addr, len(buf))
}

// pageSpan returns the first page containing addr and the size of the whole
// pages needed to cover n bytes from addr.
func pageSpan(addr uintptr, n int) (uintptr, uintptr) {
	pageSize := uintptr(os.Getpagesize())

	// Round address down to page boundary.
	// Example: addr=4196 with pageSize=4096 becomes 4096.
	pageStart := addr &^ (pageSize - 1)

	// Round up to cover complete pages.
	size := (addr - pageStart + uintptr(n) + pageSize - 1) &^ (pageSize - 1)
	return pageStart, size
}
