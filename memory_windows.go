//go:build windows

package modpatch

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const arenaProt = windows.PAGE_EXECUTE_READWRITE

var procFlushInstructionCache = windows.NewLazySystemDLL("kernel32.dll").NewProc("FlushInstructionCache")

// unprotect makes the pages writable and remembers what they were. When the
// span crosses pages with different protections Windows reports the first
// one, and that is what all of them get back.
func unprotect(start, size uintptr) (func() error, error) {
	var old uint32
	if err := windows.VirtualProtect(start, size, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return nil, err
	}

	return func() error {
		var ignored uint32
		return windows.VirtualProtect(start, size, old, &ignored)
	}, nil
}

func flushInstructionCache(addr uintptr, n int) error {
	r1, _, err := procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, uintptr(n))
	if r1 == 0 {
		return fmt.Errorf("FlushInstructionCache %#x+%d: %w", addr, n, err)
	}
	return nil
}
