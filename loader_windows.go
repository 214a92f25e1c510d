//go:build windows

package modpatch

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// SystemLoader loads modules into the current process with LoadLibrary.
// Modules are resolved from Dir when it is set, otherwise through the normal
// DLL search order.
type SystemLoader struct {
	Dir string
}

var _ Loader = (*SystemLoader)(nil)

func (l *SystemLoader) Load(name string) (*Module, error) {
	path := name
	if l.Dir != "" {
		path = l.Dir + `\` + name
	}

	h, err := windows.LoadLibrary(path)
	if err != nil {
		if errors.Is(err, windows.ERROR_BAD_EXE_FORMAT) {
			return nil, fmt.Errorf("%w: %s: %v DLL cannot be loaded by a %v process: %w",
				ErrModuleLoad, name, otherWidth(nativeWidth), nativeWidth, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrModuleLoad, name, err)
	}

	var info windows.ModuleInfo
	if err := windows.GetModuleInformation(windows.CurrentProcess(), h, &info, uint32(unsafe.Sizeof(info))); err != nil {
		windows.FreeLibrary(h)
		return nil, fmt.Errorf("%w: %s: %w", ErrModuleLoad, name, err)
	}

	return NewModule(name, info.BaseOfDll, uintptr(info.SizeOfImage)), nil
}

func otherWidth(w Width) Width {
	if w == Width64 {
		return Width32
	}
	return Width64
}

// Callback returns a function pointer usable as a replacement address for
// fn, which must follow the stdcall convention.
func Callback(fn any) uintptr {
	return windows.NewCallback(fn)
}
