//go:build !unix && !windows

package modpatch

import (
	"errors"
	"runtime"
)

const arenaProt = 0

func unprotect(start, size uintptr) (func() error, error) {
	return nil, errors.New("cannot change memory protection on " + runtime.GOOS)
}

func flushInstructionCache(addr uintptr, n int) error {
	return nil
}
