package modpatch

import "errors"

var (
	// ErrModuleLoad means the host could not map a module.
	ErrModuleLoad = errors.New("module load failed")
	// ErrUnsupportedVersion means the gate refused a module's build.
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrMemoryProtection means target memory could not be made writable
	// (or its protection could not be restored).
	ErrMemoryProtection = errors.New("memory protection change failed")
	// ErrFootprintOverflow means a patch would write past the bytes it is
	// allowed to overwrite. Tables are checked for this when loaded.
	ErrFootprintOverflow = errors.New("footprint overflow")
	// ErrSignatureMismatch means the bytes at a patch site are not the ones
	// the table expects.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrUnknownReplacement means a table names a replacement function the
	// host did not provide.
	ErrUnknownReplacement = errors.New("unknown replacement")
	// ErrNoDescriptors means no table exists for a verified build.
	ErrNoDescriptors = errors.New("no patch table")
	// ErrInvalidTransition means a module was moved out of lifecycle order.
	ErrInvalidTransition = errors.New("invalid module state transition")
)
