package modpatch

import (
	"fmt"
)

// State is a module's place in the patch lifecycle. It only moves forward,
// one step at a time.
type State int

const (
	Unloaded State = iota
	Loaded
	VersionVerified
	Patched
	InUse

	// Failed is terminal: a write failed part way through patching and
	// the module is neither original nor patched.
	Failed
)

var stateNames = [...]string{"unloaded", "loaded", "version-verified", "patched", "in-use", "failed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Module is a native module mapped by the host. The engine borrows it while
// patching; the host owns it.
type Module struct {
	Name string
	Base uintptr
	Size uintptr

	state State
	build BuildID
}

// NewModule describes a module the host has already mapped at base.
func NewModule(name string, base, size uintptr) *Module {
	return &Module{
		Name:  name,
		Base:  base,
		Size:  size,
		state: Loaded,
	}
}

func (m *Module) State() State {
	return m.state
}

// Build returns the build verified by the gate. It is the zero BuildID
// until then.
func (m *Module) Build() BuildID {
	return m.build
}

// Contains reports whether n bytes at addr lie inside the module.
func (m *Module) Contains(addr uintptr, n int) bool {
	return addr >= m.Base && n >= 0 && addr-m.Base <= m.Size && uintptr(n) <= m.Size-(addr-m.Base)
}

// Release hands a patched module back to the host.
func (m *Module) Release() error {
	return m.advance(InUse)
}

func (m *Module) advance(to State) error {
	if m.state == Failed || to == Failed || to != m.state+1 {
		return fmt.Errorf("%w: %s: %v -> %v", ErrInvalidTransition, m.Name, m.state, to)
	}
	m.state = to
	return nil
}

func (m *Module) fail() {
	m.state = Failed
}

func (m *Module) String() string {
	return fmt.Sprintf("%s@%#x", m.Name, m.Base)
}
