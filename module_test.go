package modpatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModule_Contains(t *testing.T) {
	m := NewModule("a.dll", 0x1000, 0x100)

	tests := map[string]struct {
		addr uintptr
		n    int
		want bool
	}{
		"start":          {0x1000, 1, true},
		"whole":          {0x1000, 0x100, true},
		"last byte":      {0x10ff, 1, true},
		"past end":       {0x10ff, 2, false},
		"before":         {0xfff, 1, false},
		"after":          {0x1100, 1, false},
		"empty at end":   {0x1100, 0, true},
		"negative count": {0x1000, -1, false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.Contains(tc.addr, tc.n))
		})
	}
}

func TestModule_Lifecycle(t *testing.T) {
	assert := assert.New(t)

	m := NewModule("a.dll", 0x1000, 0x100)
	assert.Equal(Loaded, m.State())
	assert.Equal(BuildID{}, m.Build())

	// Skipping the gate is not allowed.
	assert.ErrorIs(m.advance(Patched), ErrInvalidTransition)
	assert.ErrorIs(m.Release(), ErrInvalidTransition)

	assert.NoError(m.advance(VersionVerified))
	assert.NoError(m.advance(Patched))
	assert.NoError(m.Release())
	assert.Equal(InUse, m.State())

	assert.ErrorIs(m.advance(Loaded), ErrInvalidTransition)
	assert.Equal("in-use", m.State().String())
	assert.Equal("a.dll@0x1000", m.String())
}

func TestModule_Failed(t *testing.T) {
	assert := assert.New(t)

	m := NewModule("a.dll", 0x1000, 0x100)
	assert.ErrorIs(m.advance(Failed), ErrInvalidTransition)
	assert.NoError(m.advance(VersionVerified))

	m.fail()
	assert.Equal("failed", m.State().String())
	assert.ErrorIs(m.advance(Patched), ErrInvalidTransition)
	assert.ErrorIs(m.Release(), ErrInvalidTransition)
	assert.Equal(Failed, m.State())
}
