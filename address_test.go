package modpatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRVA(t *testing.T) {
	tests := map[string]struct {
		base uintptr
		off  Offset
		want uintptr
	}{
		"zero offset":    {base: 0x10000000, off: 0, want: 0x10000000},
		"inline site":    {base: 0x10000000, off: 0x56409, want: 0x10056409},
		"vtable":         {base: 0x10000000, off: 0x1BC5F8, want: 0x101BC5F8},
		"unaligned base": {base: 0x1234, off: 0x10, want: 0x1244},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, RVA(tc.base, tc.off))
		})
	}
}

func TestRVA_DefaultTables(t *testing.T) {
	c, err := LoadCatalog(DefaultTables())
	if !assert.NoError(t, err) {
		return
	}

	// The largest offset in the shipped tables still lands inside a
	// module mapped in the low 32 bits.
	var largest Offset
	for _, id := range c.Builds() {
		for _, descs := range c.tables[id].Modules {
			for _, d := range descs {
				largest = max(largest, d.Offset)
			}
		}
	}
	assert.Equal(t, Offset(0x26ACF8), largest)
	assert.Equal(t, uintptr(0x1026ACF8), RVA(0x10000000, largest))
}

func TestOffset_String(t *testing.T) {
	assert.Equal(t, "0x445a2", Offset(0x445A2).String())
}
