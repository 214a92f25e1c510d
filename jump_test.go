package modpatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func TestNearJump(t *testing.T) {
	tests := map[string]struct {
		site, dest uintptr
		want       []byte
	}{
		"forward":  {site: 0x1000, dest: 0x2000, want: []byte{0xE9, 0xFB, 0x0F, 0x00, 0x00}},
		"backward": {site: 0x2000, dest: 0x1000, want: []byte{0xE9, 0xFB, 0xEF, 0xFF, 0xFF}},
		"self":     {site: 0x1000, dest: 0x1000, want: []byte{0xE9, 0xFB, 0xFF, 0xFF, 0xFF}},
		"next":     {site: 0x1000, dest: 0x1005, want: []byte{0xE9, 0x00, 0x00, 0x00, 0x00}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			code, err := NearJump(tc.site, tc.dest)
			require.NoError(t, err)
			assert.Equal(t, tc.want, code)
		})
	}
}

func TestNearCall_Decode(t *testing.T) {
	assert := assert.New(t)

	code, err := NearCall(0x401000, 0x402345)
	require.NoError(t, err)

	inst, err := x86asm.Decode(code, 32)
	require.NoError(t, err)
	assert.Equal(x86asm.CALL, inst.Op)
	assert.Equal(nearBranchSize, inst.Len)

	rel, ok := inst.Args[0].(x86asm.Rel)
	require.True(t, ok)
	assert.Equal(uintptr(0x402345), uintptr(0x401000+nearBranchSize+int64(rel)))
}

func TestNearJump_OutOfRange(t *testing.T) {
	if nativeWidth != Width64 {
		t.Skip("needs 64-bit addresses")
	}

	var far uint64 = 0x7fff_0000_0000
	_, err := NearJump(0x1000, uintptr(far))
	assert.ErrorContains(t, err, "out of range")
}
