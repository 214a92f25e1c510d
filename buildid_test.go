package modpatch

import (
	"debug/pe"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadVersion(t *testing.T) {
	tests := map[string]struct {
		machine uint16
		version FileVersion
		want    BuildID
	}{
		"x86": {
			machine: pe.IMAGE_FILE_MACHINE_I386,
			version: FileVersion{1, 1, 1, 6156},
			want:    BuildID{Build: 6156, Width: Width32},
		},
		"x64": {
			machine: pe.IMAGE_FILE_MACHINE_AMD64,
			version: FileVersion{1, 1, 1, 6156},
			want:    BuildID{Build: 6156, Width: Width64},
		},
		"warhead": {
			machine: pe.IMAGE_FILE_MACHINE_I386,
			version: FileVersion{1, 1, 1, 711},
			want:    BuildID{Build: 711, Width: Width32},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mem := newFakeMemory(0x400000, testImageLen)
			copy(mem.mem, buildPE(tc.machine, tc.version))

			id, version, err := ReadVersion(mem, mem.module("CrySystem.dll"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
			assert.Equal(t, tc.version, version)
			assert.Empty(t, mem.writes)
		})
	}
}

func TestReadBuildID_Errors(t *testing.T) {
	t.Run("not a PE", func(t *testing.T) {
		mem := newFakeMemory(0x400000, testImageLen)
		_, err := ReadBuildID(mem, mem.module("a.dll"))
		assert.ErrorContains(t, err, "not a PE image")
	})

	t.Run("unsupported machine", func(t *testing.T) {
		mem := peMemory(pe.IMAGE_FILE_MACHINE_ARM64, 6156)
		_, err := ReadBuildID(mem, mem.module("a.dll"))
		assert.ErrorContains(t, err, "unsupported machine")
	})

	t.Run("no version resource", func(t *testing.T) {
		mem := peMemory(pe.IMAGE_FILE_MACHINE_AMD64, 6156)
		clear(mem.bytesAt(mem.base+testInfoRVA, 4))
		_, err := ReadBuildID(mem, mem.module("a.dll"))
		assert.ErrorContains(t, err, "no version resource")
	})

	t.Run("truncated module", func(t *testing.T) {
		mem := peMemory(pe.IMAGE_FILE_MACHINE_AMD64, 6156)
		m := NewModule("a.dll", mem.base, testRsrcRVA+0x10)
		_, err := ReadBuildID(mem, m)
		assert.ErrorContains(t, err, "outside the module")
	})
}

func TestFileVersion_String(t *testing.T) {
	assert.Equal(t, "1.2.3.6156", FileVersion{1, 2, 3, 6156}.String())
	assert.Equal(t, "6156/x64", BuildID{Build: 6156, Width: Width64}.String())
}
