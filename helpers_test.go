package modpatch

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"slices"
)

type write struct {
	addr uintptr
	data []byte
}

// fakeMemory is a flat buffer standing in for a module's address space. It
// records every write in order.
type fakeMemory struct {
	base   uintptr
	mem    []byte
	writes []write

	// failAt makes the nth write (counting from 1) fail.
	failAt int
}

func newFakeMemory(base uintptr, size int) *fakeMemory {
	return &fakeMemory{base: base, mem: make([]byte, size)}
}

func (f *fakeMemory) span(addr uintptr, n int) ([]byte, error) {
	if addr < f.base || addr-f.base+uintptr(n) > uintptr(len(f.mem)) {
		return nil, fmt.Errorf("%#x+%d out of range", addr, n)
	}
	off := addr - f.base
	return f.mem[off : off+uintptr(n)], nil
}

func (f *fakeMemory) Read(addr uintptr, n int) ([]byte, error) {
	b, err := f.span(addr, n)
	if err != nil {
		return nil, err
	}
	return slices.Clone(b), nil
}

func (f *fakeMemory) Write(addr uintptr, buf []byte) error {
	if f.failAt > 0 && len(f.writes)+1 == f.failAt {
		return fmt.Errorf("%w: injected failure at %#x", ErrMemoryProtection, addr)
	}
	b, err := f.span(addr, len(buf))
	if err != nil {
		return err
	}
	copy(b, buf)
	f.writes = append(f.writes, write{addr: addr, data: slices.Clone(buf)})
	return nil
}

func (f *fakeMemory) bytesAt(addr uintptr, n int) []byte {
	b, err := f.span(addr, n)
	if err != nil {
		panic(err)
	}
	return b
}

// module returns a module covering the whole buffer.
func (f *fakeMemory) module(name string) *Module {
	return NewModule(name, f.base, uintptr(len(f.mem)))
}

// verified moves m past the gate without reading headers.
func verified(m *Module, id BuildID) *Module {
	m.state = VersionVerified
	m.build = id
	return m
}

const (
	testTextRVA  = 0x1000
	testRsrcRVA  = 0x2000
	testInfoRVA  = testRsrcRVA + 0x40
	testImageLen = 0x3000
)

// buildPE returns a minimal PE image with a .text section at 0x1000 and a
// .rsrc section at 0x2000 holding a VS_FIXEDFILEINFO. File offsets equal
// virtual addresses, so the result is both a valid file and a mapped image.
func buildPE(machine uint16, version FileVersion) []byte {
	var oh any
	switch machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		oh = &pe.OptionalHeader64{
			Magic:               0x20b,
			ImageBase:           0x180000000,
			SectionAlignment:    0x1000,
			FileAlignment:       0x1000,
			SizeOfImage:         testImageLen,
			SizeOfHeaders:       0x1000,
			NumberOfRvaAndSizes: 16,
		}
	default:
		oh = &pe.OptionalHeader32{
			Magic:               0x10b,
			ImageBase:           0x10000000,
			SectionAlignment:    0x1000,
			FileAlignment:       0x1000,
			SizeOfImage:         testImageLen,
			SizeOfHeaders:       0x1000,
			NumberOfRvaAndSizes: 16,
		}
	}

	var buf bytes.Buffer
	dos := make([]byte, dosHeaderSize)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[dosLfanewOffset:], dosHeaderSize)
	buf.Write(dos)

	buf.WriteString("PE\x00\x00")
	binary.Write(&buf, binary.LittleEndian, pe.FileHeader{
		Machine:              machine,
		NumberOfSections:     2,
		SizeOfOptionalHeader: uint16(binary.Size(oh)),
		Characteristics:      0x2102,
	})
	binary.Write(&buf, binary.LittleEndian, oh)

	for _, s := range []struct {
		name string
		rva  uint32
	}{{".text", testTextRVA}, {".rsrc", testRsrcRVA}} {
		var sh pe.SectionHeader32
		copy(sh.Name[:], s.name)
		sh.VirtualSize = 0x1000
		sh.VirtualAddress = s.rva
		sh.SizeOfRawData = 0x1000
		sh.PointerToRawData = s.rva
		binary.Write(&buf, binary.LittleEndian, sh)
	}

	image := make([]byte, testImageLen)
	copy(image, buf.Bytes())

	binary.LittleEndian.PutUint32(image[testInfoRVA:], fixedFileInfoMagic)
	binary.LittleEndian.PutUint32(image[testInfoRVA+4:], 0x10000)
	binary.LittleEndian.PutUint32(image[testInfoRVA+8:], uint32(version[0])<<16|uint32(version[1]))
	binary.LittleEndian.PutUint32(image[testInfoRVA+12:], uint32(version[2])<<16|uint32(version[3]))

	return image
}

// peMemory returns fake memory holding a synthetic image for build.
func peMemory(machine uint16, build uint16) *fakeMemory {
	mem := newFakeMemory(0x400000, testImageLen)
	copy(mem.mem, buildPE(machine, FileVersion{1, 1, 1, build}))
	return mem
}
