package modpatch

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
)

// BuildID identifies the exact compiled layout of a module: the build number
// from its version resource and its address width.
type BuildID struct {
	Build uint32
	Width Width
}

func (id BuildID) String() string {
	return fmt.Sprintf("%d/%v", id.Build, id.Width)
}

const (
	dosHeaderSize      = 0x40
	dosLfanewOffset    = 0x3c
	sectionHeaderSize  = 40
	fixedFileInfoSize  = 52
	fixedFileInfoMagic = 0xfeef04bd
)

// FileVersion is the file version of a module, most significant part first.
type FileVersion [4]uint16

func (v FileVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}

// ReadBuildID reads the build identifier of a mapped PE module.
func ReadBuildID(r Reader, m *Module) (BuildID, error) {
	id, _, err := ReadVersion(r, m)
	return id, err
}

// ReadVersion reads the build identifier and the full file version of a
// mapped PE module. The build number is the last part of the version.
func ReadVersion(r Reader, m *Module) (BuildID, FileVersion, error) {
	id, version, err := readVersion(r, m)
	if err != nil {
		return id, version, fmt.Errorf("%s: %w", m.Name, err)
	}
	return id, version, nil
}

func readVersion(r Reader, m *Module) (BuildID, FileVersion, error) {
	var version FileVersion

	fh, sections, err := readHeaders(r, m)
	if err != nil {
		return BuildID{}, version, err
	}

	id := BuildID{}
	switch fh.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		id.Width = Width32
	case pe.IMAGE_FILE_MACHINE_AMD64:
		id.Width = Width64
	default:
		return id, version, fmt.Errorf("unsupported machine %#x", fh.Machine)
	}

	var rsrc *pe.SectionHeader32
	for i := range sections {
		if sectionName(sections[i].Name) == ".rsrc" {
			rsrc = &sections[i]
			break
		}
	}
	if rsrc == nil {
		return id, version, errors.New("no resource section")
	}

	size := rsrc.VirtualSize
	if size == 0 {
		size = rsrc.SizeOfRawData
	}
	data, err := read(r, m, RVA(m.Base, Offset(rsrc.VirtualAddress)), int(size))
	if err != nil {
		return id, version, fmt.Errorf("resource section: %w", err)
	}

	info, ok := findFixedFileInfo(data)
	if !ok {
		return id, version, errors.New("no version resource")
	}

	version = FileVersion{
		uint16(info.FileVersionMS >> 16),
		uint16(info.FileVersionMS),
		uint16(info.FileVersionLS >> 16),
		uint16(info.FileVersionLS),
	}
	id.Build = uint32(version[3])
	return id, version, nil
}

func readHeaders(r Reader, m *Module) (*pe.FileHeader, []pe.SectionHeader32, error) {
	dos, err := read(r, m, m.Base, dosHeaderSize)
	if err != nil {
		return nil, nil, err
	}
	if dos[0] != 'M' || dos[1] != 'Z' {
		return nil, nil, fmt.Errorf("not a PE image")
	}

	ntOffset := uintptr(binary.LittleEndian.Uint32(dos[dosLfanewOffset:]))
	fhSize := binary.Size(pe.FileHeader{})
	nt, err := read(r, m, m.Base+ntOffset, 4+fhSize)
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(nt[:4], []byte{'P', 'E', 0, 0}) {
		return nil, nil, fmt.Errorf("bad PE signature %x", nt[:4])
	}

	var fh pe.FileHeader
	if err := binary.Read(bytes.NewReader(nt[4:]), binary.LittleEndian, &fh); err != nil {
		return nil, nil, err
	}

	sectionsAt := m.Base + ntOffset + 4 + uintptr(fhSize) + uintptr(fh.SizeOfOptionalHeader)
	raw, err := read(r, m, sectionsAt, int(fh.NumberOfSections)*sectionHeaderSize)
	if err != nil {
		return nil, nil, err
	}

	sections := make([]pe.SectionHeader32, fh.NumberOfSections)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, sections); err != nil {
		return nil, nil, err
	}
	return &fh, sections, nil
}

type fixedFileInfo struct {
	Signature        uint32
	StrucVersion     uint32
	FileVersionMS    uint32
	FileVersionLS    uint32
	ProductVersionMS uint32
	ProductVersionLS uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateMS       uint32
	FileDateLS       uint32
}

// findFixedFileInfo scans a resource section for VS_FIXEDFILEINFO, which is
// always DWORD aligned.
func findFixedFileInfo(data []byte) (*fixedFileInfo, bool) {
	for i := 0; i+fixedFileInfoSize <= len(data); i += 4 {
		if binary.LittleEndian.Uint32(data[i:]) != fixedFileInfoMagic {
			continue
		}
		var info fixedFileInfo
		if err := binary.Read(bytes.NewReader(data[i:i+fixedFileInfoSize]), binary.LittleEndian, &info); err != nil {
			return nil, false
		}
		return &info, true
	}
	return nil, false
}

func sectionName(name [8]uint8) string {
	n := bytes.IndexByte(name[:], 0)
	if n < 0 {
		n = len(name)
	}
	return string(name[:n])
}

// read is r.Read restricted to the module's mapping.
func read(r Reader, m *Module, addr uintptr, n int) ([]byte, error) {
	if !m.Contains(addr, n) {
		return nil, fmt.Errorf("%#x+%d is outside the module (%#x+%d)", addr, n, m.Base, m.Size)
	}
	return r.Read(addr, n)
}
