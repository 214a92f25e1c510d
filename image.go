package modpatch

import (
	"bytes"
	"debug/pe"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/pboyd/malloc"
)

// ImageLoader maps PE files from Dir into private executable memory, laid
// out the way the system loader would place them, but without running any
// of their code or applying relocations. It is meant for dry runs: the
// files on disk are never modified.
type ImageLoader struct {
	Dir string
}

var _ Loader = (*ImageLoader)(nil)

func (l *ImageLoader) Load(name string) (*Module, error) {
	data, err := os.ReadFile(filepath.Join(l.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModuleLoad, name, err)
	}

	image, err := mapImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModuleLoad, name, err)
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(image)))
	return NewModule(name, base, uintptr(len(image))), nil
}

func mapImage(data []byte) ([]byte, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sizeOfImage, sizeOfHeaders uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		sizeOfImage, sizeOfHeaders = oh.SizeOfImage, oh.SizeOfHeaders
	case *pe.OptionalHeader64:
		sizeOfImage, sizeOfHeaders = oh.SizeOfImage, oh.SizeOfHeaders
	default:
		return nil, errors.New("missing optional header")
	}
	if sizeOfImage == 0 || int(sizeOfHeaders) > len(data) || sizeOfHeaders > sizeOfImage {
		return nil, fmt.Errorf("bad image size %d (headers %d)", sizeOfImage, sizeOfHeaders)
	}

	image, err := allocImage(int(sizeOfImage))
	if err != nil {
		return nil, err
	}
	clear(image)
	copy(image, data[:sizeOfHeaders])

	for _, s := range f.Sections {
		if s.Size == 0 {
			continue
		}
		raw, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", s.Name, err)
		}
		if s.VirtualSize != 0 && uint32(len(raw)) > s.VirtualSize {
			raw = raw[:s.VirtualSize]
		}
		if uint64(s.VirtualAddress)+uint64(len(raw)) > uint64(sizeOfImage) {
			return nil, fmt.Errorf("section %s at %#x+%d is outside the %d byte image", s.Name, s.VirtualAddress, len(raw), sizeOfImage)
		}
		copy(image[s.VirtualAddress:], raw)
	}

	return image, nil
}

// allocImage returns executable memory for one image. Each image gets its
// own arena, which lives as long as the process.
func allocImage(size int) ([]byte, error) {
	be := malloc.MmapBackend(malloc.MmapProt(arenaProt))
	arena := malloc.NewArena(uint64(size+os.Getpagesize()), malloc.Backend(be))
	if arena == nil {
		return nil, errors.New("unable to initialize arena")
	}

	image, err := malloc.MallocSlice[byte](arena, size)
	if err != nil {
		return nil, fmt.Errorf("allocating %d byte image: %w", size, err)
	}
	return image, nil
}
