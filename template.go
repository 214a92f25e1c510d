package modpatch

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex is a byte string written in tables as space separated hex pairs:
//
//	template: 48 B8 00 00 00 00 00 00 00 00 FF D0
type Hex []byte

func (h *Hex) UnmarshalText(text []byte) error {
	buf, err := hex.DecodeString(strings.Join(strings.Fields(string(text)), ""))
	if err != nil {
		return fmt.Errorf("bad hex %q: %w", text, err)
	}
	*h = buf
	return nil
}

func (h Hex) String() string {
	var sb strings.Builder
	for i, b := range h {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// Embed stores addr as a little-endian pointer of width w at code[slot:].
func Embed(code []byte, slot int, w Width, addr uintptr) error {
	if err := checkSlot(code, slot, w); err != nil {
		return err
	}

	switch w {
	case Width32:
		if uint64(addr) > 0xffffffff {
			return fmt.Errorf("%#x: %w", addr, errAddressTooWide)
		}
		binary.LittleEndian.PutUint32(code[slot:], uint32(addr))
	case Width64:
		binary.LittleEndian.PutUint64(code[slot:], uint64(addr))
	}
	return nil
}

// Extract reads the pointer Embed stored at code[slot:].
func Extract(code []byte, slot int, w Width) (uintptr, error) {
	if err := checkSlot(code, slot, w); err != nil {
		return 0, err
	}

	if w == Width32 {
		return uintptr(binary.LittleEndian.Uint32(code[slot:])), nil
	}
	return uintptr(binary.LittleEndian.Uint64(code[slot:])), nil
}

func checkSlot(code []byte, slot int, w Width) error {
	if w != Width32 && w != Width64 {
		return fmt.Errorf("unsupported width %v", w)
	}
	if slot < 0 || slot+w.PtrSize() > len(code) {
		return fmt.Errorf("address slot %d (%d bytes) outside %d byte template", slot, w.PtrSize(), len(code))
	}
	return nil
}
