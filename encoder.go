package modpatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	opcodeNOP     = 0x90
	opcodeMOVimm  = 0xb8 // MOV imm, eAX (B8+r)
	opcodeFF      = 0xff // CALL/JMP r/m
	opcodeCALLrel = 0xe8 // CALL rel32
	opcodeJMPrel  = 0xe9 // JMP rel32

	prefixREXW = 0x48

	regModeDirect = 3
	registerAX    = 0
	extCALL       = 2 // FF /2
	extJMP        = 4 // FF /4
)

// Width is the address width of a module and of the code generated for it.
type Width int

const (
	Width32 Width = 32
	Width64 Width = 64
)

// PtrSize returns the size of an address in bytes.
func (w Width) PtrSize() int {
	return int(w) / 8
}

func (w Width) String() string {
	switch w {
	case Width32:
		return "x86"
	case Width64:
		return "x64"
	}
	return fmt.Sprintf("Width(%d)", int(w))
}

func (w *Width) UnmarshalText(text []byte) error {
	switch string(text) {
	case "x86", "386", "32":
		*w = Width32
	case "x64", "amd64", "64":
		*w = Width64
	default:
		return fmt.Errorf("unknown arch %q", text)
	}
	return nil
}

// Encoder generates the code written at patch sites.
//
// Call and Jump load the absolute target into the accumulator and branch
// through it, so any address in the module's address space can be reached.
// The address is placed at Slot() bytes into the returned code.
type Encoder interface {
	Width() Width
	Call(target uintptr) ([]byte, error)
	Jump(target uintptr) ([]byte, error)
	Nop(n int) []byte
	Slot() int
}

// X86 emits 32-bit code:
//
//	MOV EAX, imm32
//	CALL EAX / JMP EAX
var X86 Encoder = x86Encoder{}

// X64 emits 64-bit code:
//
//	MOV RAX, imm64
//	CALL RAX / JMP RAX
var X64 Encoder = x64Encoder{}

var errAddressTooWide = errors.New("address does not fit in a 32-bit slot")

// NewEncoder returns the encoder for w.
func NewEncoder(w Width) (Encoder, error) {
	switch w {
	case Width32:
		return X86, nil
	case Width64:
		return X64, nil
	}
	return nil, fmt.Errorf("no encoder for %v", w)
}

// NativeEncoder returns the encoder matching the architecture this binary
// was built for.
func NativeEncoder() (Encoder, error) {
	return NewEncoder(nativeWidth)
}

type x86Encoder struct{}

func (x86Encoder) Width() Width { return Width32 }
func (x86Encoder) Slot() int    { return 1 }

func (e x86Encoder) Call(target uintptr) ([]byte, error) {
	return e.branch(extCALL, target)
}

func (e x86Encoder) Jump(target uintptr) ([]byte, error) {
	return e.branch(extJMP, target)
}

func (x86Encoder) branch(ext byte, target uintptr) ([]byte, error) {
	if uint64(target) > math.MaxUint32 {
		return nil, fmt.Errorf("%#x: %w", target, errAddressTooWide)
	}

	buf := make([]byte, 7)
	buf[0] = opcodeMOVimm | registerAX
	binary.LittleEndian.PutUint32(buf[1:], uint32(target))
	buf[5] = opcodeFF
	buf[6] = regModeDirect<<6 | ext<<3 | registerAX
	return buf, nil
}

func (x86Encoder) Nop(n int) []byte {
	return nops(n)
}

type x64Encoder struct{}

func (x64Encoder) Width() Width { return Width64 }
func (x64Encoder) Slot() int    { return 2 }

func (e x64Encoder) Call(target uintptr) ([]byte, error) {
	return e.branch(extCALL, target), nil
}

func (e x64Encoder) Jump(target uintptr) ([]byte, error) {
	return e.branch(extJMP, target), nil
}

func (x64Encoder) branch(ext byte, target uintptr) []byte {
	buf := make([]byte, 12)
	buf[0] = prefixREXW
	buf[1] = opcodeMOVimm | registerAX
	binary.LittleEndian.PutUint64(buf[2:], uint64(target))
	buf[10] = opcodeFF
	buf[11] = regModeDirect<<6 | ext<<3 | registerAX
	return buf
}

func (x64Encoder) Nop(n int) []byte {
	return nops(n)
}

func nops(n int) []byte {
	if n <= 0 {
		return nil
	}
	return bytes.Repeat([]byte{opcodeNOP}, n)
}
