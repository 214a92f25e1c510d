package modpatch

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble returns a listing of code as if it were located at addr. Bytes
// that don't decode are listed one at a time as "?".
func Disassemble(code []byte, addr uintptr, w Width) (string, error) {
	if w != Width32 && w != Width64 {
		return "", fmt.Errorf("unsupported width %v", w)
	}

	var buf bytes.Buffer
	for i := 0; i < len(code); {
		pc := addr + uintptr(i)

		instruction, err := x86asm.Decode(code[i:], int(w))
		if err != nil {
			fmt.Fprintf(&buf, "0x%08x\t%-20s\t?\n", pc, hex.EncodeToString(code[i:i+1]))
			i++
			continue
		}

		asm := x86asm.IntelSyntax(instruction, uint64(pc), nil)
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", pc, hex.EncodeToString(code[i:i+instruction.Len]), asm)
		i += instruction.Len
	}

	return buf.String(), nil
}
