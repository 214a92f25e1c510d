package modpatch

import "fmt"

// Offset is a relative virtual address: a distance from the load base of one
// module. It only means something for the build it was taken from.
type Offset uint32

func (o Offset) String() string {
	return fmt.Sprintf("0x%x", uint32(o))
}

// RVA converts an offset into an absolute address in the module loaded at
// base. The caller guarantees base is a mapped module.
func RVA(base uintptr, off Offset) uintptr {
	return base + uintptr(off)
}
