package modpatch

import (
	"encoding/binary"
	"fmt"
)

// VTableHook records one replaced slot of a virtual dispatch table.
type VTableHook struct {
	Table       uintptr
	Index       int
	Original    uintptr
	Replacement uintptr
}

// SlotAddr returns the address of slot index in the table at table.
func SlotAddr(table uintptr, index int, w Width) uintptr {
	return table + uintptr(index*w.PtrSize())
}

// HookSlot replaces slot index of the table at table with replacement and
// returns the hook, including the pointer that was there before so the
// replacement can still call the method it replaced.
func HookSlot(mem Memory, table uintptr, index int, w Width, replacement uintptr) (*VTableHook, error) {
	addr := SlotAddr(table, index, w)

	current, err := mem.Read(addr, w.PtrSize())
	if err != nil {
		return nil, fmt.Errorf("reading vtable slot %d at %#x: %w", index, addr, err)
	}

	hook := &VTableHook{
		Table:       table,
		Index:       index,
		Replacement: replacement,
	}

	buf := make([]byte, w.PtrSize())
	switch w {
	case Width32:
		hook.Original = uintptr(binary.LittleEndian.Uint32(current))
		if uint64(replacement) > 0xffffffff {
			return nil, fmt.Errorf("vtable slot %d: %#x: %w", index, replacement, errAddressTooWide)
		}
		binary.LittleEndian.PutUint32(buf, uint32(replacement))
	case Width64:
		hook.Original = uintptr(binary.LittleEndian.Uint64(current))
		binary.LittleEndian.PutUint64(buf, uint64(replacement))
	default:
		return nil, fmt.Errorf("unsupported width %v", w)
	}

	if err := mem.Write(addr, buf); err != nil {
		return nil, fmt.Errorf("writing vtable slot %d at %#x: %w", index, addr, err)
	}
	return hook, nil
}
