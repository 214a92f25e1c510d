package modpatch

import (
	"encoding/binary"
	"fmt"
	"math"
)

const nearBranchSize = 5 // 1 byte opcode + 4 byte displacement

// NearCall encodes CALL rel32 placed at site.
func NearCall(site, dest uintptr) ([]byte, error) {
	return nearBranch(opcodeCALLrel, site, dest)
}

// NearJump encodes JMP rel32 placed at site.
func NearJump(site, dest uintptr) ([]byte, error) {
	return nearBranch(opcodeJMPrel, site, dest)
}

func nearBranch(opcode byte, site, dest uintptr) ([]byte, error) {
	// The displacement is relative to the end of the instruction.
	src := int64(site) + nearBranchSize

	diff := int64(dest) - src
	if diff < math.MinInt32 || diff > math.MaxInt32 {
		return nil, fmt.Errorf("rel32 target out of range: %#x is %d bytes from %#x", dest, diff, site)
	}

	buf := make([]byte, nearBranchSize)
	buf[0] = opcode
	binary.LittleEndian.PutUint32(buf[1:], uint32(int32(diff)))
	return buf, nil
}
