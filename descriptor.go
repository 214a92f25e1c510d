package modpatch

import (
	"errors"
	"fmt"
)

// Kind selects what a Descriptor does at its offset.
type Kind int

const (
	// InlineCall overwrites code with a call to a replacement function.
	InlineCall Kind = iota + 1
	// InlineJump overwrites code with a jump to a replacement function.
	InlineJump
	// NopFill overwrites code with no-ops.
	NopFill
	// VTableSlot overwrites one pointer in a virtual dispatch table.
	VTableSlot
)

var kindNames = map[Kind]string{
	InlineCall: "inline-call",
	InlineJump: "inline-jump",
	NopFill:    "nop-fill",
	VTableSlot: "vtable-slot",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown patch kind %q", text)
}

// Descriptor is one entry of a patch table.
//
// Inline kinds write Template (or the encoder's call/jump when Template is
// empty) at Offset and pad the rest of Footprint with no-ops. VTableSlot
// treats Offset as the start of a table and replaces the pointer at Index.
type Descriptor struct {
	Name      string `yaml:"name"`
	Kind      Kind   `yaml:"kind"`
	Offset    Offset `yaml:"offset"`
	Footprint int    `yaml:"footprint"`

	// Template is the exact code for the site. The replacement address is
	// stored at Slot.
	Template Hex `yaml:"template"`
	Slot     int `yaml:"slot"`

	// Near uses a rel32 CALL/JMP computed from the site instead of an
	// absolute load.
	Near bool `yaml:"near"`

	Index int `yaml:"index"`

	// Target names the replacement function.
	Target string `yaml:"target"`

	// Expect, when set, must match the bytes at Offset before anything is
	// written.
	Expect Hex `yaml:"expect"`

	// Feature names the optional group this patch belongs to.
	Feature string `yaml:"feature"`
}

// Validate checks the descriptor against the encoder it will be applied
// with. Every problem is reported, not only the first.
func (d *Descriptor) Validate(enc Encoder) error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("missing name"))
	}

	switch d.Kind {
	case InlineCall, InlineJump:
		if d.Target == "" {
			errs = append(errs, errors.New("missing target"))
		}
		if d.Index != 0 {
			errs = append(errs, errors.New("index only applies to vtable-slot"))
		}
		if d.Slot != 0 && len(d.Template) == 0 {
			errs = append(errs, errors.New("slot without a template"))
		}
		size, err := d.codeSize(enc)
		if err != nil {
			errs = append(errs, err)
		} else if size > d.Footprint {
			errs = append(errs, fmt.Errorf("%w: %d byte code in %d byte footprint", ErrFootprintOverflow, size, d.Footprint))
		}
	case NopFill:
		if d.Footprint <= 0 {
			errs = append(errs, fmt.Errorf("footprint must be positive, got %d", d.Footprint))
		}
		if d.Target != "" || len(d.Template) > 0 || d.Slot != 0 || d.Near || d.Index != 0 {
			errs = append(errs, errors.New("nop-fill takes only a footprint"))
		}
	case VTableSlot:
		if d.Target == "" {
			errs = append(errs, errors.New("missing target"))
		}
		if d.Index < 0 {
			errs = append(errs, fmt.Errorf("negative slot index %d", d.Index))
		}
		if len(d.Template) > 0 || d.Slot != 0 || d.Near {
			errs = append(errs, errors.New("vtable-slot takes no template, slot or near"))
		}
		if d.Footprint != 0 && d.Footprint != enc.Width().PtrSize() {
			errs = append(errs, fmt.Errorf("%w: vtable slot is %d bytes, footprint says %d", ErrFootprintOverflow, enc.Width().PtrSize(), d.Footprint))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kind %v", d.Kind))
	}

	if len(d.Expect) > d.size(enc) {
		errs = append(errs, fmt.Errorf("%w: expect is %d bytes, footprint %d", ErrFootprintOverflow, len(d.Expect), d.size(enc)))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", d.label(), err)
	}
	return nil
}

// codeSize is the length of the code an inline descriptor writes before
// padding.
func (d *Descriptor) codeSize(enc Encoder) (int, error) {
	switch {
	case len(d.Template) > 0:
		if d.Near {
			return 0, errors.New("near branches are generated, not templated")
		}
		if err := checkSlot(d.Template, d.Slot, enc.Width()); err != nil {
			return 0, err
		}
		return len(d.Template), nil
	case d.Near:
		return nearBranchSize, nil
	default:
		code, err := enc.Call(0)
		return len(code), err
	}
}

// size is the number of bytes the descriptor touches.
func (d *Descriptor) size(enc Encoder) int {
	if d.Kind == VTableSlot {
		return enc.Width().PtrSize()
	}
	return d.Footprint
}

func (d *Descriptor) label() string {
	if d.Name == "" {
		return fmt.Sprintf("%v@%v", d.Kind, d.Offset)
	}
	return d.Name
}
