package modpatch

import (
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"
)

// UnsupportedVersionError is returned by the gate for any build it will not
// patch.
type UnsupportedVersionError struct {
	Module string
	Build  BuildID
	Reason string

	// Unreadable is set when no build could be read from the module. Build
	// is meaningless then.
	Unreadable bool
}

func (e *UnsupportedVersionError) Error() string {
	if e.Unreadable {
		return fmt.Sprintf("%s: build unreadable: %s", e.Module, e.Reason)
	}
	return fmt.Sprintf("%s: unsupported build %v: %s", e.Module, e.Build, e.Reason)
}

func (e *UnsupportedVersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

// Gate decides which builds may be patched. Only builds listed as supported
// pass; some known builds carry a specific reason for being refused.
type Gate struct {
	supported map[uint32]bool
	rejected  map[uint32]string
}

// NewGate returns a gate passing the supported builds. rejected maps known
// builds to the reason they are refused.
func NewGate(supported []uint32, rejected map[uint32]string) *Gate {
	g := &Gate{
		supported: make(map[uint32]bool, len(supported)),
		rejected:  make(map[uint32]string, len(rejected)),
	}
	for _, b := range supported {
		g.supported[b] = true
	}
	for b, reason := range rejected {
		g.rejected[b] = reason
	}
	return g
}

type gateTable struct {
	Supported []uint32 `yaml:"supported"`
	Rejected  []struct {
		Builds []uint32 `yaml:"builds"`
		Reason string   `yaml:"reason"`
	} `yaml:"rejected"`
}

// GateFile is the table file LoadGate reads.
const GateFile = "builds.yaml"

// LoadGate reads the gate table from fsys.
func LoadGate(fsys fs.FS) (*Gate, error) {
	data, err := fs.ReadFile(fsys, GateFile)
	if err != nil {
		return nil, err
	}

	var table gateTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("%s: %w", GateFile, err)
	}

	rejected := map[uint32]string{}
	for _, r := range table.Rejected {
		for _, b := range r.Builds {
			rejected[b] = r.Reason
		}
	}
	for _, b := range table.Supported {
		if _, ok := rejected[b]; ok {
			return nil, fmt.Errorf("%s: build %d is both supported and rejected", GateFile, b)
		}
	}

	return NewGate(table.Supported, rejected), nil
}

// Check returns nil if id may be patched with code of width w.
func (g *Gate) Check(module string, id BuildID, w Width) error {
	if reason, ok := g.rejected[id.Build]; ok {
		return &UnsupportedVersionError{Module: module, Build: id, Reason: reason}
	}
	if !g.supported[id.Build] {
		return &UnsupportedVersionError{Module: module, Build: id, Reason: fmt.Sprintf("unknown build %d", id.Build)}
	}
	if id.Width != w {
		return &UnsupportedVersionError{
			Module: module,
			Build:  id,
			Reason: fmt.Sprintf("%v module cannot be patched with %v code", id.Width, w),
		}
	}
	return nil
}

// Verify reads the build of m and checks it. On success m moves to
// VersionVerified and remembers its build. Nothing is written either way.
func (g *Gate) Verify(r Reader, m *Module, w Width) (BuildID, error) {
	if m.state != Loaded {
		return BuildID{}, fmt.Errorf("%w: %s is %v, want %v", ErrInvalidTransition, m.Name, m.state, Loaded)
	}

	id, _, err := readVersion(r, m)
	if err != nil {
		return BuildID{}, &UnsupportedVersionError{Module: m.Name, Reason: err.Error(), Unreadable: true}
	}

	if err := g.Check(m.Name, id, w); err != nil {
		return id, err
	}

	m.build = id
	return id, m.advance(VersionVerified)
}
