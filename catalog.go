package modpatch

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var embeddedTables embed.FS

// DefaultTables returns the patch tables compiled into the package.
func DefaultTables() fs.FS {
	sub, err := fs.Sub(embeddedTables, "tables")
	if err != nil {
		panic(err)
	}
	return sub
}

// Table is every patch for one build: module file name to the ordered list
// of descriptors applied to it.
type Table struct {
	Build    uint32                  `yaml:"build"`
	Arch     Width                   `yaml:"arch"`
	Features map[string]bool         `yaml:"features"`
	Modules  map[string][]Descriptor `yaml:"modules"`
}

// ID returns the build the table applies to.
func (t *Table) ID() BuildID {
	return BuildID{Build: t.Build, Width: t.Arch}
}

// Catalog holds the validated patch tables, one per build.
type Catalog struct {
	tables map[BuildID]*Table
}

func NewCatalog() *Catalog {
	return &Catalog{tables: map[BuildID]*Table{}}
}

// LoadCatalog reads every table in fsys except the gate table.
func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}

	c := NewCatalog()
	for _, name := range names {
		if name == GateFile {
			continue
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		var t Table
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := c.Register(&t); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return c, nil
}

// Register validates t and adds it. A table that fails validation is not
// added at all.
func (c *Catalog) Register(t *Table) error {
	enc, err := NewEncoder(t.Arch)
	if err != nil {
		return err
	}

	id := t.ID()
	if _, dup := c.tables[id]; dup {
		return fmt.Errorf("build %v registered twice", id)
	}

	var errs []error
	modules := make(map[string][]Descriptor, len(t.Modules))
	for module, descs := range t.Modules {
		key := strings.ToLower(module)
		if _, dup := modules[key]; dup {
			errs = append(errs, fmt.Errorf("%s: listed twice", module))
			continue
		}

		names := map[string]bool{}
		for i := range descs {
			d := &descs[i]
			if err := d.Validate(enc); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", module, err))
			}
			if names[d.Name] {
				errs = append(errs, fmt.Errorf("%s: %s: duplicate name", module, d.Name))
			}
			names[d.Name] = true
			if _, ok := t.Features[d.Feature]; d.Feature != "" && !ok {
				errs = append(errs, fmt.Errorf("%s: %s: undeclared feature %q", module, d.Name, d.Feature))
			}
		}
		modules[key] = slices.Clone(descs)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("build %v: %w", id, err)
	}

	c.tables[id] = &Table{
		Build:    t.Build,
		Arch:     t.Arch,
		Features: maps.Clone(t.Features),
		Modules:  modules,
	}
	return nil
}

// Lookup returns the descriptors for module in build id, in the order they
// are applied. A build without a table is an error; a module the table
// doesn't mention has nothing to patch.
func (c *Catalog) Lookup(id BuildID, module string) ([]Descriptor, error) {
	t, ok := c.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w for build %v", ErrNoDescriptors, id)
	}
	return t.Modules[strings.ToLower(module)], nil
}

// Builds lists the registered builds.
func (c *Catalog) Builds() []BuildID {
	ids := make([]BuildID, 0, len(c.tables))
	for id := range c.tables {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b BuildID) int {
		if a.Build != b.Build {
			return int(a.Build) - int(b.Build)
		}
		return int(a.Width) - int(b.Width)
	})
	return ids
}

// Targets lists every replacement name any table refers to.
func (c *Catalog) Targets() []string {
	var targets []string
	for _, t := range c.tables {
		for _, descs := range t.Modules {
			for _, d := range descs {
				if d.Target != "" && !slices.Contains(targets, d.Target) {
					targets = append(targets, d.Target)
				}
			}
		}
	}
	slices.Sort(targets)
	return targets
}

// Replacements maps the target names used in tables to the addresses of the
// functions that replace them. Each function must follow the calling
// convention of the code it replaces.
type Replacements map[string]uintptr

// ApplyOptions is what Apply needs for one module. Nothing in it is kept
// after Apply returns.
type ApplyOptions struct {
	Encoder      Encoder
	Memory       Memory
	Replacements Replacements

	// Features turns optional patch groups on or off. Groups not listed
	// keep the table's default.
	Features map[string]bool

	Logger *zap.Logger
}

// Site is a range written by one descriptor.
type Site struct {
	Name string
	Kind Kind
	Addr uintptr
	Size int
}

// Result describes a patched module.
type Result struct {
	Module  *Module
	Build   BuildID
	Sites   []Site
	Skipped []string
	Hooks   map[string]*VTableHook
}

// Original returns the pointer a vtable-slot patch replaced.
func (r *Result) Original(name string) (uintptr, bool) {
	hook, ok := r.Hooks[name]
	if !ok {
		return 0, false
	}
	return hook.Original, true
}

// Apply writes every descriptor for m, in table order, and marks m Patched.
// Everything is resolved and encoded before the first write. The first
// failing write stops the sequence and leaves m Failed.
func (c *Catalog) Apply(m *Module, opts ApplyOptions) (*Result, error) {
	if m.state != VersionVerified {
		return nil, fmt.Errorf("%w: %s is %v, want %v", ErrInvalidTransition, m.Name, m.state, VersionVerified)
	}
	if opts.Encoder.Width() != m.build.Width {
		return nil, fmt.Errorf("%s: %v encoder for %v module", m.Name, opts.Encoder.Width(), m.build.Width)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger

	t, ok := c.tables[m.build]
	if !ok {
		return nil, fmt.Errorf("%s: %w for build %v", m.Name, ErrNoDescriptors, m.build)
	}

	result := &Result{
		Module: m,
		Build:  m.build,
		Hooks:  map[string]*VTableHook{},
	}

	var steps []*step
	for _, d := range t.Modules[strings.ToLower(m.Name)] {
		if !featureEnabled(t, opts.Features, d.Feature) {
			result.Skipped = append(result.Skipped, d.Name)
			continue
		}
		s, err := newStep(m, d, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", m.Name, d.Name, err)
		}
		steps = append(steps, s)
	}

	for _, s := range steps {
		if err := s.apply(opts, result); err != nil {
			m.fail()
			return nil, fmt.Errorf("%s: %s: %w", m.Name, s.desc.Name, err)
		}
		log.Debug("patched",
			zap.String("module", m.Name),
			zap.String("patch", s.desc.Name),
			zap.Stringer("kind", s.desc.Kind),
			zap.String("addr", fmt.Sprintf("%#x", s.site)),
			zap.Int("footprint", s.size),
		)
	}

	if err := m.advance(Patched); err != nil {
		return nil, err
	}
	return result, nil
}

func featureEnabled(t *Table, overrides map[string]bool, feature string) bool {
	if feature == "" {
		return true
	}
	if on, ok := overrides[feature]; ok {
		return on
	}
	return t.Features[feature]
}

// step is one descriptor, resolved against a module and ready to write.
type step struct {
	desc   Descriptor
	site   uintptr
	size   int
	target uintptr
	code   []byte
	pad    []byte
}

func newStep(m *Module, d Descriptor, opts ApplyOptions) (*step, error) {
	enc := opts.Encoder
	w := enc.Width()

	s := &step{
		desc: d,
		site: RVA(m.Base, d.Offset),
		size: d.size(enc),
	}
	if d.Kind == VTableSlot {
		s.site = SlotAddr(s.site, d.Index, w)
	}
	if !m.Contains(s.site, s.size) {
		return nil, fmt.Errorf("%#x+%d is outside the module", s.site, s.size)
	}

	if d.Target != "" {
		target, ok := opts.Replacements[d.Target]
		if !ok || target == 0 {
			return nil, fmt.Errorf("%w %q", ErrUnknownReplacement, d.Target)
		}
		s.target = target
	}

	var err error
	switch {
	case d.Kind == VTableSlot:
		return s, nil
	case d.Kind == NopFill:
		s.pad = enc.Nop(d.Footprint)
		return s, nil
	case len(d.Template) > 0:
		s.code = slices.Clone(d.Template)
		err = Embed(s.code, d.Slot, w, s.target)
	case d.Near && d.Kind == InlineCall:
		s.code, err = NearCall(s.site, s.target)
	case d.Near:
		s.code, err = NearJump(s.site, s.target)
	case d.Kind == InlineCall:
		s.code, err = enc.Call(s.target)
	default:
		s.code, err = enc.Jump(s.target)
	}
	if err != nil {
		return nil, err
	}
	if len(s.code) > d.Footprint {
		return nil, fmt.Errorf("%w: %d byte code in %d byte footprint", ErrFootprintOverflow, len(s.code), d.Footprint)
	}

	s.pad = enc.Nop(d.Footprint - len(s.code))
	return s, nil
}

func (s *step) apply(opts ApplyOptions, result *Result) error {
	mem := opts.Memory

	if len(s.desc.Expect) > 0 {
		current, err := mem.Read(s.site, len(s.desc.Expect))
		if err != nil {
			return err
		}
		if !bytes.Equal(current, s.desc.Expect) {
			if listing, err := Disassemble(current, s.site, opts.Encoder.Width()); err == nil {
				opts.Logger.Debug("unexpected code at patch site",
					zap.String("patch", s.desc.Name),
					zap.String("found", listing),
				)
			}
			return fmt.Errorf("%w at %#x: want %v, found %v", ErrSignatureMismatch, s.site, s.desc.Expect, Hex(current))
		}
	}

	if s.desc.Kind == VTableSlot {
		table := RVA(result.Module.Base, s.desc.Offset)
		hook, err := HookSlot(mem, table, s.desc.Index, opts.Encoder.Width(), s.target)
		if err != nil {
			return err
		}
		result.Hooks[s.desc.Name] = hook
	} else {
		if len(s.code) > 0 {
			if err := mem.Write(s.site, s.code); err != nil {
				return err
			}
		}
		if len(s.pad) > 0 {
			if err := mem.Write(s.site+uintptr(len(s.code)), s.pad); err != nil {
				return err
			}
		}
	}

	result.Sites = append(result.Sites, Site{
		Name: s.desc.Name,
		Kind: s.desc.Kind,
		Addr: s.site,
		Size: s.size,
	})
	return nil
}
