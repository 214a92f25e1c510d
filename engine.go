package modpatch

import (
	"fmt"
	"io/fs"

	"go.uber.org/zap"
)

// Loader maps a named module into the address space the engine patches.
// Errors wrap ErrModuleLoad.
type Loader interface {
	Load(name string) (*Module, error)
}

// Session is what the host provides for one patch run. The engine uses it
// only for the duration of the call it is passed to.
type Session struct {
	Replacements Replacements
	Features     map[string]bool
}

// Engine patches modules: it checks each build against Gate, then applies
// the Catalog's descriptors for it.
type Engine struct {
	Gate    *Gate
	Catalog *Catalog
	Encoder Encoder
	Memory  Memory

	// Logger receives gate decisions and per-patch details. Nil disables
	// logging.
	Logger *zap.Logger
}

// NewEngine returns an engine for the current process using the tables
// compiled into the package.
func NewEngine() (*Engine, error) {
	return NewEngineFS(DefaultTables())
}

// NewEngineFS is like NewEngine but reads tables from tables.
func NewEngineFS(tables fs.FS) (*Engine, error) {
	enc, err := NativeEncoder()
	if err != nil {
		return nil, err
	}
	gate, err := LoadGate(tables)
	if err != nil {
		return nil, err
	}
	catalog, err := LoadCatalog(tables)
	if err != nil {
		return nil, err
	}
	return &Engine{
		Gate:    gate,
		Catalog: catalog,
		Encoder: enc,
		Memory:  ProcessMemory{},
	}, nil
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Verify runs the gate on m without writing anything.
func (e *Engine) Verify(m *Module) error {
	id, err := e.Gate.Verify(e.Memory, m, e.Encoder.Width())
	if err != nil {
		e.logger().Info("build refused",
			zap.String("module", m.Name),
			zap.Stringer("build", id),
			zap.Error(err),
		)
		return err
	}
	e.logger().Info("build verified",
		zap.String("module", m.Name),
		zap.Stringer("build", id),
	)
	return nil
}

// Apply patches a verified module.
func (e *Engine) Apply(m *Module, s Session) (*Result, error) {
	return e.Catalog.Apply(m, ApplyOptions{
		Encoder:      e.Encoder,
		Memory:       e.Memory,
		Replacements: s.Replacements,
		Features:     s.Features,
		Logger:       e.logger(),
	})
}

// Patch verifies and patches one loaded module.
func (e *Engine) Patch(m *Module, s Session) (*Result, error) {
	if err := e.Verify(m); err != nil {
		return nil, err
	}
	return e.Apply(m, s)
}

// Launch loads every named module, verifies all of them, and only then
// patches them in order. A module that fails to load or verify means
// nothing is written to any module. The first error stops the run.
func (e *Engine) Launch(l Loader, names []string, s Session) ([]*Result, error) {
	modules := make([]*Module, 0, len(names))
	for _, name := range names {
		m, err := l.Load(name)
		if err != nil {
			return nil, err
		}
		e.logger().Debug("module loaded",
			zap.String("module", m.Name),
			zap.String("base", fmt.Sprintf("%#x", m.Base)),
			zap.Uint64("size", uint64(m.Size)),
		)
		modules = append(modules, m)
	}

	for _, m := range modules {
		if err := e.Verify(m); err != nil {
			return nil, err
		}
	}

	results := make([]*Result, 0, len(modules))
	for _, m := range modules {
		r, err := e.Apply(m, s)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
