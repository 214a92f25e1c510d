// Command modpatch runs the patch tables against a game directory without
// touching it: each module is mapped into private memory, checked against the
// build gate and patched there, and the patched sites are printed.
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pboyd/modpatch"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	dir     = pflag.StringP("dir", "d", ".", "directory holding the game modules")
	tables  = pflag.String("tables", "", "directory with patch tables (default: built-in tables)")
	modules = pflag.StringSliceP("modules", "m", []string{"CrySystem.dll", "Cry3DEngine.dll"}, "modules to patch, in order")
	enable  = pflag.StringSlice("enable", nil, "features to enable")
	disable = pflag.StringSlice("disable", nil, "features to disable")
	arch    = pflag.String("arch", "", "code width of the modules: x86 or x64 (default: this binary's)")
	disasm  = pflag.Bool("disasm", false, "disassemble every patched site")
	verbose = pflag.BoolP("verbose", "v", false, "log every patch")
)

func main() {
	pflag.Parse()

	logger := newLogger(*verbose)
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("patching failed", zap.Error(err))
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return logger
}

func run(logger *zap.Logger) error {
	var (
		engine *modpatch.Engine
		err    error
	)
	if *tables != "" {
		engine, err = modpatch.NewEngineFS(os.DirFS(*tables))
	} else {
		engine, err = modpatch.NewEngine()
	}
	if err != nil {
		return err
	}
	engine.Logger = logger

	if *arch != "" {
		var w modpatch.Width
		if err := w.UnmarshalText([]byte(*arch)); err != nil {
			return err
		}
		if engine.Encoder, err = modpatch.NewEncoder(w); err != nil {
			return err
		}
	}

	session := modpatch.Session{
		Replacements: placeholders(engine.Catalog.Targets()),
		Features:     map[string]bool{},
	}
	for _, f := range *enable {
		session.Features[f] = true
	}
	for _, f := range *disable {
		session.Features[f] = false
	}

	results, err := engine.Launch(&modpatch.ImageLoader{Dir: *dir}, *modules, session)
	if err != nil {
		return err
	}

	for _, r := range results {
		if err := report(engine, r); err != nil {
			return err
		}
		if err := r.Module.Release(); err != nil {
			return err
		}
	}
	return nil
}

// placeholders gives every replacement a distinct fake address that fits in
// 32 bits. The patched images are never executed.
func placeholders(targets []string) modpatch.Replacements {
	r := make(modpatch.Replacements, len(targets))
	for i, name := range targets {
		r[name] = uintptr(0x10000000 + i*0x10)
	}
	return r
}

func report(engine *modpatch.Engine, r *modpatch.Result) error {
	fmt.Printf("%s  build %v  %s\n", r.Module.Name, r.Build, humanize.Bytes(uint64(r.Module.Size)))

	for _, site := range r.Sites {
		fmt.Printf("  %-28s %-12v %#x  %d bytes", site.Name, site.Kind, site.Addr-r.Module.Base, site.Size)
		if orig, ok := r.Original(site.Name); ok {
			fmt.Printf("  was %#x", orig)
		}
		fmt.Println()

		if !*disasm || site.Kind == modpatch.VTableSlot {
			continue
		}
		code, err := engine.Memory.Read(site.Addr, site.Size)
		if err != nil {
			return err
		}
		listing, err := modpatch.Disassemble(code, site.Addr-r.Module.Base, r.Build.Width)
		if err != nil {
			return err
		}
		fmt.Print(listing)
	}

	for _, name := range r.Skipped {
		fmt.Printf("  %-28s skipped\n", name)
	}
	return nil
}
