package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/config"
	"github.com/DirkWillem/HAL2/internal/harness"
	"github.com/DirkWillem/HAL2/internal/sim"
	"github.com/DirkWillem/HAL2/internal/wasmengine"
)

// BenchFlags selects the bench configuration and engine module.
type BenchFlags struct {
	Config string
	Engine string
}

func (f *BenchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Config, "config", "c", "", "bench configuration file (CUE)")
	cmd.Flags().StringVarP(&f.Engine, "engine", "e", "", "engine module (.wasm), overrides the configuration")
}

// LoadBench loads the bench configuration. An empty path yields the defaults;
// a non-empty engine path overrides the configured one.
func LoadBench(f BenchFlags) (*config.Bench, error) {
	b := config.Default()
	if f.Config != "" {
		var err error
		b, err = config.Load(f.Config)
		if err != nil {
			return nil, err
		}
	}
	if f.Engine != "" {
		b.Engine = f.Engine
	}
	return b, nil
}

// Bench is a configuration with its engine module compiled.
type Bench struct {
	Config *config.Bench

	factory harness.EngineFactory
	module  *wasmengine.Module
}

// OpenBench compiles the configured engine module. A non-nil override is used
// instead of the module, which then need not exist.
func OpenBench(ctx context.Context, cfg *config.Bench, override harness.EngineFactory, firmwareOut io.Writer) (*Bench, error) {
	if override != nil {
		return &Bench{Config: cfg, factory: override}, nil
	}
	if cfg.Engine == "" {
		return nil, NewExitError(ExitCommandError, "no engine module configured (use --engine or set engine in the bench file)")
	}

	wasm, err := os.ReadFile(cfg.Engine)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read engine module", err)
	}
	mod, err := wasmengine.Compile(ctx, wasm, wasmengine.Options{Stdout: firmwareOut, Stderr: firmwareOut})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load engine module", err)
	}
	sim.Logger().Debug("engine module compiled", zap.String("path", cfg.Engine), zap.Int("bytes", len(wasm)))

	b := &Bench{Config: cfg, module: mod}
	b.factory = func() (sim.Engine, error) {
		e, err := mod.Instantiate(ctx)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	return b, nil
}

// RunOptions returns harness options for one scenario run.
func (b *Bench) RunOptions() harness.Options {
	return harness.OptionsFromBench(b.Config, b.factory)
}

// NewEngine creates a fresh engine instance.
func (b *Bench) NewEngine() (sim.Engine, error) {
	return b.factory()
}

// Close releases the compiled module.
func (b *Bench) Close(ctx context.Context) error {
	if b.module == nil {
		return nil
	}
	return b.module.Close(ctx)
}

// openBench loads configuration and engine for a command.
func openBench(cmd *cobra.Command, root *RootOptions, flags BenchFlags) (*Bench, error) {
	cfg, err := LoadBench(flags)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load bench configuration", err)
	}
	return OpenBench(commandContext(cmd), cfg, root.Engine, cmd.ErrOrStderr())
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// findScenarioFiles returns the YAML files at path: the file itself or every
// .yaml/.yml file below a directory, sorted. A non-empty filter is matched
// against the file name without extension.
func findScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, p)
		return nil
	})
	return files, err
}
