package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DirkWillem/HAL2/internal/harness"
	"github.com/DirkWillem/HAL2/internal/sim"
	"github.com/DirkWillem/HAL2/internal/store"
	"github.com/DirkWillem/HAL2/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Bench    BenchFlags
	Database string // optional trace store
	Update   bool   // regenerate golden files
	Filter   string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	RunID  string   `json:"run_id,omitempty"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// RunResult holds the overall result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenarios>",
		Short: "Run test scenarios against the engine",
		Long: `Run scenario files against a fresh engine instance each.

<scenarios> is a scenario file or a directory searched for .yaml/.yml files.
When golden/<name>.golden exists next to a scenario, the run trace must
match it byte for byte. With --db every run trace is stored.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, engine module not loadable, etc.)

Examples:
  silbench run --engine build/firmware.wasm ./scenarios
  silbench run --config bench.cue ./scenarios --filter "uart_*"
  silbench run --config bench.cue ./scenarios --update
  silbench run --config bench.cue ./scenarios --db runs.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	opts.Bench.register(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "store run traces in this SQLite database")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	files, err := findScenarioFiles(path, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	bench, err := openBench(cmd, opts.RootOptions, opts.Bench)
	if err != nil {
		return err
	}
	defer bench.Close(commandContext(cmd))

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				sim.Logger().Error("error closing database", zap.Error(closeErr))
			}
		}()
	}

	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		res := runScenario(opts, bench, st, file, cmd)
		if !f.JSON() {
			printScenarioResult(f, res)
		}
		result.Scenarios = append(result.Scenarios, res)
		if res.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if f.JSON() {
		if err := f.Result(result.Failed == 0, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer)
		fmt.Fprintf(f.Writer, "%s %d passed, %d failed, %d total\n",
			f.Styles.Title.Render("Summary:"), result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// runScenario executes a single scenario, checks its golden file and stores
// the trace.
func runScenario(opts *RunOptions, bench *Bench, st *store.Store, file string, cmd *cobra.Command) ScenarioResult {
	res := ScenarioResult{Name: filepath.Base(file), File: file}
	fail := func(format string, args ...any) ScenarioResult {
		res.Pass = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
		return res
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	res.Name = scenario.Name

	run, err := harness.Run(scenario, bench.RunOptions())
	if err != nil {
		return fail("execution failed: %v", err)
	}
	res.RunID = run.Trace.RunID
	res.Pass = run.Pass
	res.Errors = run.Errors

	if st != nil {
		if err := st.WriteRun(commandContext(cmd), run.Trace); err != nil {
			return fail("failed to store trace: %v", err)
		}
	}

	goldenPath := goldenFilePath(file)
	if opts.Update {
		if err := writeGolden(goldenPath, scenario, run.Trace); err != nil {
			return fail("failed to update golden file: %v", err)
		}
		return res
	}

	match, err := compareGolden(goldenPath, scenario, run.Trace)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No golden file: the scenario's own expectations decide.
	case err != nil:
		return fail("golden comparison failed: %v", err)
	case !match:
		return fail("trace does not match %s (run with --update to regenerate)", goldenPath)
	}
	return res
}

func printScenarioResult(f *OutputFormatter, res ScenarioResult) {
	fmt.Fprintf(f.Writer, "%s %s\n", f.Mark(res.Pass), res.Name)
	for _, e := range res.Errors {
		fmt.Fprintf(f.Writer, "  %s\n", e)
	}
	if res.RunID != "" {
		f.VerboseLog("  run %s", res.RunID)
	}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// goldenSnapshot is the canonical trace with the run ID blanked unless the
// scenario pins one, so generated IDs do not break the comparison.
func goldenSnapshot(scenario *harness.Scenario, t trace.Trace) ([]byte, error) {
	if scenario.RunID == "" {
		t.RunID = ""
	}
	return trace.MarshalTrace(t)
}

// writeGolden writes the current trace as the golden file.
func writeGolden(path string, scenario *harness.Scenario, t trace.Trace) error {
	data, err := goldenSnapshot(scenario, t)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// compareGolden compares the trace against the golden file. The error wraps
// os.ErrNotExist when there is none.
func compareGolden(path string, scenario *harness.Scenario, t trace.Trace) (bool, error) {
	golden, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	current, err := goldenSnapshot(scenario, t)
	if err != nil {
		return false, fmt.Errorf("failed to marshal current trace: %w", err)
	}
	return bytes.Equal(golden, current), nil
}
