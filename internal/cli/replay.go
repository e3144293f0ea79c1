package cli

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DirkWillem/HAL2/internal/harness"
	"github.com/DirkWillem/HAL2/internal/store"
	"github.com/DirkWillem/HAL2/internal/trace"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Bench    BenchFlags
	Database string
	RunID    string
}

// ReplayResult holds the replay result for a single run.
type ReplayResult struct {
	RunID         string `json:"run_id"`
	Scenario      string `json:"scenario"`
	StoredEvents  int    `json:"stored_events"`
	ReplayEvents  int    `json:"replay_events"`
	Deterministic bool   `json:"deterministic"`
	// FirstDifference is the seq of the first differing event, 0 if none.
	FirstDifference int64 `json:"first_difference,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario>",
		Short: "Re-run a scenario and verify it reproduces a stored run",
		Long: `Run a scenario again under the run ID of a stored run and compare the
two traces byte for byte.

Virtual time makes a run a function of the engine module and the scenario,
so a difference means one of them changed or the firmware is not
deterministic.

Exit codes:
  0 - The traces are identical
  1 - The traces differ
  2 - Command error (run not found, engine not loadable, etc.)

Examples:
  silbench replay --db runs.db --run 0193c1f2-... --engine build/firmware.wasm scenarios/uart_echo.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	opts.Bench.register(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "stored run to reproduce (required)")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runReplay(opts *ReplayOptions, scenarioFile string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	stored, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		return WrapExitError(ExitCommandError, "no such run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if scenario.Name != stored.Scenario {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("run %s is of scenario %q, not %q", opts.RunID, stored.Scenario, scenario.Name))
	}
	scenario.RunID = stored.RunID

	bench, err := openBench(cmd, opts.RootOptions, opts.Bench)
	if err != nil {
		return err
	}
	defer bench.Close(ctx)

	f.VerboseLog("Replaying %s (%d stored events)", stored.RunID, len(stored.Events))
	replayed, err := harness.Run(scenario, bench.RunOptions())
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	result, err := compareTraces(stored, replayed.Trace)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compare traces", err)
	}

	if f.JSON() {
		if err := f.Result(result.Deterministic, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "%s %s  %s\n", f.Mark(result.Deterministic), result.Scenario, result.RunID)
		fmt.Fprintf(f.Writer, "  stored %d events, replayed %d\n", result.StoredEvents, result.ReplayEvents)
		if result.FirstDifference > 0 {
			fmt.Fprintf(f.Writer, "  first difference at event %d\n", result.FirstDifference)
		}
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "replay differs from stored run")
	}
	return nil
}

// compareTraces compares canonical encodings of both traces and locates the
// first differing event.
func compareTraces(stored, replayed trace.Trace) (ReplayResult, error) {
	result := ReplayResult{
		RunID:        stored.RunID,
		Scenario:     stored.Scenario,
		StoredEvents: len(stored.Events),
		ReplayEvents: len(replayed.Events),
	}

	a, err := trace.MarshalTrace(stored)
	if err != nil {
		return result, err
	}
	b, err := trace.MarshalTrace(replayed)
	if err != nil {
		return result, err
	}
	result.Deterministic = bytes.Equal(a, b)
	if result.Deterministic {
		return result, nil
	}

	n := min(len(stored.Events), len(replayed.Events))
	for i := range n {
		ha, err := stored.Events[i].Hash()
		if err != nil {
			return result, err
		}
		hb, err := replayed.Events[i].Hash()
		if err != nil {
			return result, err
		}
		if ha != hb {
			result.FirstDifference = stored.Events[i].Seq
			return result, nil
		}
	}
	if len(stored.Events) != len(replayed.Events) {
		result.FirstDifference = int64(n + 1)
	}
	return result, nil
}
