package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/DirkWillem/HAL2/internal/store"
	"github.com/DirkWillem/HAL2/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Scenario string // optional - filter the run list
}

// RunListing is the output of trace without a run ID.
type RunListing struct {
	Runs []RunSummary `json:"runs"`
}

// RunSummary is one stored run.
type RunSummary struct {
	RunID     string `json:"run_id"`
	Scenario  string `json:"scenario"`
	Passed    bool   `json:"passed"`
	Events    int    `json:"events"`
	TraceHash string `json:"trace_hash"`
}

// TraceResult is the output of trace with a run ID.
type TraceResult struct {
	Trace trace.Trace    `json:"trace"`
	Steps map[string]int `json:"steps"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Inspect stored run traces",
		Long: `List the runs in a trace store, or print the events of one run.

Without a run ID every stored run is listed, optionally restricted to one
scenario. With a run ID the run's events are printed in order, each with the
virtual time in microseconds at which its step finished.

Examples:
  silbench trace --db runs.db
  silbench trace --db runs.db --scenario uart_echo
  silbench trace --db runs.db 0193c1f2-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runTraceShow(opts, args[0], cmd)
			}
			return runTraceList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "list runs of this scenario only")

	return cmd
}

func openStore(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runTraceList(opts *TraceOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(commandContext(cmd), opts.Scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	listing := RunListing{Runs: make([]RunSummary, 0, len(runs))}
	for _, r := range runs {
		listing.Runs = append(listing.Runs, RunSummary{
			RunID:     r.ID,
			Scenario:  r.Scenario,
			Passed:    r.Passed,
			Events:    r.EventCount,
			TraceHash: r.TraceHash,
		})
	}

	if f.JSON() {
		return f.Success(listing)
	}
	if len(listing.Runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs found.")
		return nil
	}
	for _, r := range listing.Runs {
		fmt.Fprintf(f.Writer, "%s %s  %s  %s\n",
			f.Mark(r.Passed), r.RunID, r.Scenario, f.Styles.Dim.Render(fmt.Sprintf("%d events", r.Events)))
	}
	return nil
}

func runTraceShow(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	t, err := st.ReadRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		if f.JSON() {
			_ = f.Error(ErrCodeStore, err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "no such run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	steps, err := st.StepCounts(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count steps", err)
	}

	if f.JSON() {
		return f.Success(TraceResult{Trace: t, Steps: steps})
	}
	return outputTraceText(f, t, steps)
}

func outputTraceText(f *OutputFormatter, t trace.Trace, steps map[string]int) error {
	w := f.Writer

	fmt.Fprintf(w, "%s %s  %s\n", f.Mark(t.Passed), f.Styles.Title.Render(t.Scenario), t.RunID)
	fmt.Fprintln(w)

	for _, ev := range t.Events {
		target := ""
		if ev.Target != "" {
			target = " " + ev.Target
		}
		fmt.Fprintf(w, "  %4d %12s  %s%s\n", ev.Seq, ev.At, ev.Step, target)
		if f.Verbose && len(ev.Fields) > 0 {
			for _, line := range fieldLines(ev.Fields) {
				fmt.Fprintf(w, "       %s\n", f.Styles.Dim.Render(line))
			}
		}
		if ev.Error != "" {
			fmt.Fprintf(w, "       %s\n", f.Styles.Fail.Render(ev.Error))
		}
	}

	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d events\n", f.Styles.Title.Render("Summary:"), len(t.Events))
	for _, name := range names {
		fmt.Fprintf(w, "  %-14s %d\n", name, steps[name])
	}
	return nil
}

// fieldLines renders event fields as sorted key=value lines.
func fieldLines(fields trace.Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return lines
}
