package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DirkWillem/HAL2/internal/trace"
	"github.com/DirkWillem/HAL2/internal/waveform"
)

// AnalyzeResult is the analysis of an edge file.
type AnalyzeResult struct {
	Edges int                  `json:"edges"`
	Wave  *waveform.SquareWave `json:"wave,omitempty"`
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <edges.yaml>",
		Short: "Compute square-wave statistics from recorded edges",
		Long: `Analyze a list of timestamped GPIO edges as a square wave.

The file is a YAML list of edges, timestamps in microseconds:

  - {at: 0, edge: rising}
  - {at: 250, edge: falling}
  - {at: 1000, edge: rising}

Exit codes:
  0 - At least one full period was found
  1 - Too few edges for a full period
  2 - Command error (unreadable or malformed file)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runAnalyze(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	edges, err := loadEdges(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load edges", err)
	}

	result := AnalyzeResult{Edges: len(edges)}
	if w, ok := waveform.Analyze(edges); ok {
		result.Wave = &w
	}

	if f.JSON() {
		if err := f.Result(result.Wave != nil, result); err != nil {
			return err
		}
	} else {
		printWave(f, result)
	}

	if result.Wave == nil {
		return NewExitError(ExitFailure, fmt.Sprintf("%d edges contain no full period", len(edges)))
	}
	return nil
}

func loadEdges(path string) ([]waveform.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var edges []waveform.Event
	if err := yaml.Unmarshal(data, &edges); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return edges, nil
}

func printWave(f *OutputFormatter, r AnalyzeResult) {
	fmt.Fprintf(f.Writer, "%s %d\n", f.Styles.Title.Render(fmt.Sprintf("%-12s", "Edges:")), r.Edges)
	if r.Wave == nil {
		fmt.Fprintf(f.Writer, "%s\n", f.Styles.Fail.Render("no full period"))
		return
	}
	w := r.Wave
	rows := []struct{ label, value string }{
		{"Periods:", fmt.Sprint(w.FullPeriods)},
		{"Frequency:", trace.Float(w.MeanFrequency) + " Hz"},
		{"Period:", fmt.Sprintf("%s s (min %s, max %s)", trace.Float(w.MeanPeriod), trace.Float(w.MinPeriod), trace.Float(w.MaxPeriod))},
		{"Duty cycle:", fmt.Sprintf("%s (min %s, max %s)", trace.Float(w.MeanDutyCycle), trace.Float(w.MinDutyCycle), trace.Float(w.MaxDutyCycle))},
	}
	for _, row := range rows {
		fmt.Fprintf(f.Writer, "%s %s\n", f.Styles.Title.Render(fmt.Sprintf("%-12s", row.label)), row.value)
	}
}
