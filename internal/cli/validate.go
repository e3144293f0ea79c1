package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DirkWillem/HAL2/internal/config"
	"github.com/DirkWillem/HAL2/internal/harness"
)

// FileValidation is the validation outcome of one file.
type FileValidation struct {
	File  string `json:"file"`
	Kind  string `json:"kind"` // "scenario" | "config"
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate <scenarios>...",
		Short: "Validate scenario files and bench configuration",
		Long: `Parse and validate scenario files without running them.

Each argument is a scenario file or a directory searched for .yaml/.yml
files. With --config the bench configuration is checked against its schema
as well. Nothing is loaded into an engine.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, configPath, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "bench configuration file (CUE)")

	return cmd
}

func runValidate(opts *RootOptions, configPath string, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	result := ValidationResult{Valid: true, Files: []FileValidation{}}

	add := func(v FileValidation) {
		result.Files = append(result.Files, v)
		if !v.Valid {
			result.Valid = false
		}
	}

	if configPath != "" {
		v := FileValidation{File: configPath, Kind: "config", Valid: true}
		if _, err := config.Load(configPath); err != nil {
			v.Valid, v.Error = false, err.Error()
		}
		add(v)
	}

	for _, path := range paths {
		files, err := findScenarioFiles(path, "")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		f.VerboseLog("Found %d scenario file(s) in %s", len(files), path)
		for _, file := range files {
			v := FileValidation{File: file, Kind: "scenario", Valid: true}
			if _, err := harness.LoadScenario(file); err != nil {
				v.Valid, v.Error = false, err.Error()
			}
			add(v)
		}
	}

	if f.JSON() {
		if err := f.Result(result.Valid, result); err != nil {
			return err
		}
	} else {
		for _, v := range result.Files {
			fmt.Fprintf(f.Writer, "%s %s\n", f.Mark(v.Valid), v.File)
			if v.Error != "" {
				fmt.Fprintf(f.Writer, "  %s\n", v.Error)
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}
