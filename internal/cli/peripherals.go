package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DirkWillem/HAL2/internal/session"
	"github.com/DirkWillem/HAL2/internal/sim"
)

// PeripheralList maps each peripheral class to the names the engine exposes.
type PeripheralList struct {
	GPIO      []string `json:"gpio"`
	UART      []string `json:"uart"`
	SPIMaster []string `json:"spi"`
}

func (l *PeripheralList) set(kind sim.Kind, names []string) {
	switch kind {
	case sim.KindGPIO:
		l.GPIO = names
	case sim.KindUART:
		l.UART = names
	case sim.KindSPIMaster:
		l.SPIMaster = names
	}
}

func (l *PeripheralList) names(kind sim.Kind) []string {
	switch kind {
	case sim.KindGPIO:
		return l.GPIO
	case sim.KindUART:
		return l.UART
	case sim.KindSPIMaster:
		return l.SPIMaster
	}
	return nil
}

// NewPeripheralsCommand creates the peripherals command.
func NewPeripheralsCommand(rootOpts *RootOptions) *cobra.Command {
	var flags BenchFlags

	cmd := &cobra.Command{
		Use:   "peripherals",
		Short: "List the peripherals an engine exposes",
		Long: `Start the engine, list its GPIO, UART and SPI master peripherals by
name, and shut it down again. Useful when writing scenarios and the
peripherals section of a bench file.

Examples:
  silbench peripherals --engine build/firmware.wasm
  silbench peripherals --config bench.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeripherals(rootOpts, flags, cmd)
		},
	}

	flags.register(cmd)

	return cmd
}

func runPeripherals(opts *RootOptions, flags BenchFlags, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	bench, err := openBench(cmd, opts, flags)
	if err != nil {
		return err
	}
	defer bench.Close(commandContext(cmd))

	list, err := listPeripherals(bench)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list peripherals", err)
	}

	if f.JSON() {
		return f.Success(list)
	}
	for _, kind := range sim.Kinds {
		line := f.Styles.Dim.Render("(none)")
		if names := list.names(kind); len(names) > 0 {
			line = strings.Join(names, ", ")
		}
		fmt.Fprintf(f.Writer, "%s %s\n", f.Styles.Title.Render(fmt.Sprintf("%-11s", kind.String()+":")), line)
	}
	return nil
}

// listPeripherals opens a session on a fresh engine and reads every name.
// The bench's expected peripherals are not enforced.
func listPeripherals(bench *Bench) (list PeripheralList, err error) {
	eng, err := bench.NewEngine()
	if err != nil {
		return list, err
	}
	sess, err := session.Open(eng, session.Options{ShutdownTimeout: bench.Config.ShutdownTimeout})
	if err != nil {
		if c, ok := eng.(io.Closer); ok {
			_ = c.Close()
		}
		return list, err
	}
	defer func() {
		if closeErr := sess.Close(); err == nil {
			err = closeErr
		}
		if c, ok := eng.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	for _, kind := range sim.Kinds {
		names, err := sess.Peripherals(kind)
		if err != nil {
			return list, err
		}
		list.set(kind, names)
	}
	return list, nil
}
