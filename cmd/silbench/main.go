// Command silbench runs software-in-the-loop test scenarios against firmware
// compiled into a WebAssembly simulation engine.
package main

import (
	"fmt"
	"os"

	"github.com/DirkWillem/HAL2/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
