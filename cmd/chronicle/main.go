// Command chronicle is the command-line interface to a chronicle database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/chronicle/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
