package main

import (
	"fmt"
	"os"

	"github.com/roach88/forkharness/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "forkharness:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
