package main

import (
	"os"

	"github.com/pybuild/pybuild/pkg/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Errors are rendered where they are understood; here only the exit
		// code remains.
		os.Exit(1)
	}
}
