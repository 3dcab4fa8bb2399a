package main

import (
	"os"

	"github.com/brsampler/brsampler/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
