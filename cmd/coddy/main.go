package main

import (
	"fmt"
	"os"

	"coddy/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		code := cli.ExitCode(err)
		if code != cli.ExitRestart {
			fmt.Fprintln(os.Stderr, "coddy:", err)
		}
		os.Exit(code)
	}
}
