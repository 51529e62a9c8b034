package main

import (
	"errors"
	"os"

	"github.com/jgoldverg/xdccget/cli"
	"github.com/jgoldverg/xdccget/pkg/xdcc"
	"github.com/pterm/pterm"
)

const (
	exitFailure   = 1
	exitCancelled = 130
)

func main() {
	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, xdcc.ErrUserCancelled) {
			pterm.Warning.Println("interrupted by user, partial downloads were kept")
			os.Exit(exitCancelled)
		}
		pterm.Error.Printfln("error: %v", err)
		os.Exit(exitFailure)
	}
}
