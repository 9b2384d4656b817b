package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/brenner/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:     "brenner",
		Usage:    "Compile multi-agent research threads into versioned artifacts",
		Version:  version,
		Flags:    cmd.GlobalFlags(),
		Commands: cmd.Commands(),
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
