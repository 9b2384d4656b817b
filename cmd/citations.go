package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/brenner/internal/citation"
)

// CitationsCommand returns the command that resolves §-anchors in text
func CitationsCommand() *cli.Command {
	return &cli.Command{
		Name:      "citations",
		Usage:     "Extract transcript anchors from text",
		ArgsUsage: "TEXT...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "base",
				Usage: "Link base for section targets",
				Value: citation.DefaultBase,
			},
		},
		Action: func(c *cli.Context) error {
			text := strings.Join(c.Args().Slice(), " ")
			anchors := citation.Extract(text)
			if len(anchors) == 0 {
				fmt.Fprintln(c.App.Writer, "No anchors found")
				return nil
			}

			formatted := citation.Format(anchors)
			fmt.Fprintln(c.App.Writer, formatted)
			for _, link := range citation.BuildLinks(strings.Split(formatted, ", "), c.String("base")) {
				fmt.Fprintf(c.App.Writer, "  %s -> %s\n", link.Label, link.Target)
			}
			return nil
		},
	}
}
