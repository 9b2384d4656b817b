package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/brenner/internal/artifact"
)

// ArtifactCommand returns the artifact command
func ArtifactCommand() *cli.Command {
	return &cli.Command{
		Name:  "artifact",
		Usage: "Inspect session artifacts",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Print the artifact of a session",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: json, yaml or markdown",
						Value:   "markdown",
					},
				},
				Action: runArtifactShow,
			},
			{
				Name:  "list",
				Usage: "List sessions that have an artifact",
				Action: func(c *cli.Context) error {
					env, err := loadEnvironment(c)
					if err != nil {
						return err
					}
					sessions, err := env.artifacts.List(c.Context)
					if err != nil {
						return err
					}
					for _, id := range sessions {
						fmt.Fprintln(c.App.Writer, id)
					}
					return nil
				},
			},
		},
	}
}

func runArtifactShow(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: session id")
	}
	env, err := loadEnvironment(c)
	if err != nil {
		return err
	}

	art, err := env.artifacts.Load(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	w := c.App.Writer
	switch strings.ToLower(c.String("format")) {
	case "json":
		return printJSON(w, art)
	case "yaml":
		out, err := artifact.ToYAML(art)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "markdown", "md":
		fmt.Fprint(w, artifact.RenderMarkdown(art, artifact.RenderOptions{AnchorBase: env.cfg.General.AnchorBase}))
		return nil
	default:
		return fmt.Errorf("unsupported format %q", c.String("format"))
	}
}
