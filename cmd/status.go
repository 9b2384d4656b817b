package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// StatusCommand returns the thread status command
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the derived status of a thread",
		ArgsUsage: "THREAD_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "summary",
				Aliases: []string{"s"},
				Usage:   "Print a human-readable summary instead of JSON",
			},
			&cli.StringFlag{
				Name:    "role",
				Aliases: []string{"r"},
				Usage:   "Only report whether the thread is waiting on `ROLE`",
			},
		},
		Action: runStatus,
	}
}

func runStatus(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: thread id")
	}
	env, err := loadEnvironment(c)
	if err != nil {
		return err
	}

	thread, err := env.messenger.ReadThread(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	w := c.App.Writer
	if role := c.String("role"); role != "" {
		if _, ok := env.projector.Registry().Role(role); !ok {
			return fmt.Errorf("unknown role %q", role)
		}
		if env.projector.IsWaitingForRole(*thread, role) {
			fmt.Fprintf(w, "waiting on %s\n", role)
		} else {
			fmt.Fprintf(w, "not waiting on %s\n", role)
		}
		return nil
	}
	if c.Bool("summary") {
		fmt.Fprint(w, env.projector.Summary(*thread))
		return nil
	}
	return printJSON(w, env.projector.Compute(*thread))
}
