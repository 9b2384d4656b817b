package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// IngestCommand returns the ingest command
func IngestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Fold new delta blocks from a thread into its artifact",
		ArgsUsage: "THREAD_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the full ingest report as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("missing required argument: thread id")
			}
			env, err := loadEnvironment(c)
			if err != nil {
				return err
			}

			report, err := env.pipeline.Ingest(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, report)
			}
			printReport(c.App.Writer, report)
			return nil
		},
	}
}

// PublishCommand returns the publish command
func PublishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Post the compiled artifact to its thread",
		ArgsUsage: "THREAD_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("missing required argument: thread id")
			}
			env, err := loadEnvironment(c)
			if err != nil {
				return err
			}

			result, err := env.pipeline.Publish(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Published %s v%d as message %d\n", result.ThreadID, result.Version, result.Message.ID)
			return nil
		},
	}
}
