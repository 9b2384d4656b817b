package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// IndexCommand returns the anomaly index maintenance command
func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Maintain the anomaly index",
		Subcommands: []*cli.Command{
			{
				Name:  "rebuild",
				Usage: "Rescan every session file and rewrite the index",
				Action: func(c *cli.Context) error {
					env, err := loadEnvironment(c)
					if err != nil {
						return err
					}
					result, err := env.store.RebuildIndex(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Indexed %d records in %d sessions\n", result.Records, result.Sessions)
					for _, w := range result.Skipped {
						fmt.Fprintf(c.App.Writer, "  skipped %s: %s\n", w.File, w.Reason)
					}
					return nil
				},
			},
			{
				Name:  "verify",
				Usage: "Compare index fingerprints with the session files",
				Action: func(c *cli.Context) error {
					env, err := loadEnvironment(c)
					if err != nil {
						return err
					}
					report, err := env.store.Verify(c.Context)
					if err != nil {
						return err
					}
					for _, d := range report.Drift {
						fmt.Fprintf(c.App.Writer, "  %s: %s\n", d.SessionID, d.Kind)
					}
					if !report.OK() {
						return cli.Exit(fmt.Sprintf("index drift in %d of %d sessions; run `brenner index rebuild`", len(report.Drift), report.Checked), 2)
					}
					fmt.Fprintf(c.App.Writer, "Index matches %d session files\n", report.Checked)
					return nil
				},
			},
		},
	}
}
