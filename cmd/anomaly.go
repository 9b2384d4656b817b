package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/sessionstore"
)

// AnomalyCommand returns the anomaly command
func AnomalyCommand() *cli.Command {
	return &cli.Command{
		Name:  "anomaly",
		Usage: "Record and manage quarantined anomalies",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Record a new anomaly",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session id", Required: true},
					&cli.StringFlag{Name: "observation", Aliases: []string{"o"}, Usage: "What was observed", Required: true},
					&cli.StringSliceFlag{Name: "conflicts", Usage: "Hypothesis (H*) or assumption (A*) ids it contradicts"},
					&cli.StringFlag{Name: "description", Usage: "How the observation conflicts"},
					&cli.StringFlag{Name: "source-type", Value: anomaly.SourceManual, Usage: "Where the anomaly came from"},
					&cli.StringFlag{Name: "source-ref", Usage: "Reference within the source"},
				},
				Action: runAnomalyAdd,
			},
			{
				Name:  "list",
				Usage: "List anomalies from the index",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Only this session"},
					&cli.StringFlag{Name: "status", Usage: "active, resolved or deferred"},
					&cli.StringFlag{Name: "hypothesis", Usage: "Conflicting with this hypothesis id"},
					&cli.StringFlag{Name: "assumption", Usage: "Conflicting with this assumption id"},
					&cli.StringFlag{Name: "spawned", Usage: "That spawned this hypothesis id"},
					&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
				},
				Action: runAnomalyList,
			},
			{
				Name:      "transition",
				Usage:     "Change the quarantine status of an anomaly",
				ArgsUsage: "ANOMALY_ID STATUS",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "note", Aliases: []string{"n"}, Usage: "Resolution note"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return fmt.Errorf("usage: anomaly transition ANOMALY_ID STATUS")
					}
					env, err := loadEnvironment(c)
					if err != nil {
						return err
					}
					a, err := env.anomalies.Transition(c.Context, c.Args().Get(0), anomaly.QuarantineStatus(c.Args().Get(1)), c.String("note"))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s is now %s\n", a.ID, a.QuarantineStatus)
					return nil
				},
			},
			{
				Name:      "link",
				Usage:     "Record a hypothesis spawned by an anomaly",
				ArgsUsage: "ANOMALY_ID HYPOTHESIS_ID",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return fmt.Errorf("usage: anomaly link ANOMALY_ID HYPOTHESIS_ID")
					}
					env, err := loadEnvironment(c)
					if err != nil {
						return err
					}
					a, err := env.anomalies.LinkSpawnedHypothesis(c.Context, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s spawned %s\n", a.ID, strings.Join(a.SpawnedHypotheses, ", "))
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete an anomaly",
				ArgsUsage: "ANOMALY_ID",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return fmt.Errorf("missing required argument: anomaly id")
					}
					env, err := loadEnvironment(c)
					if err != nil {
						return err
					}
					id := c.Args().First()
					removed, err := env.anomalies.Delete(c.Context, id)
					if err != nil {
						return err
					}
					if !removed {
						return fmt.Errorf("%w: %s", anomaly.ErrNotFound, id)
					}
					fmt.Fprintf(c.App.Writer, "Deleted %s\n", id)
					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "Summarize the anomaly index",
				Action: func(c *cli.Context) error {
					env, err := loadEnvironment(c)
					if err != nil {
						return err
					}
					idx, _, err := env.store.LoadIndex(c.Context)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, idx.Stats())
				},
			},
		},
	}
}

func runAnomalyAdd(c *cli.Context) error {
	env, err := loadEnvironment(c)
	if err != nil {
		return err
	}

	conflicts := anomaly.SplitConflicts(c.StringSlice("conflicts"))
	conflicts.Description = c.String("description")
	a, err := env.anomalies.Create(c.Context, anomaly.Draft{
		SessionID:   c.String("session"),
		Observation: c.String("observation"),
		Source:      anomaly.Source{Type: c.String("source-type"), Reference: c.String("source-ref")},
		Conflicts:   conflicts,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Recorded %s\n", a.ID)
	return nil
}

func runAnomalyList(c *cli.Context) error {
	q := sessionstore.Query{
		SessionID:  c.String("session"),
		Status:     anomaly.QuarantineStatus(c.String("status")),
		Hypothesis: c.String("hypothesis"),
		Assumption: c.String("assumption"),
		Spawned:    c.String("spawned"),
	}
	if q.Status != "" && !q.Status.Valid() {
		return fmt.Errorf("unknown status %q", q.Status)
	}

	env, err := loadEnvironment(c)
	if err != nil {
		return err
	}
	idx, warnings, err := env.store.LoadIndex(c.Context)
	if err != nil {
		return err
	}
	entries := idx.Query(q)

	if c.Bool("json") {
		return printJSON(c.App.Writer, entries)
	}
	for _, w := range warnings {
		fmt.Fprintf(c.App.ErrWriter, "warning: %s: %s\n", w.File, w.Reason)
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCONFLICTS\tSPAWNED\tOBSERVATION")
	for _, e := range entries {
		conflicts := append(append([]string{}, e.Hypotheses...), e.Assumptions...)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Status, strings.Join(conflicts, ","), strings.Join(e.Spawned, ","), e.Preview)
	}
	return tw.Flush()
}
