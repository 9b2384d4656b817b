package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/brenner/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Create, check, and inspect brenner.toml",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a sample brenner.toml with the default roles",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "brenner.toml", Usage: "Where to write the file"},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Load the layered configuration and check it",
				Action: runConfigValidate,
			},
			{
				Name:   "roles",
				Usage:  "Print the role registry status queries are computed against",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Print JSON"}},
				Action: runConfigRoles,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	path := c.String("output")
	if err := config.InitConfig(path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", path)
	return nil
}

func loadValidConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Configuration is valid (data dir %s, %d roles)\n", cfg.General.DataDir, len(cfg.Registry().Roles()))
	fmt.Fprintf(w, "  threads:   %s\n", cfg.General.ThreadsDir)
	fmt.Fprintf(w, "  artifacts: %s\n", cfg.ArtifactsDir())
	fmt.Fprintf(w, "  anomalies: %s\n", cfg.AnomaliesDir())
	return nil
}

func runConfigRoles(c *cli.Context) error {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return err
	}
	roles := cfg.Registry().Roles()
	if c.Bool("json") {
		return printJSON(c.App.Writer, roles)
	}
	for _, r := range roles {
		fmt.Fprintf(c.App.Writer, "%s (%s): %s\n", r.Name, r.DisplayName, strings.Join(r.Agents, ", "))
	}
	return nil
}
