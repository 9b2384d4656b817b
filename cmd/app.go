package cmd

import (
	"github.com/urfave/cli/v2"
)

// GlobalFlags are accepted before any command
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Load configuration from `FILE` (default ./brenner.toml or $HOME/.brenner.toml)",
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Override general.data_dir",
		},
	}
}

// Commands lists every brenner command
func Commands() []*cli.Command {
	return []*cli.Command{
		StatusCommand(),
		IngestCommand(),
		PublishCommand(),
		ArtifactCommand(),
		AnomalyCommand(),
		IndexCommand(),
		CitationsCommand(),
		APICommand(),
		ConfigCommand(),
	}
}
