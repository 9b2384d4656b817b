package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/brenner/internal/api"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the Brenner API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (defaults to api.port)",
			},
		},
		Action: func(c *cli.Context) error {
			env, err := loadEnvironment(c)
			if err != nil {
				return err
			}
			port := env.cfg.API.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}

			server := api.NewServer(port, env.cfg.API.RateLimit, api.Deps{
				Messenger:  env.messenger,
				Projector:  env.projector,
				Pipeline:   env.pipeline,
				Artifacts:  env.artifacts,
				Anomalies:  env.anomalies,
				Store:      env.store,
				AnchorBase: env.cfg.General.AnchorBase,
				Logger:     env.log,
			})

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Start(ctx)
		},
	}
}
