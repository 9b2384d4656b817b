package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/brenner/internal/anomaly"
	"github.com/brenner/internal/config"
	"github.com/brenner/internal/ingest"
	"github.com/brenner/internal/logging"
	"github.com/brenner/internal/messaging"
	"github.com/brenner/internal/sessionstore"
	"github.com/brenner/internal/threadstatus"
)

// environment holds the services built from one loaded configuration
type environment struct {
	cfg       *config.Config
	log       zerolog.Logger
	messenger *messaging.FileMessenger
	artifacts *sessionstore.ArtifactStore
	store     *sessionstore.AnomalyStore
	anomalies *anomaly.Service
	projector *threadstatus.Projector
	pipeline  *ingest.Pipeline
}

// loadEnvironment loads and validates the configuration named by the global
// --config flag and wires the stores and pipeline on top of it
func loadEnvironment(c *cli.Context) (*environment, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.General.DataDir = dir
		cfg.General.ThreadsDir = filepath.Join(dir, "threads")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.SetupWriter(cfg.Log, c.App.ErrWriter)

	artifacts, err := sessionstore.NewArtifactStore(cfg.ArtifactsDir(), logger)
	if err != nil {
		return nil, err
	}
	store, err := sessionstore.NewAnomalyStore(cfg.AnomaliesDir(), sessionstore.Options{
		RebuildWorkers: cfg.Store.RebuildWorkers,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	registry := cfg.Registry()
	messenger := messaging.NewFileMessenger(cfg.General.ThreadsDir)
	anomalies := anomaly.NewService(store)
	pipeline := ingest.NewPipeline(messenger, artifacts, anomalies, store, ingest.Config{
		Operator:   cfg.General.Operator,
		AnchorBase: cfg.General.AnchorBase,
		Registry:   registry,
		RunLogDir:  filepath.Join(cfg.General.DataDir, "logs"),
	}, logger)

	return &environment{
		cfg:       cfg,
		log:       logger,
		messenger: messenger,
		artifacts: artifacts,
		store:     store,
		anomalies: anomalies,
		projector: threadstatus.NewProjector(registry),
		pipeline:  pipeline,
	}, nil
}
