package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/walteh/mapstore/cmd/mapstore/opts"
	"github.com/walteh/mapstore/pkg/config"
	"github.com/walteh/mapstore/pkg/downloader"
	"github.com/walteh/mapstore/pkg/log"
	"github.com/walteh/mapstore/pkg/storage"
	"gitlab.com/tozd/go/errors"
)

var (
	// Flags
	configFile string
	debug      bool
)

// newRootOpts creates a new RootOpts with initialized dependencies
func newRootOpts(ctx context.Context) (*opts.RootOpts, error) {
	userLogger := log.New(os.Stdout, zerolog.InfoLevel)

	cfg, err := config.Load(ctx, configFile)
	if err != nil {
		return nil, errors.Errorf("loading config: %w", err)
	}

	dl := downloader.NewHTTP(downloader.HTTPOptions{
		Servers: cfg.Servers,
	})

	store, err := storage.New(ctx, storage.Options{
		CatalogPath:    cfg.CountriesFile,
		DataDir:        cfg.DataDir,
		QueuePath:      cfg.QueueFile,
		Downloader:     dl,
		IgnorePatterns: cfg.IgnorePatterns,
	})
	if err != nil {
		return nil, errors.Errorf("creating storage: %w", err)
	}
	if err := store.RegisterAllLocalMaps(ctx); err != nil {
		return nil, errors.Errorf("scanning local maps: %w", err)
	}

	return &opts.RootOpts{
		Config:     cfg,
		Store:      store,
		UserLogger: userLogger,
	}, nil
}

// addRootFlags adds shared flags to the root command
func addRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "mapstore.hcl", "config file path")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

// setupLogging configures zerolog based on flags
func setupLogging() {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log
}
