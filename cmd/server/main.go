// Wardflow - Guided ward-level TPR analysis for malaria surveillance data
package main

import (
	"context"
	"os"

	"github.com/mbd888/wardflow/internal/config"
	"github.com/mbd888/wardflow/internal/logging"
	"github.com/mbd888/wardflow/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting wardflow",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"fuzzy_cutoff", cfg.FuzzyCutoff,
		"urban_threshold", cfg.UrbanTPRThreshold,
		"rural_threshold", cfg.RuralTPRThreshold,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
