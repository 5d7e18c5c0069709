// mevguard - MEV protection decision engine
package main

import (
	"context"
	"os"

	"github.com/mbd888/mevguard/internal/config"
	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "json")

	logger.Info("starting mevguard",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Version == "dev" {
		cfg.Version = Version
	}

	// Re-create the logger with the configured level and format
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"private_relay", cfg.PrivateRelayURL,
		"pool_rpc", cfg.RPCURL != "",
		"kafka", len(cfg.KafkaBrokers) > 0,
		"tuning_file", cfg.TuningFile,
	)

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
