package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/keshon/voicequeue/internal/config"
	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/internal/music/cache"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voicequeue",
		Short:         "Local music queue and cache tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(playCmd(), cacheCmd())
	return root
}

// setup loads config and logging for a subcommand.
func setup() (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	closer := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Pretty: cfg.LogPretty})
	return cfg, func() { _ = closer.Close() }, nil
}

func openCache(fs afero.Fs, cfg *config.Config) (*cache.Cache, error) {
	store, err := cache.New(fs, cfg.CacheDir, cfg.CacheMaxBytes)
	if err != nil {
		return nil, err
	}
	if _, err := store.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to index cache dir")
	}
	return store, nil
}
