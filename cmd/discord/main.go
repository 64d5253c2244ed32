// cmd/discord/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/config"
	"github.com/keshon/voicequeue/internal/discord"
	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/internal/music/cache"
	"github.com/keshon/voicequeue/internal/music/commands"
	"github.com/keshon/voicequeue/internal/music/player"
	"github.com/keshon/voicequeue/internal/music/source_resolver"
	voice "github.com/keshon/voicequeue/internal/music/voice/discord"
	"github.com/keshon/voicequeue/pkg/cmd"
	"github.com/keshon/voicequeue/pkg/jobmgr"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	closer := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Pretty: cfg.LogPretty})
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	log.Info().Msg("Starting voicequeue Discord bot...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := afero.NewOsFs()
	store, err := cache.New(fs, cfg.CacheDir, cfg.CacheMaxBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache")
	}
	if n, err := store.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to index cache dir")
	} else {
		log.Info().Int("files", n).Int64("bytes", store.Size()).Msg("Cache indexed")
	}

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Discord session")
	}

	jobLog := logger.Component("jobs")
	jobs := jobmgr.NewManager(cfg.ResolveWorkers, func(s string) { jobLog.Debug().Msg(s) })
	defer jobs.Close()

	players := player.NewManager(player.Options{
		Transport:         voice.NewTransport(dg, cfg.FFmpegPath),
		Resolver:          source_resolver.New(fs, store, source_resolver.NewLimiter(cfg.ResolveRate)),
		Jobs:              jobs,
		Notifier:          voice.NewNotifier(dg),
		Cache:             store,
		Fs:                fs,
		InactivityTimeout: cfg.InactivityTimeout,
		ResolveTimeout:    cfg.ResolveTimeout,
		CleanupDelay:      cfg.CleanupDelay,
	})
	defer players.Close()

	registry := cmd.NewRegistry()
	commands.Register(registry, commands.WithCommandLogger())

	bot := discord.NewBot(dg, discord.Options{
		Registry:       registry,
		Players:        players,
		Fs:             fs,
		DataDir:        cfg.DataDir,
		GuildBlacklist: cfg.DiscordGuildBlacklist,
		InitCommands:   cfg.InitSlashCommands,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := bot.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Shutting down...")
		// leave voice channels while the gateway is still open
		players.Close()
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Discord bot error")
		}
		cancel()
	}

	log.Info().Msg("Discord bot exited cleanly")
}
