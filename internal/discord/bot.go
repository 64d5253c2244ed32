// Package discord is the Discord front-end: it registers the /music slash
// command and routes its subcommands to the guild's player session.
package discord

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/internal/music/player"
	"github.com/keshon/voicequeue/pkg/cmd"
)

// Submitter routes a command to the session identified by key.
type Submitter interface {
	Submit(key string, c cmd.Command, inv *cmd.Invocation) error
}

type Options struct {
	Registry       *cmd.Registry
	Players        Submitter
	Fs             afero.Fs
	DataDir        string
	GuildBlacklist []string
	InitCommands   bool
}

// Bot is a Discord bot
type Bot struct {
	dg   *discordgo.Session
	opts Options
	log  zerolog.Logger
}

func NewBot(dg *discordgo.Session, opts Options) *Bot {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return &Bot{dg: dg, opts: opts, log: logger.Component("discord")}
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onInteractionCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	b.log.Info().Msg("Shutdown signal received, closing gateway")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	for _, g := range r.Guilds {
		b.setupGuild(s, g.ID)
	}
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Discord bot is running")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	b.log.Debug().Str("guild", g.ID).Str("name", g.Name).Msg("Guild available")
	b.setupGuild(s, g.ID)
}

// setupGuild leaves blacklisted guilds and syncs slash commands in the rest.
func (b *Bot) setupGuild(s *discordgo.Session, guildID string) {
	if b.isGuildBlacklisted(guildID) {
		b.log.Info().Str("guild", guildID).Msg("Leaving blacklisted guild")
		if err := s.GuildLeave(guildID); err != nil {
			b.log.Error().Err(err).Str("guild", guildID).Msg("Failed to leave guild")
		}
		return
	}
	if !b.opts.InitCommands {
		return
	}
	if err := b.registerCommands(guildID); err != nil {
		b.log.Error().Err(err).Str("guild", guildID).Msg("Failed to register slash commands")
	}
}

func (b *Bot) isGuildBlacklisted(guildID string) bool {
	return slices.Contains(b.opts.GuildBlacklist, guildID)
}

// findUserVoiceState returns the voice channel userID is connected to in guildID.
func (b *Bot) findUserVoiceState(guildID, userID string) (string, error) {
	vs, err := b.dg.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", player.ErrNoUserDestination
	}
	return vs.ChannelID, nil
}
