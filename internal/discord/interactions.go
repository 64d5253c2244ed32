package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/voicequeue/internal/music/commands"
	"github.com/keshon/voicequeue/internal/music/player"
	voice "github.com/keshon/voicequeue/internal/music/voice/discord"
	"github.com/keshon/voicequeue/pkg/cmd"
)

var errGuildOnly = errors.New("music commands only work inside a server")

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != musicCommand {
		b.log.Warn().Str("command", data.Name).Msg("Unknown command")
		return
	}
	if err := b.handleMusic(s, i, data); err != nil {
		b.log.Warn().Err(err).Str("guild", i.GuildID).Msg("Music command rejected")
		if rerr := respondEmbedEphemeral(s, i, errorEmbed(err)); rerr != nil {
			b.log.Error().Err(rerr).Msg("Failed to respond to interaction")
		}
	}
}

// handleMusic validates the interaction and hands the subcommand to the
// guild's serializer. Errors returned here are reported before the
// interaction is acknowledged; everything later arrives as a followup.
func (b *Bot) handleMusic(s *discordgo.Session, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) error {
	if i.GuildID == "" {
		return errGuildOnly
	}
	if len(data.Options) == 0 {
		return fmt.Errorf("%w: missing subcommand", commands.ErrUnknownCommand)
	}

	sub := data.Options[0]
	c, err := commands.Lookup(b.opts.Registry, sub.Name)
	if err != nil {
		return err
	}

	args := optionArgs(sub.Options)

	user := resolveUser(i)
	dest := player.Destination{GuildID: i.GuildID, TextChannelID: i.ChannelID}
	if commands.NeedsVoice(sub.Name, args) {
		channelID, err := b.findUserVoiceState(i.GuildID, user.ID)
		if err != nil {
			return err
		}
		if !canSpeak(s, channelID) {
			return player.ErrNoPermission
		}
		dest.ChannelID = channelID
	}

	if err := deferResponse(s, i); err != nil {
		return fmt.Errorf("failed to defer response: %w", err)
	}

	req := &commands.Request{
		Destination: dest,
		User:        user.Username,
		Reply: func(text string) {
			embed := &discordgo.MessageEmbed{Description: text, Color: voice.EmbedColor}
			if err := followupEmbed(s, i, embed); err != nil {
				b.log.Warn().Err(err).Msg("Failed to send followup")
			}
		},
	}
	if err := b.opts.Players.Submit(i.GuildID, c, &cmd.Invocation{Args: args, Data: req}); err != nil {
		req.ReportError(err)
	}
	return nil
}

// optionArgs flattens subcommand options into positional args: the input
// alone, or action, name and input. A missing name becomes "".
func optionArgs(opts []*discordgo.ApplicationCommandInteractionDataOption) []string {
	values := make(map[string]string, len(opts))
	for _, o := range opts {
		if o.Type == discordgo.ApplicationCommandOptionString {
			values[o.Name] = o.StringValue()
		}
	}

	input, hasInput := values[inputOption]
	action, ok := values[actionOption]
	if !ok {
		if hasInput {
			return []string{input}
		}
		return nil
	}

	args := []string{action, values[nameOption]}
	if hasInput {
		args = append(args, input)
	}
	return args
}

// canSpeak reports whether the bot may connect and speak in a voice channel.
// Unknown permissions are treated as allowed; the join itself will fail.
func canSpeak(s *discordgo.Session, channelID string) bool {
	if s.State == nil || s.State.User == nil {
		return true
	}
	perms, err := s.UserChannelPermissions(s.State.User.ID, channelID)
	if err != nil {
		return true
	}
	need := int64(discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak)
	return perms&need == need
}

// resolveUser safely retrieves the user object from an InteractionCreate event
func resolveUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{ID: "unknown", Username: "Unknown"}
}

func errorEmbed(err error) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: player.StatusError.Format(err.Error()),
		Color:       voice.EmbedColor,
	}
}

// respondEmbedEphemeral sends an ephemeral embed response to an interaction.
func respondEmbedEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:  discordgo.MessageFlagsEphemeral,
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

// deferResponse acknowledges an interaction; the answer follows later.
func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

// followupEmbed sends a public embed followup message.
func followupEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	_, err := s.FollowupMessageCreate(i.Interaction, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	return err
}
