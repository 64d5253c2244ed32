package discord

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/music/commands"
	"github.com/keshon/voicequeue/pkg/cmd"
)

const (
	musicCommand = "music"
	inputOption  = "input"
	actionOption = "action"
	nameOption   = "name"
)

// musicDefinition builds /music with one subcommand per registered command.
// play takes an input; playlist takes an action, a name and an input.
func musicDefinition(r *cmd.Registry) *discordgo.ApplicationCommand {
	def := &discordgo.ApplicationCommand{
		Type:        discordgo.ChatApplicationCommand,
		Name:        musicCommand,
		Description: "Control music playback",
	}
	for _, c := range r.GetAll() {
		sub := &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        c.Name(),
			Description: c.Description(),
		}
		if c.Name() == "play" {
			sub.Options = []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        inputOption,
				Description: "Link, file or search query",
				Required:    true,
			}}
		}
		if c.Name() == "playlist" {
			sub.Options = playlistOptions()
		}
		def.Options = append(def.Options, sub)
	}
	return def
}

func playlistOptions() []*discordgo.ApplicationCommandOption {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(commands.PlaylistActions))
	for _, a := range commands.PlaylistActions {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: a, Value: a})
	}
	return []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        actionOption,
			Description: "What to do",
			Required:    true,
			Choices:     choices,
		},
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        nameOption,
			Description: "Playlist name",
		},
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        inputOption,
			Description: "Link, file or search query to add",
		},
	}
}

// registerCommands creates /music in guildID unless the definition is
// unchanged since the last registration.
func (b *Bot) registerCommands(guildID string) error {
	appID, err := b.appID()
	if err != nil {
		return err
	}

	def := musicDefinition(b.opts.Registry)
	hash := hashCommand(def)
	hashes := b.loadCommandHashes(guildID)
	if hashes[def.Name] == hash {
		b.log.Debug().Str("guild", guildID).Msg("Slash commands up to date")
		return nil
	}

	if _, err := b.dg.ApplicationCommandCreate(appID, guildID, def); err != nil {
		return fmt.Errorf("failed to register /%s: %w", def.Name, err)
	}
	hashes[def.Name] = hash
	b.saveCommandHashes(guildID, hashes)
	b.log.Info().Str("guild", guildID).Str("command", def.Name).Msg("Registered slash command")
	return nil
}

// appID returns the bot's application ID, fetching from Discord if not cached in State.
func (b *Bot) appID() (string, error) {
	if b.dg.State != nil && b.dg.State.User != nil && b.dg.State.User.ID != "" {
		return b.dg.State.User.ID, nil
	}
	u, err := b.dg.User("@me")
	if err != nil {
		return "", fmt.Errorf("failed to fetch bot user: %w", err)
	}
	return u.ID, nil
}

func (b *Bot) commandHashPath(guildID string) string {
	return filepath.Join(b.opts.DataDir, "commands", guildID+".json")
}

func (b *Bot) loadCommandHashes(guildID string) map[string]string {
	out := make(map[string]string)
	if data, err := afero.ReadFile(b.opts.Fs, b.commandHashPath(guildID)); err == nil {
		_ = json.Unmarshal(data, &out)
	}
	return out
}

func (b *Bot) saveCommandHashes(guildID string, hashes map[string]string) {
	path := b.commandHashPath(guildID)
	if err := b.opts.Fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		b.log.Warn().Err(err).Msg("Failed to create command hash dir")
		return
	}
	data, _ := json.MarshalIndent(hashes, "", "  ")
	if err := afero.WriteFile(b.opts.Fs, path, data, 0o644); err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("Failed to save command hashes")
	}
}

// hashCommand returns a deterministic SHA-1 of a command's stable fields.
func hashCommand(c *discordgo.ApplicationCommand) string {
	stable := map[string]interface{}{
		"name":        c.Name,
		"description": c.Description,
		"type":        c.Type,
	}
	if len(c.Options) > 0 {
		stable["options"] = normalizeOptions(c.Options)
	}
	data, _ := json.Marshal(stable)
	return fmt.Sprintf("%x", sha1.Sum(data))
}

func normalizeOptions(opts []*discordgo.ApplicationCommandOption) []map[string]interface{} {
	out := make([]map[string]interface{}, len(opts))
	for i, o := range opts {
		entry := map[string]interface{}{
			"name":        o.Name,
			"description": o.Description,
			"type":        o.Type,
			"required":    o.Required,
		}
		if len(o.Options) > 0 {
			entry["options"] = normalizeOptions(o.Options)
		}
		if len(o.Choices) > 0 {
			names := make([]string, len(o.Choices))
			for j, c := range o.Choices {
				names[j] = c.Name
			}
			entry["choices"] = names
		}
		out[i] = entry
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["name"].(string) < out[j]["name"].(string)
	})
	return out
}
