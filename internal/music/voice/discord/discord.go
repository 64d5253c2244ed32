// Package discord plays local media files into Discord voice channels.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/internal/music/player"
	"github.com/keshon/voicequeue/internal/music/stream"
)

// EmbedColor is used for every message the bot posts.
const EmbedColor = 0xb01e66

var errNothingPlaying = errors.New("nothing is playing")

// Transport implements player.Transport on top of a discordgo session.
type Transport struct {
	dg         *discordgo.Session
	ffmpegPath string

	mu         sync.Mutex
	connecting map[string]bool
	log        zerolog.Logger
}

func NewTransport(dg *discordgo.Session, ffmpegPath string) *Transport {
	return &Transport{
		dg:         dg,
		ffmpegPath: ffmpegPath,
		connecting: make(map[string]bool),
		log:        logger.Component("voice"),
	}
}

func (t *Transport) Connect(ctx context.Context, dest player.Destination) (player.Voice, error) {
	t.mu.Lock()
	if t.connecting[dest.GuildID] {
		t.mu.Unlock()
		return nil, player.ErrAlreadyConnecting
	}
	t.connecting[dest.GuildID] = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.connecting, dest.GuildID)
		t.mu.Unlock()
	}()

	vc, err := t.dg.ChannelVoiceJoin(dest.GuildID, dest.ChannelID, false, true)
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %w", player.ErrNoPermission, err)
		}
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}
	t.log.Info().Str("guild", dest.GuildID).Str("channel", dest.ChannelID).Msg("Joined voice channel")

	return &Voice{
		vc:         vc,
		ffmpegPath: t.ffmpegPath,
		log:        t.log.With().Str("guild", dest.GuildID).Logger(),
	}, nil
}

// Voice is one guild's voice connection.
type Voice struct {
	vc         *discordgo.VoiceConnection
	ffmpegPath string

	mu  sync.Mutex
	ctl *stream.Control
	log zerolog.Logger
}

func (v *Voice) Move(ctx context.Context, dest player.Destination) error {
	if err := v.vc.ChangeChannel(dest.ChannelID, false, true); err != nil {
		return fmt.Errorf("failed to change voice channel: %w", err)
	}
	return nil
}

func (v *Voice) Disconnect() error {
	v.Stop()
	return v.vc.Disconnect()
}

// Play decodes path with ffmpeg and streams it as opus until the file ends
// or Stop is called, then calls onFinished.
func (v *Voice) Play(path string, onFinished func(error)) error {
	pcm, err := stream.Open(context.Background(), v.ffmpegPath, path)
	if err != nil {
		return err
	}

	ctl := stream.NewControl()
	v.mu.Lock()
	prev := v.ctl
	v.ctl = ctl
	v.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	go func() {
		_ = v.vc.Speaking(true)
		err := streamOpus(pcm, ctl, v.vc.OpusSend)
		_ = v.vc.Speaking(false)
		_ = pcm.Close()

		v.mu.Lock()
		if v.ctl == ctl {
			v.ctl = nil
		}
		v.mu.Unlock()

		if err != nil {
			v.log.Warn().Err(err).Str("path", path).Msg("Playback error")
		}
		onFinished(err)
	}()
	return nil
}

func (v *Voice) Stop() {
	if ctl := v.control(); ctl != nil {
		ctl.Stop()
	}
}

func (v *Voice) Pause() error {
	ctl := v.control()
	if ctl == nil {
		return errNothingPlaying
	}
	ctl.Pause()
	return nil
}

func (v *Voice) Resume() error {
	ctl := v.control()
	if ctl == nil {
		return errNothingPlaying
	}
	ctl.Resume()
	return nil
}

func (v *Voice) IsPlaying() bool {
	ctl := v.control()
	return ctl != nil && !ctl.Paused()
}

func (v *Voice) IsPaused() bool {
	ctl := v.control()
	return ctl != nil && ctl.Paused()
}

func (v *Voice) IsConnected() bool {
	v.vc.RLock()
	defer v.vc.RUnlock()
	return v.vc.Ready
}

func (v *Voice) ChannelID() string {
	v.vc.RLock()
	defer v.vc.RUnlock()
	return v.vc.ChannelID
}

func (v *Voice) control() *stream.Control {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ctl
}

// Notifier posts player messages to the destination's text channel.
type Notifier struct {
	dg  *discordgo.Session
	log zerolog.Logger
}

func NewNotifier(dg *discordgo.Session) *Notifier {
	return &Notifier{dg: dg, log: logger.Component("notifier")}
}

func (n *Notifier) Notify(dest player.Destination, text string) {
	if dest.TextChannelID == "" {
		return
	}
	go func() {
		embed := &discordgo.MessageEmbed{Description: text, Color: EmbedColor}
		if _, err := n.dg.ChannelMessageSendEmbed(dest.TextChannelID, embed); err != nil {
			n.log.Warn().Err(err).Str("channel", dest.TextChannelID).Msg("Failed to send notification")
		}
	}()
}
