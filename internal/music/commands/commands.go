package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/keshon/voicequeue/internal/music/player"
	"github.com/keshon/voicequeue/internal/music/queue"
	"github.com/keshon/voicequeue/pkg/cmd"
)

// maxListed caps how many queued entries the queue command prints.
const maxListed = 10

// All returns a fresh instance of every music command.
func All() []cmd.Command {
	return []cmd.Command{
		&PlayCommand{},
		&SkipCommand{},
		&StopCommand{},
		&PauseCommand{},
		&ResumeCommand{},
		&QueueCommand{},
		&NowPlayingCommand{},
		&PlaylistCommand{},
	}
}

// NeedsVoice reports whether the command joins the caller's voice channel,
// so the front-end must supply a voice destination.
func NeedsVoice(name string, args []string) bool {
	switch strings.ToLower(name) {
	case "play":
		return true
	case "playlist":
		return len(args) > 0 && strings.ToLower(args[0]) == "play"
	}
	return false
}

// Register adds every music command to r, wrapped in mws.
func Register(r *cmd.Registry, mws ...cmd.Middleware) {
	for _, c := range All() {
		r.Register(cmd.Apply(c, mws...))
	}
}

// Lookup returns the command registered under name.
func Lookup(r *cmd.Registry, name string) (cmd.Command, error) {
	c := r.Get(strings.ToLower(name))
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return c, nil
}

func request(inv *cmd.Invocation) (*Request, error) {
	if inv == nil {
		return nil, errUnbound
	}
	req, ok := inv.Data.(*Request)
	if !ok || req.Session == nil {
		return nil, errUnbound
	}
	return req, nil
}

type PlayCommand struct{}

func (c *PlayCommand) Name() string        { return "play" }
func (c *PlayCommand) Description() string { return "Queue a link, file or search query" }

func (c *PlayCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	req, err := request(inv)
	if err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(inv.Args, " "))
	if query == "" {
		return ErrMissingQuery
	}

	entry, err := req.Session.Enqueue(ctx, req.Destination, query, req.User)
	if err != nil {
		return err
	}
	req.reply(fmt.Sprintf("🎶 Queued: %s", entry.Query))
	return nil
}

type SkipCommand struct{}

func (c *SkipCommand) Name() string        { return "skip" }
func (c *SkipCommand) Description() string { return "Skip to the next track" }

func (c *SkipCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	req, err := request(inv)
	if err != nil {
		return err
	}
	if err := req.Session.Skip(); err != nil {
		return err
	}
	req.reply("⏭️ Skipped")
	return nil
}

type StopCommand struct{}

func (c *StopCommand) Name() string        { return "stop" }
func (c *StopCommand) Description() string { return "Stop playback, clear the queue and leave" }

func (c *StopCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	req, err := request(inv)
	if err != nil {
		return err
	}
	if err := req.Session.Stop(); err != nil {
		return err
	}
	req.reply(player.StatusStopped.Format("queue cleared"))
	return nil
}

type PauseCommand struct{}

func (c *PauseCommand) Name() string        { return "pause" }
func (c *PauseCommand) Description() string { return "Pause the current track" }

func (c *PauseCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	req, err := request(inv)
	if err != nil {
		return err
	}
	if err := req.Session.Pause(); err != nil {
		return err
	}
	req.reply(player.StatusPaused.Format(""))
	return nil
}

type ResumeCommand struct{}

func (c *ResumeCommand) Name() string        { return "resume" }
func (c *ResumeCommand) Description() string { return "Resume the paused track" }

func (c *ResumeCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	req, err := request(inv)
	if err != nil {
		return err
	}
	if err := req.Session.Resume(); err != nil {
		return err
	}
	req.reply(player.StatusResumed.Format(""))
	return nil
}

type QueueCommand struct{}

func (c *QueueCommand) Name() string        { return "queue" }
func (c *QueueCommand) Description() string { return "Show the current track and the queue" }

func (c *QueueCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	req, err := request(inv)
	if err != nil {
		return err
	}
	req.reply(FormatQueue(req.Session.Snapshot()))
	return nil
}

type NowPlayingCommand struct{}

func (c *NowPlayingCommand) Name() string        { return "nowplaying" }
func (c *NowPlayingCommand) Description() string { return "Show the current track" }

func (c *NowPlayingCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	req, err := request(inv)
	if err != nil {
		return err
	}
	snap := req.Session.Snapshot()
	if snap.Current == nil {
		return player.ErrNothingPlaying
	}
	req.reply(nowPlaying(snap))
	return nil
}

// PlaylistActions are the subcommands of the playlist command.
var PlaylistActions = []string{"create", "add", "play", "list"}

type PlaylistCommand struct{}

func (c *PlaylistCommand) Name() string { return "playlist" }
func (c *PlaylistCommand) Description() string {
	return "Manage named playlists: create, add, play or list"
}

func (c *PlaylistCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	req, err := request(inv)
	if err != nil {
		return err
	}
	if len(inv.Args) == 0 {
		return fmt.Errorf("%w: expected one of %s", ErrPlaylistAction, strings.Join(PlaylistActions, ", "))
	}

	action := strings.ToLower(inv.Args[0])
	var name string
	if len(inv.Args) > 1 {
		name = inv.Args[1]
	}
	lists := req.Session.Playlists()

	switch action {
	case "create":
		if err := lists.Create(name); err != nil {
			return err
		}
		req.reply(fmt.Sprintf("📝 Created playlist %s", name))

	case "add":
		query := strings.TrimSpace(strings.Join(inv.Args[min(2, len(inv.Args)):], " "))
		if query == "" {
			return ErrMissingQuery
		}
		n, err := lists.Add(name, query)
		if err != nil {
			return err
		}
		req.reply(fmt.Sprintf("➕ Added %s to %s (%d tracks)", query, name, n))

	case "play":
		tracks, err := lists.Tracks(name)
		if err != nil {
			return err
		}
		if len(tracks) == 0 {
			return fmt.Errorf("%w: %s", player.ErrEmptyPlaylist, name)
		}
		for _, q := range tracks {
			if _, err := req.Session.Enqueue(ctx, req.Destination, q, req.User); err != nil {
				return err
			}
		}
		req.reply(fmt.Sprintf("🎶 Queued %d tracks from %s", len(tracks), name))

	case "list":
		if name == "" {
			req.reply(formatPlaylists(lists.Names()))
			return nil
		}
		tracks, err := lists.Tracks(name)
		if err != nil {
			return err
		}
		req.reply(formatPlaylist(name, tracks))

	default:
		return fmt.Errorf("%w: %s", ErrPlaylistAction, action)
	}
	return nil
}

func formatPlaylists(names []string) string {
	if len(names) == 0 {
		return "No playlists yet"
	}
	return "Playlists: " + strings.Join(names, ", ")
}

func formatPlaylist(name string, tracks []string) string {
	if len(tracks) == 0 {
		return fmt.Sprintf("%s is empty", name)
	}
	lines := lo.Map(tracks, func(q string, i int) string {
		return fmt.Sprintf("%d. %s", i+1, q)
	})
	return name + "\n" + strings.Join(lines, "\n")
}

// FormatQueue renders a snapshot as a chat message.
func FormatQueue(snap player.Snapshot) string {
	var b strings.Builder
	if snap.Current != nil {
		b.WriteString(nowPlaying(snap))
	} else {
		b.WriteString("Nothing is playing")
	}
	b.WriteString("\n")

	if len(snap.Queue) == 0 {
		b.WriteString("Queue is empty")
		return b.String()
	}

	lines := lo.Map(lo.Slice(snap.Queue, 0, maxListed), func(e queue.Entry, i int) string {
		return fmt.Sprintf("%d. %s", i+1, describe(e))
	})
	b.WriteString(strings.Join(lines, "\n"))
	if rest := len(snap.Queue) - maxListed; rest > 0 {
		fmt.Fprintf(&b, "\n…and %d more", rest)
	}
	return b.String()
}

func nowPlaying(snap player.Snapshot) string {
	status := player.StatusPlaying
	if snap.State == player.StatePaused {
		status = player.StatusPaused
	}
	return status.Format(describe(*snap.Current))
}

func describe(e queue.Entry) string {
	s := e.DisplayTitle()
	if e.Duration > 0 {
		s += fmt.Sprintf(" [%s]", e.Duration.Round(time.Second))
	}
	if e.RequestedBy != "" {
		s += fmt.Sprintf(" (requested by %s)", e.RequestedBy)
	}
	return s
}
