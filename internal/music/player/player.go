package player

import (
	"context"
	"errors"
	"fmt"
)

type State int

const (
	StateDisconnected State = iota
	StateIdle
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

type PlayerStatus string

const (
	StatusPlaying      PlayerStatus = "Playing"
	StatusAdded        PlayerStatus = "Track Added"
	StatusStopped      PlayerStatus = "Playback Stopped"
	StatusPaused       PlayerStatus = "Playback Paused"
	StatusResumed      PlayerStatus = "Playback Resumed"
	StatusDisconnected PlayerStatus = "Disconnected"
	StatusError        PlayerStatus = "Error"
)

func (status PlayerStatus) StringEmoji() string {
	m := map[PlayerStatus]string{
		StatusPlaying:      "▶️",
		StatusAdded:        "🎶",
		StatusStopped:      "⏹",
		StatusPaused:       "⏸",
		StatusResumed:      "▶️",
		StatusDisconnected: "👋",
		StatusError:        "❌",
	}
	return m[status]
}

// Format renders a status line for chat.
func (status PlayerStatus) Format(detail string) string {
	if detail == "" {
		return fmt.Sprintf("%s %s", status.StringEmoji(), status)
	}
	return fmt.Sprintf("%s %s: %s", status.StringEmoji(), status, detail)
}

var (
	ErrNoUserDestination = errors.New("you must be in a voice channel")
	ErrNothingPlaying    = errors.New("nothing is playing")
	ErrNotPlaying        = errors.New("no track is currently playing")
	ErrNotPaused         = errors.New("playback is not paused")

	// ErrTransport wraps failures of the voice output.
	ErrTransport = errors.New("voice transport error")
	// ErrInvariant marks internal state the session had to repair.
	ErrInvariant = errors.New("internal invariant violated")

	// Transport implementations return these, wrapped or not.
	ErrNoPermission      = errors.New("missing permission to join the voice channel")
	ErrAlreadyConnecting = errors.New("voice connection already in progress")
)

// Destination is where a session plays and reports. Sessions are keyed by
// GuildID; ChannelID selects the voice channel inside it.
type Destination struct {
	GuildID       string
	ChannelID     string
	TextChannelID string
}

func (d Destination) Empty() bool {
	return d.GuildID == "" || d.ChannelID == ""
}

// Transport opens voice connections.
type Transport interface {
	Connect(ctx context.Context, dest Destination) (Voice, error)
}

// Voice is one open voice connection.
//
// Play starts playing path and returns once playback has started. onFinished
// is called exactly once, from any goroutine, when playback ends for any
// reason: end of file, Stop, or a failure (non-nil error).
type Voice interface {
	Move(ctx context.Context, dest Destination) error
	Disconnect() error
	Play(path string, onFinished func(error)) error
	Stop()
	Pause() error
	Resume() error
	IsPlaying() bool
	IsPaused() bool
	IsConnected() bool
	ChannelID() string
}

// Notifier delivers user-facing messages. Notify must not block.
type Notifier interface {
	Notify(dest Destination, text string)
}

// ErrorReporter is implemented by invocation payloads that can show a
// command failure to the user who issued it.
type ErrorReporter interface {
	ReportError(err error)
}

// Binder is implemented by invocation payloads that need the session the
// command was routed to.
type Binder interface {
	Bind(s *Session)
}
