// Package commands implements the music commands shared by every front-end.
// Front-ends build a cmd.Invocation whose Data is a *Request and submit it to
// a player.Manager, which binds the request to the guild's session.
package commands

import (
	"errors"

	"github.com/keshon/voicequeue/internal/music/player"
)

var (
	ErrMissingQuery   = errors.New("a link or search query is required")
	ErrUnknownCommand = errors.New("unknown command")
	ErrPlaylistAction = errors.New("unknown playlist action")

	errUnbound = errors.New("request is not bound to a session")
)

// Request is the invocation payload of every music command.
type Request struct {
	Session     *player.Session
	Destination player.Destination
	User        string

	// Reply delivers a message to whoever issued the command. May be nil.
	Reply func(text string)
}

var (
	_ player.Binder        = (*Request)(nil)
	_ player.ErrorReporter = (*Request)(nil)
)

func (r *Request) Bind(s *player.Session) { r.Session = s }

func (r *Request) ReportError(err error) {
	r.reply(player.StatusError.Format(err.Error()))
}

func (r *Request) reply(text string) {
	if r.Reply != nil {
		r.Reply(text)
	}
}
