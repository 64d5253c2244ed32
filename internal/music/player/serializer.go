package player

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/pkg/cmd"
)

var ErrSerializerClosed = errors.New("command serializer is closed")

type job struct {
	ctx     context.Context
	command cmd.Command
	inv     *cmd.Invocation
}

// Serializer runs one session's commands one at a time in submission order.
// A failing or panicking command is logged and reported to its invoker; the
// next command still runs.
type Serializer struct {
	jobs *fifo[job]
	done chan struct{}
	log  zerolog.Logger
}

func NewSerializer(key string) *Serializer {
	s := &Serializer{
		jobs: newFIFO[job](),
		done: make(chan struct{}),
		log:  logger.Component("serializer").With().Str("session", key).Logger(),
	}
	go s.run()
	return s
}

// Submit queues a command and returns immediately.
func (s *Serializer) Submit(ctx context.Context, c cmd.Command, inv *cmd.Invocation) error {
	if inv == nil {
		inv = &cmd.Invocation{}
	}
	if !s.jobs.push(job{ctx: ctx, command: c, inv: inv}) {
		return ErrSerializerClosed
	}
	return nil
}

// Pending returns how many commands are waiting to run.
func (s *Serializer) Pending() int { return s.jobs.len() }

// Close stops accepting commands, runs the ones already queued and waits.
func (s *Serializer) Close() {
	s.jobs.close()
	<-s.done
}

func (s *Serializer) run() {
	defer close(s.done)
	for {
		j, ok := s.jobs.pop()
		if !ok {
			return
		}
		if err := s.exec(j); err != nil {
			s.log.Warn().Err(err).Str("command", j.command.Name()).Msg("Command failed")
			if r, ok := j.inv.Data.(ErrorReporter); ok {
				r.ReportError(err)
			}
		}
	}
}

func (s *Serializer) exec(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("command", j.command.Name()).Bytes("stack", debug.Stack()).Msg("Command panicked")
			err = fmt.Errorf("%w: command %s panicked: %v", ErrInvariant, j.command.Name(), r)
		}
	}()
	return j.command.Run(j.ctx, j.inv)
}
