package commands

import (
	"context"
	"time"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/pkg/cmd"
)

// WithCommandLogger logs every command run with its caller and outcome.
func WithCommandLogger() cmd.Middleware {
	log := logger.Component("commands")
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			start := time.Now()
			err := c.Run(ctx, inv)

			ev := log.Info()
			if err != nil {
				ev = log.Warn().Err(err)
			}
			if req, ok := inv.Data.(*Request); ok {
				ev = ev.Str("user", req.User).Str("guild", req.Destination.GuildID)
			}
			ev.Str("command", c.Name()).
				Strs("args", inv.Args).
				Dur("took", time.Since(start)).
				Msg("Command executed")
			return err
		})
	}
}
