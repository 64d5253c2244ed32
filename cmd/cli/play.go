package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/internal/music/commands"
	"github.com/keshon/voicequeue/internal/music/player"
	"github.com/keshon/voicequeue/internal/music/source_resolver"
	"github.com/keshon/voicequeue/internal/music/voice/speaker"
	"github.com/keshon/voicequeue/pkg/cmd"
	"github.com/keshon/voicequeue/pkg/jobmgr"
)

// sessionKey identifies the single local session.
const sessionKey = "local"

var localDest = player.Destination{GuildID: sessionKey, ChannelID: "speaker", TextChannelID: "stdout"}

func playCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play [query]...",
		Short: "Play links, files or searches on this machine's speaker",
		Long: "Queues every argument, then reads commands from stdin:\n" +
			"  play <query>, skip, pause, resume, stop, queue, nowplaying, quit\n" +
			"  playlist create|add|play|list <name> [query]",
		RunE: func(c *cobra.Command, args []string) error {
			if !speaker.Available {
				return errors.New("this build has no audio output; rebuild with cgo enabled")
			}
			cfg, done, err := setup()
			if err != nil {
				return err
			}
			defer done()

			fs := afero.NewOsFs()
			store, err := openCache(fs, cfg)
			if err != nil {
				return err
			}

			jobLog := logger.Component("jobs")
			jobs := jobmgr.NewManager(cfg.ResolveWorkers, func(s string) { jobLog.Debug().Msg(s) })
			defer jobs.Close()

			out := &lineWriter{w: c.OutOrStdout()}
			players := player.NewManager(player.Options{
				Transport:         speaker.NewTransport(cfg.FFmpegPath),
				Resolver:          source_resolver.New(fs, store, source_resolver.NewLimiter(cfg.ResolveRate)),
				Jobs:              jobs,
				Notifier:          out,
				Cache:             store,
				Fs:                fs,
				InactivityTimeout: cfg.InactivityTimeout,
				ResolveTimeout:    cfg.ResolveTimeout,
				CleanupDelay:      cfg.CleanupDelay,
			})
			defer players.Close()

			registry := cmd.NewRegistry()
			commands.Register(registry, commands.WithCommandLogger())

			for _, q := range args {
				if err := submit(players, registry, out, "play", []string{q}); err != nil {
					return err
				}
			}
			return repl(c.Context(), c.InOrStdin(), players, registry, out)
		},
	}
}

// repl feeds stdin lines to the session until quit, EOF or ctx is done.
func repl(ctx context.Context, in io.Reader, players *player.Manager, registry *cmd.Registry, out *lineWriter) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			name, args := parseLine(line)
			switch name {
			case "":
				continue
			case "quit", "exit":
				return nil
			}
			if err := submit(players, registry, out, name, args); err != nil {
				if errors.Is(err, player.ErrManagerClosed) {
					return err
				}
				out.Println(player.StatusError.Format(err.Error()))
			}
		}
	}
}

func submit(players *player.Manager, registry *cmd.Registry, out *lineWriter, name string, args []string) error {
	c, err := commands.Lookup(registry, name)
	if err != nil {
		return err
	}
	req := &commands.Request{Destination: localDest, User: "you", Reply: out.Println}
	return players.Submit(sessionKey, c, &cmd.Invocation{Args: args, Data: req})
}

// parseLine splits "play some song" into a command name and its arguments.
func parseLine(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// lineWriter prints notifications and replies one line at a time.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) Println(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, text)
}

func (l *lineWriter) Notify(dest player.Destination, text string) {
	l.Println(text)
}
