// Package logger configures the process-wide zerolog logger.
//
// Components take a child logger tagged with their name, the structured
// counterpart of the old "[Player]" / "[Cache]" log prefixes:
//
//	log := logger.Component("player")
//	log.Info().Str("guild", id).Msg("Now playing")
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options mirrors the logging section of config.Config.
type Options struct {
	Level  string
	File   string
	Pretty bool
}

// Init replaces the global logger. An empty File logs to stderr only.
func Init(opts Options) io.Closer {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var console io.Writer = os.Stderr
	if opts.Pretty {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	var closer io.Closer = nopCloser{}
	out := console
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		closer = rotator
		out = zerolog.MultiLevelWriter(console, rotator)
	}

	zlog.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer
}

// Component returns a child of the global logger tagged with name.
func Component(name string) zerolog.Logger {
	return zlog.Logger.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
