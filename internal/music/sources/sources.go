package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/voicequeue/internal/logger"
)

var (
	// ErrResolution wraps every failure to turn a query into a playable file.
	ErrResolution = errors.New("resolution failed")
	// ErrNoMatch means the query was understood but nothing was found.
	ErrNoMatch = errors.New("no match found")
	// ErrUnsupported means no source accepts the query.
	ErrUnsupported = errors.New("unsupported query")
)

const (
	SourceLocal   = "local"
	SourceYouTube = "youtube"
	SourceYTDLP   = "ytdlp"
	SourceSearch  = "search"
)

// Media is a resolved, locally playable file.
type Media struct {
	MediaID  string
	Title    string
	Uploader string
	Path     string
	Duration time.Duration
	Size     int64
	// Local marks files supplied by the user; they are never deleted.
	Local bool
	// Pinned means the file came from the cache and is already pinned for
	// the receiver, who must release it.
	Pinned bool
}

// Resolver turns a free-form query into a local audio file.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*Media, error)
}

// Source is one backend of a Chain.
type Source interface {
	// Match checks if this source can handle the given input
	Match(query string) bool

	Resolve(ctx context.Context, query string) (*Media, error)

	// SourceName returns the string identifier ("youtube", "local", etc.)
	SourceName() string
}

// Chain tries every matching source in order until one succeeds.
type Chain struct {
	sources []Source
	log     zerolog.Logger
}

func NewChain(srcs ...Source) *Chain {
	return &Chain{
		sources: srcs,
		log:     logger.Component("sources"),
	}
}

// Resolve implements Resolver. Every error it returns wraps ErrResolution.
func (c *Chain) Resolve(ctx context.Context, query string) (*Media, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrResolution)
	}

	var errs []error
	for _, src := range c.sources {
		if !src.Match(query) {
			continue
		}
		media, err := src.Resolve(ctx, query)
		if err == nil {
			c.log.Debug().Str("source", src.SourceName()).Str("query", query).Str("path", media.Path).Msg("Resolved")
			return media, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolution, ctx.Err())
		}
		c.log.Warn().Err(err).Str("source", src.SourceName()).Str("query", query).Msg("Source failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", src.SourceName(), err))
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %w: %q", ErrResolution, ErrUnsupported, query)
	}
	return nil, fmt.Errorf("%w: %w", ErrResolution, errors.Join(errs...))
}

// IsURL reports whether s looks like an http(s) link.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
