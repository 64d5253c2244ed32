// Package search turns free text into a YouTube video and resolves it.
package search

import (
	"context"
	"fmt"

	"github.com/ppalone/ytsearch"
	"github.com/rs/zerolog"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/internal/music/sources"
	"github.com/keshon/voicequeue/pkg/retrylimit"
)

const maxAttempts = 2

// Finder returns a watch URL for the best match of query.
type Finder interface {
	Find(ctx context.Context, query string) (string, error)
}

// YTSearch is the default Finder.
type YTSearch struct {
	limiter *retrylimit.AdaptiveLimiter
}

func NewYTSearch(limiter *retrylimit.AdaptiveLimiter) *YTSearch {
	return &YTSearch{limiter: limiter}
}

func (y *YTSearch) Find(ctx context.Context, query string) (string, error) {
	var url string
	err := retrylimit.Retry(ctx, y.limiter, maxAttempts, func() error {
		c := ytsearch.NewClient(nil)
		r, err := c.Search(ctx, query)
		if err != nil {
			return err
		}
		for _, v := range r.Results {
			if v.VideoID != "" {
				url = "https://www.youtube.com/watch?v=" + v.VideoID
				return nil
			}
		}
		return retrylimit.Fatal(fmt.Errorf("%w: %q", sources.ErrNoMatch, query))
	})
	return url, err
}

// SearchSource handles every query that is not a link. It looks the query up
// with a Finder and hands the link to next; if that fails, fallback gets a
// yt-dlp search target instead.
type SearchSource struct {
	finder   Finder
	next     sources.Resolver
	fallback sources.Resolver
	log      zerolog.Logger
}

func New(finder Finder, next, fallback sources.Resolver) *SearchSource {
	return &SearchSource{
		finder:   finder,
		next:     next,
		fallback: fallback,
		log:      logger.Component("search"),
	}
}

func (s *SearchSource) SourceName() string { return sources.SourceSearch }

func (s *SearchSource) Match(query string) bool {
	return !sources.IsURL(query)
}

func (s *SearchSource) Resolve(ctx context.Context, query string) (*sources.Media, error) {
	url, err := s.finder.Find(ctx, query)
	if err == nil {
		media, rerr := s.next.Resolve(ctx, url)
		if rerr == nil {
			return media, nil
		}
		err = rerr
	}
	if ctx.Err() != nil || s.fallback == nil {
		return nil, err
	}

	s.log.Warn().Err(err).Str("query", query).Msg("Search failed, falling back to yt-dlp search")
	return s.fallback.Resolve(ctx, "ytsearch1:"+query)
}
