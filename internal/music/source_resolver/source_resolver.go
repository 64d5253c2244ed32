// Package source_resolver assembles the default source chain:
// local files, then YouTube links, then anything yt-dlp can extract, then
// free-text search.
package source_resolver

import (
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/keshon/voicequeue/internal/music/cache"
	"github.com/keshon/voicequeue/internal/music/sources"
	"github.com/keshon/voicequeue/internal/music/sources/local"
	"github.com/keshon/voicequeue/internal/music/sources/search"
	"github.com/keshon/voicequeue/internal/music/sources/youtube"
	"github.com/keshon/voicequeue/internal/music/sources/ytdlp"
	"github.com/keshon/voicequeue/pkg/retrylimit"
)

// NewLimiter returns the limiter shared by every network source. It starts
// at rps and backs off when upstreams start refusing requests.
func NewLimiter(rps float64) *retrylimit.AdaptiveLimiter {
	initial := rate.Limit(rps)
	return retrylimit.NewAdaptiveLimiter(initial, initial/4, initial*4, 0.1, 0.5)
}

// New wires the sources in match order. Downloads land in store.
func New(fs afero.Fs, store *cache.Cache, limiter *retrylimit.AdaptiveLimiter) *sources.Chain {
	yt := youtube.New(fs, store, limiter)
	dlp := ytdlp.New(fs, store, limiter)

	return sources.NewChain(
		local.New(fs),
		yt,
		dlp,
		search.New(search.NewYTSearch(limiter), yt, dlp),
	)
}
