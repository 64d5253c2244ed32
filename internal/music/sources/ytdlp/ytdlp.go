// Package ytdlp downloads audio for any link yt-dlp understands.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/internal/music/cache"
	"github.com/keshon/voicequeue/internal/music/sources"
	"github.com/keshon/voicequeue/pkg/retrylimit"
)

const (
	maxAttempts = 3
	audioFormat = "bestaudio[ext=webm]/bestaudio"
)

// Store is the part of the disk cache a downloader needs.
type Store interface {
	Acquire(id string) (cache.Entry, bool)
	Dir() string
}

type YTDLPSource struct {
	fs      afero.Fs
	store   Store
	limiter *retrylimit.AdaptiveLimiter
	log     zerolog.Logger
}

func New(fs afero.Fs, store Store, limiter *retrylimit.AdaptiveLimiter) *YTDLPSource {
	return &YTDLPSource{
		fs:      fs,
		store:   store,
		limiter: limiter,
		log:     logger.Component("ytdlp"),
	}
}

func (s *YTDLPSource) SourceName() string { return sources.SourceYTDLP }

// Match accepts any http(s) link; yt-dlp decides whether it can extract it.
func (s *YTDLPSource) Match(query string) bool {
	return sources.IsURL(query)
}

// Resolve accepts links as well as yt-dlp search targets like "ytsearch1:query".
func (s *YTDLPSource) Resolve(ctx context.Context, target string) (*sources.Media, error) {
	var meta *metadata
	err := retrylimit.Retry(ctx, s.limiter, maxAttempts, func() error {
		m, err := s.metadata(ctx, target)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	media := &sources.Media{
		MediaID:  meta.ID,
		Title:    meta.Title,
		Uploader: meta.Uploader,
		Duration: meta.Duration,
	}

	if entry, ok := s.store.Acquire(meta.ID); ok {
		s.log.Debug().Str("id", meta.ID).Msg("Cache hit")
		media.Path = entry.Path
		media.Size = entry.Size
		media.Pinned = true
		return media, nil
	}

	var path string
	err = retrylimit.Retry(ctx, s.limiter, maxAttempts, func() error {
		p, err := s.download(ctx, target)
		if err != nil {
			return err
		}
		path = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("downloaded file missing: %w", err)
	}
	media.Path = path
	media.Size = info.Size()

	s.log.Info().Str("id", meta.ID).Str("title", meta.Title).Int64("bytes", media.Size).Msg("Downloaded")
	return media, nil
}

type metadata struct {
	ID, Title, Uploader string
	Duration            time.Duration
}

func (s *YTDLPSource) metadata(ctx context.Context, target string) (*metadata, error) {
	res, err := ytdlp.New().
		Print("%(id)s\t%(title)s\t%(uploader)s\t%(duration)s").
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", target)
	if err != nil {
		if res != nil && isPermanent(res.Stderr) {
			return nil, retrylimit.Fatal(fmt.Errorf("%w: %s", sources.ErrNoMatch, firstLine(res.Stderr)))
		}
		return nil, fmt.Errorf("yt-dlp metadata error: %w", err)
	}

	meta, ok := parseMetadata(res.Stdout)
	if !ok {
		return nil, retrylimit.Fatal(fmt.Errorf("%w: yt-dlp returned no entries for %q", sources.ErrNoMatch, target))
	}
	return meta, nil
}

// download saves the audio as {cacheDir}/{id}.{ext} and returns the final path.
func (s *YTDLPSource) download(ctx context.Context, target string) (string, error) {
	res, err := ytdlp.New().
		Format(audioFormat).
		Output(filepath.Join(s.store.Dir(), "%(id)s.%(ext)s")).
		Print("after_move:filepath").
		NoSimulate().
		NoPlaylist().
		NoCheckFormats().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, target)
	if err != nil {
		if res != nil && isPermanent(res.Stderr) {
			return "", retrylimit.Fatal(fmt.Errorf("%w: %s", sources.ErrNoMatch, firstLine(res.Stderr)))
		}
		return "", fmt.Errorf("yt-dlp download error: %w", err)
	}

	path := lastLine(res.Stdout)
	if path == "" {
		return "", errors.New("yt-dlp did not report the output file")
	}
	return path, nil
}

// parseMetadata reads the first "id\ttitle\tuploader\tduration" line.
func parseMetadata(stdout string) (*metadata, bool) {
	for _, l := range strings.Split(strings.TrimSpace(stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 4 || ps[0] == "" || ps[0] == "NA" {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		meta := &metadata{ID: ps[0], Title: ps[1], Uploader: ps[2], Duration: d}
		if meta.Uploader == "NA" {
			meta.Uploader = ""
		}
		return meta, true
	}
	return nil, false
}

// isPermanent recognises yt-dlp failures that retrying will not fix.
func isPermanent(stderr string) bool {
	msg := strings.ToLower(stderr)
	for _, s := range []string{"unsupported url", "video unavailable", "private video", "drm", "is not a valid url"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
