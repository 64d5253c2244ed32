// Package youtube downloads audio for YouTube links with the kkdai client.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/internal/music/cache"
	"github.com/keshon/voicequeue/internal/music/sources"
	"github.com/keshon/voicequeue/pkg/retrylimit"
)

const maxAttempts = 3

var youtubeURLPattern = regexp.MustCompile(`(?:https?:\/\/)?(?:www\.|music\.|m\.)?(youtube\.com|youtu\.be)\/\S+`)

// Store is the part of the disk cache a downloader needs.
type Store interface {
	Acquire(id string) (cache.Entry, bool)
	Path(id, ext string) string
}

type YouTubeSource struct {
	client  *youtube.Client
	fs      afero.Fs
	store   Store
	limiter *retrylimit.AdaptiveLimiter
	log     zerolog.Logger
}

func New(fs afero.Fs, store Store, limiter *retrylimit.AdaptiveLimiter) *YouTubeSource {
	return &YouTubeSource{
		client:  &youtube.Client{},
		fs:      fs,
		store:   store,
		limiter: limiter,
		log:     logger.Component("youtube"),
	}
}

func (y *YouTubeSource) SourceName() string { return sources.SourceYouTube }

func (y *YouTubeSource) Match(query string) bool {
	return isYouTubeURL(query)
}

// Resolve fetches the video metadata, reuses a cached download when there is
// one and otherwise downloads the best audio-only format into the cache dir.
func (y *YouTubeSource) Resolve(ctx context.Context, query string) (*sources.Media, error) {
	videoID, err := youtube.ExtractVideoID(strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sources.ErrUnsupported, err)
	}

	var video *youtube.Video
	err = retrylimit.Retry(ctx, y.limiter, maxAttempts, func() error {
		v, err := y.client.GetVideoContext(ctx, videoID)
		if err != nil {
			if errors.Is(err, youtube.ErrVideoPrivate) || errors.Is(err, youtube.ErrLoginRequired) {
				return retrylimit.Fatal(err)
			}
			return err
		}
		video = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("youtube client error: %w", err)
	}

	media := &sources.Media{
		MediaID:  video.ID,
		Title:    video.Title,
		Uploader: video.Author,
		Duration: video.Duration,
	}

	if entry, ok := y.store.Acquire(video.ID); ok {
		y.log.Debug().Str("id", video.ID).Msg("Cache hit")
		media.Path = entry.Path
		media.Size = entry.Size
		media.Pinned = true
		return media, nil
	}

	format, err := pickFormat(video)
	if err != nil {
		return nil, err
	}

	path := y.store.Path(video.ID, extFromMime(format.MimeType))
	err = retrylimit.Retry(ctx, y.limiter, maxAttempts, func() error {
		n, err := y.download(ctx, video, format, path)
		if err != nil {
			return err
		}
		media.Size = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("youtube download error: %w", err)
	}

	media.Path = path
	y.log.Info().Str("id", video.ID).Str("title", video.Title).Int64("bytes", media.Size).Msg("Downloaded")
	return media, nil
}

func (y *YouTubeSource) download(ctx context.Context, video *youtube.Video, format *youtube.Format, path string) (int64, error) {
	stream, _, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return 0, fmt.Errorf("get stream error: %w", err)
	}
	defer stream.Close()

	return saveFile(y.fs, stream, path, video.ID)
}

// saveFile copies r into its own temp file next to path, then renames it into
// place. Concurrent downloads of one id never share a partial file.
func saveFile(fs afero.Fs, r io.Reader, path, id string) (int64, error) {
	f, err := afero.TempFile(fs, filepath.Dir(path), id+"-*.part")
	if err != nil {
		return 0, retrylimit.Fatal(fmt.Errorf("create temp file for %s: %w", path, err))
	}
	part := f.Name()

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fs.Remove(part)
		return 0, fmt.Errorf("copy stream: %w", err)
	}

	if err := fs.Rename(part, path); err != nil {
		_ = fs.Remove(part)
		return 0, retrylimit.Fatal(fmt.Errorf("rename %s: %w", part, err))
	}
	return n, nil
}

// pickFormat prefers opus audio-only streams, then whatever sorts best.
func pickFormat(video *youtube.Video) (*youtube.Format, error) {
	formats := video.Formats.WithAudioChannels().Type("audio")
	if len(formats) == 0 {
		return nil, fmt.Errorf("%w: no audio formats found for video %s", sources.ErrNoMatch, video.ID)
	}
	for i := range formats {
		if strings.Contains(formats[i].MimeType, "opus") {
			return &formats[i], nil
		}
	}
	formats.Sort()
	return &formats[0], nil
}

func isYouTubeURL(input string) bool {
	return youtubeURLPattern.MatchString(input)
}

// extFromMime maps "audio/webm; codecs=\"opus\"" to "webm", "audio/mp4" to "m4a".
func extFromMime(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "audio/webm":
		return "webm"
	case "audio/mp4":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	default:
		return "bin"
	}
}
