// Package local resolves paths to audio files already on disk.
package local

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/music/sources"
)

// Extensions ffmpeg is expected to decode.
var audioExts = map[string]bool{
	".mp3": true, ".m4a": true, ".webm": true, ".opus": true, ".ogg": true,
	".flac": true, ".wav": true, ".aac": true, ".mka": true, ".mp4": true,
}

type LocalSource struct {
	fs afero.Fs
}

func New(fs afero.Fs) *LocalSource {
	return &LocalSource{fs: fs}
}

func (l *LocalSource) SourceName() string { return sources.SourceLocal }

// Match accepts file:// links and existing paths with a known audio extension.
func (l *LocalSource) Match(query string) bool {
	path := trimScheme(query)
	if !audioExts[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	ok, err := afero.Exists(l.fs, path)
	return err == nil && ok
}

func (l *LocalSource) Resolve(ctx context.Context, query string) (*sources.Media, error) {
	path := trimScheme(query)

	info, err := l.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sources.ErrNoMatch, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", sources.ErrUnsupported, path)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	base := filepath.Base(path)

	return &sources.Media{
		MediaID: base,
		Title:   strings.TrimSuffix(base, filepath.Ext(base)),
		Path:    path,
		Size:    info.Size(),
		Local:   true,
	}, nil
}

func trimScheme(query string) string {
	return strings.TrimPrefix(strings.TrimSpace(query), "file://")
}
