package youtube

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestIsYouTubeURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ&list=RD", true},
		{"https://youtu.be/dQw4w9WgXcQ?t=10", true},
		{"https://soundcloud.com/artist/track", false},
		{"never gonna give you up", false},
	}
	for _, tt := range tests {
		if got := isYouTubeURL(tt.in); got != tt.want {
			t.Errorf("isYouTubeURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExtFromMime(t *testing.T) {
	tests := map[string]string{
		`audio/webm; codecs="opus"`:    "webm",
		`audio/mp4; codecs="mp4a.40.2"`: "m4a",
		"audio/mpeg":                    "mp3",
		"video/x-flv":                   "bin",
	}
	for in, want := range tests {
		if got := extFromMime(in); got != want {
			t.Errorf("extFromMime(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSaveFileDoesNotShareTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/cache", 0o755); err != nil {
		t.Fatal(err)
	}
	const path = "/cache/abc.webm"

	// the first download stalls halfway while a second one completes
	pr, pw := io.Pipe()
	type result struct {
		n   int64
		err error
	}
	first := make(chan result, 1)
	go func() {
		n, err := saveFile(fs, pr, path, "abc")
		first <- result{n, err}
	}()
	if _, err := pw.Write([]byte("first-")); err != nil {
		t.Fatal(err)
	}

	if _, err := saveFile(fs, strings.NewReader("second"), path, "abc"); err != nil {
		t.Fatalf("second save: %v", err)
	}

	if _, err := pw.Write([]byte("download")); err != nil {
		t.Fatal(err)
	}
	pw.Close()
	res := <-first
	if res.err != nil {
		t.Fatalf("first save: %v", res.err)
	}
	if res.n != int64(len("first-download")) {
		t.Errorf("first save wrote %d bytes", res.n)
	}

	got, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("first-download")) {
		t.Errorf("Unexpected content %q", got)
	}

	parts, err := afero.Glob(fs, "/cache/*.part")
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 0 {
		t.Errorf("Leftover partial files %v", parts)
	}
}
