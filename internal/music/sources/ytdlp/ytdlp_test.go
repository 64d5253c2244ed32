package ytdlp

import (
	"testing"
	"time"
)

func TestParseMetadata(t *testing.T) {
	meta, ok := parseMetadata("WARNING something\nabc123\tSong\tNA\t215.0\n")
	if !ok {
		t.Fatal("Expected metadata")
	}
	if meta.ID != "abc123" || meta.Title != "Song" || meta.Uploader != "" {
		t.Errorf("Unexpected metadata: %+v", meta)
	}
	if meta.Duration != 215*time.Second {
		t.Errorf("Expected 215s, got %s", meta.Duration)
	}

	if _, ok := parseMetadata(""); ok {
		t.Error("Expected no metadata for empty output")
	}
}

func TestIsPermanent(t *testing.T) {
	if !isPermanent("ERROR: [youtube] xyz: Private video. Sign in") {
		t.Error("Private video should be permanent")
	}
	if isPermanent("ERROR: unable to download webpage: HTTP Error 503") {
		t.Error("503 should be retried")
	}
}

func TestLastLine(t *testing.T) {
	if got := lastLine("[download] 100%\n/cache/abc.webm\n"); got != "/cache/abc.webm" {
		t.Errorf("Unexpected last line %q", got)
	}
}
