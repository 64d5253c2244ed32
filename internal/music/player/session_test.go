package player

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/music/cache"
	"github.com/keshon/voicequeue/internal/music/queue"
	"github.com/keshon/voicequeue/internal/music/sources"
)

func TestAutoAdvanceScenario(t *testing.T) {
	h := newHarness(t)
	h.opts.InactivityTimeout = 50 * time.Millisecond
	s := h.session()
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, guild, "a", "user"); err != nil {
		t.Fatalf("Enqueue a: %v", err)
	}
	if _, err := s.Enqueue(ctx, guild, "b", "user"); err != nil {
		t.Fatalf("Enqueue b: %v", err)
	}

	waitFor(t, "a to play", func() bool { return playingTitle(s) == "A" })
	waitFor(t, "b to be preloaded", func() bool {
		snap := s.Snapshot()
		return len(snap.Queue) == 1 && !snap.Queue[0].IsPending()
	})

	voice := h.transport.last()
	voice.finish(nil)
	waitFor(t, "b to play", func() bool { return playingTitle(s) == "B" })

	voice.finish(nil)
	waitFor(t, "idle", func() bool { return s.State() == StateIdle && playingTitle(s) == "" })

	waitFor(t, "inactivity disconnect", func() bool { return s.State() == StateDisconnected })
	if got := voice.playedPaths(); !slices.Equal(got, []string{"/tmp/a.webm", "/tmp/b.webm"}) {
		t.Errorf("Unexpected play order %v", got)
	}
	if voice.disconnectCount() != 1 {
		t.Errorf("Expected exactly one disconnect, got %d", voice.disconnectCount())
	}
}

func TestPendingEntryIsNeverPlayed(t *testing.T) {
	h := newHarness(t)
	gate := h.resolver.gate("slow")
	s := h.session()

	if _, err := s.Enqueue(context.Background(), guild, "slow", "user"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	voice := h.transport.last()
	if len(voice.playedPaths()) != 0 {
		t.Fatal("Pending entry must not be played")
	}
	snap := s.Snapshot()
	if snap.State != StateIdle || len(snap.Queue) != 1 || snap.Queue[0].Title != queue.LoadingTitle {
		t.Fatalf("Unexpected snapshot while resolving: %+v", snap)
	}

	close(gate)
	waitFor(t, "slow to play", func() bool { return playingTitle(s) == "SLOW" })
}

func TestFIFOOrder(t *testing.T) {
	h := newHarness(t)
	s := h.session()
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c", "d"} {
		if _, err := s.Enqueue(ctx, guild, q, "user"); err != nil {
			t.Fatal(err)
		}
	}

	voice := h.transport.last()
	for _, want := range []string{"A", "B", "C", "D"} {
		waitFor(t, want, func() bool { return playingTitle(s) == want })
		voice.finish(nil)
	}
	waitFor(t, "idle", func() bool { return s.State() == StateIdle })

	if got := voice.playedPaths(); !slices.Equal(got, []string{"/tmp/a.webm", "/tmp/b.webm", "/tmp/c.webm", "/tmp/d.webm"}) {
		t.Errorf("Unexpected play order %v", got)
	}
	if h.resolver.peak() > 1 {
		t.Errorf("Expected at most one resolution in flight, saw %d", h.resolver.peak())
	}
}

func TestResolutionFailureRemovesEntry(t *testing.T) {
	h := newHarness(t)
	h.resolver.fail["bad"] = errBoom
	s := h.session()
	ctx := context.Background()

	_, _ = s.Enqueue(ctx, guild, "bad", "user")
	_, _ = s.Enqueue(ctx, guild, "good", "user")

	waitFor(t, "good to play", func() bool { return playingTitle(s) == "GOOD" })
	if h.notifier.count(`could not load "bad"`) != 1 {
		t.Errorf("Expected one resolution error notice, got %v", h.notifier.msgs)
	}
	if len(s.Snapshot().Queue) != 0 {
		t.Error("Failed entry must be removed")
	}
}

func TestSkip(t *testing.T) {
	h := newHarness(t)
	s := h.session()
	ctx := context.Background()

	if err := s.Skip(); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Expected ErrNothingPlaying when disconnected, got %v", err)
	}

	_ = s.Join(ctx, guild)
	if err := s.Skip(); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Expected ErrNothingPlaying when idle, got %v", err)
	}

	_, _ = s.Enqueue(ctx, guild, "a", "user")
	_, _ = s.Enqueue(ctx, guild, "b", "user")
	waitFor(t, "a", func() bool { return playingTitle(s) == "A" })

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	waitFor(t, "b", func() bool { return playingTitle(s) == "B" })
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	s := h.session()
	ctx := context.Background()

	if err := s.Pause(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("Expected ErrNotPlaying, got %v", err)
	}

	_, _ = s.Enqueue(ctx, guild, "a", "user")
	waitFor(t, "a", func() bool { return playingTitle(s) == "A" })

	if err := s.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Expected ErrNotPaused while playing, got %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if s.State() != StatePaused || !h.transport.last().IsPaused() {
		t.Error("Expected paused session and voice")
	}
	if err := s.Pause(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("Expected ErrNotPlaying while paused, got %v", err)
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if s.State() != StatePlaying {
		t.Errorf("Expected playing, got %s", s.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := h.session()
	ctx := context.Background()

	if err := s.Stop(); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Expected ErrNothingPlaying, got %v", err)
	}

	_, _ = s.Enqueue(ctx, guild, "a", "user")
	_, _ = s.Enqueue(ctx, guild, "b", "user")
	waitFor(t, "a", func() bool { return playingTitle(s) == "A" })
	voice := h.transport.last()

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := s.Snapshot()
	if snap.State != StateDisconnected || snap.Current != nil || len(snap.Queue) != 0 {
		t.Errorf("Unexpected snapshot after stop: %+v", snap)
	}

	if err := s.Stop(); !errors.Is(err, ErrNothingPlaying) {
		t.Errorf("Expected ErrNothingPlaying on second stop, got %v", err)
	}
	if voice.disconnectCount() != 1 {
		t.Errorf("Expected one disconnect, got %d", voice.disconnectCount())
	}

	// the finished callback of the stopped track is stale
	time.Sleep(20 * time.Millisecond)
	if s.State() != StateDisconnected {
		t.Errorf("Stale finish event changed state to %s", s.State())
	}
}

func TestStopDiscardsInFlightResolution(t *testing.T) {
	h := newHarness(t)
	gate := h.resolver.gate("slow")
	s := h.session()
	ctx := context.Background()

	_, _ = s.Enqueue(ctx, guild, "slow", "user")
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	close(gate)
	waitFor(t, "resolution to finish", func() bool { return h.resolver.finished() == 1 })
	waitFor(t, "temp file to be deleted", func() bool {
		ok, _ := afero.Exists(h.fs, "/tmp/slow.webm")
		return !ok
	})

	if s.State() != StateDisconnected || len(s.Snapshot().Queue) != 0 {
		t.Error("Late resolution must not revive the session")
	}
	if len(h.transport.last().playedPaths()) != 0 {
		t.Error("Nothing should have played")
	}
}

func TestInactivityCancelledByNewWork(t *testing.T) {
	h := newHarness(t)
	h.opts.InactivityTimeout = 40 * time.Millisecond
	s := h.session()
	ctx := context.Background()

	if err := s.Join(ctx, guild); err != nil {
		t.Fatal(err)
	}
	_, _ = s.Enqueue(ctx, guild, "a", "user")
	waitFor(t, "a", func() bool { return playingTitle(s) == "A" })

	time.Sleep(100 * time.Millisecond)
	if s.State() != StatePlaying {
		t.Errorf("Expected to keep playing, got %s", s.State())
	}
}

func TestInactivityDisconnectsOnce(t *testing.T) {
	h := newHarness(t)
	h.opts.InactivityTimeout = 20 * time.Millisecond
	s := h.session()

	if err := s.Join(context.Background(), guild); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "disconnect", func() bool { return s.State() == StateDisconnected })
	time.Sleep(60 * time.Millisecond)

	if got := h.transport.last().disconnectCount(); got != 1 {
		t.Errorf("Expected one disconnect, got %d", got)
	}
	if got := h.notifier.count("inactivity"); got != 1 {
		t.Errorf("Expected one inactivity notice, got %d", got)
	}
}

func TestJoin(t *testing.T) {
	h := newHarness(t)
	s := h.session()
	ctx := context.Background()

	if err := s.Join(ctx, Destination{GuildID: "g1"}); !errors.Is(err, ErrNoUserDestination) {
		t.Errorf("Expected ErrNoUserDestination, got %v", err)
	}
	if err := s.Join(ctx, guild); err != nil {
		t.Fatal(err)
	}
	if err := s.Join(ctx, guild); err != nil {
		t.Fatal(err)
	}
	if err := s.Join(ctx, guild2); err != nil {
		t.Fatal(err)
	}

	if h.transport.connects != 1 {
		t.Errorf("Expected one connect, got %d", h.transport.connects)
	}
	if moves := h.transport.last().moves; !slices.Equal(moves, []string{"voice-2"}) {
		t.Errorf("Expected a single move to voice-2, got %v", moves)
	}
	if s.Snapshot().Destination.ChannelID != "voice-2" {
		t.Error("Destination not updated")
	}
}

func TestConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.transport.err = ErrNoPermission
	s := h.session()

	_, err := s.Enqueue(context.Background(), guild, "a", "user")
	if !errors.Is(err, ErrTransport) || !errors.Is(err, ErrNoPermission) {
		t.Errorf("Expected wrapped transport error, got %v", err)
	}
	if s.State() != StateDisconnected || len(s.Snapshot().Queue) != 0 {
		t.Error("Failed connect must leave the session untouched")
	}
}

func TestPlayFailureMovesOn(t *testing.T) {
	h := newHarness(t)
	h.transport.playErr["/tmp/a.webm"] = errBoom
	s := h.session()
	ctx := context.Background()

	_, _ = s.Enqueue(ctx, guild, "a", "user")
	_, _ = s.Enqueue(ctx, guild, "b", "user")

	waitFor(t, "b", func() bool { return playingTitle(s) == "B" })
	if h.notifier.count("could not play") != 1 {
		t.Errorf("Expected one play error notice, got %v", h.notifier.msgs)
	}
}

func TestPendingHeadWithoutResolutionIsDropped(t *testing.T) {
	h := newHarness(t)
	s := h.session()
	if err := s.Join(context.Background(), guild); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	s.queue.Push(queue.NewPending("orphan", "user"))
	s.advanceLocked()
	snap := s.queue.Len()
	state := s.state
	s.mu.Unlock()

	if snap != 0 || state != StateIdle {
		t.Errorf("Expected orphan dropped and idle, got len=%d state=%s", snap, state)
	}
}

func TestCachedEntryPinnedWhilePlaying(t *testing.T) {
	h := newHarness(t)
	c, err := cache.New(h.fs, "/cache", 50)
	if err != nil {
		t.Fatal(err)
	}
	h.resolver.dir = "/cache"
	h.resolver.size = 40
	h.opts.Cache = c
	s := h.session()

	_, _ = s.Enqueue(context.Background(), guild, "a", "user")
	waitFor(t, "a", func() bool { return playingTitle(s) == "A" })

	if !c.Pinned("a") {
		t.Fatal("Playing entry must be pinned")
	}
	if cur := s.Snapshot().Current; cur.Origin != queue.OriginCache {
		t.Errorf("Expected cache origin, got %s", cur.Origin)
	}

	// push the cache over budget while a is playing
	_ = afero.WriteFile(h.fs, "/cache/x.webm", make([]byte, 40), 0o644)
	c.Put("x", "/cache/x.webm", 40)
	if ok, _ := afero.Exists(h.fs, "/cache/a.webm"); !ok {
		t.Fatal("Pinned file was evicted")
	}

	h.transport.last().finish(nil)
	waitFor(t, "unpin", func() bool { return !c.Pinned("a") })
	if c.Size() > c.Budget() {
		t.Errorf("Cache over budget after unpin: %d", c.Size())
	}
}

// hitResolver serves "x" from the cache and lets another writer fill the
// cache before the session sees the result.
type hitResolver struct {
	c      *cache.Cache
	before func()
}

func (r *hitResolver) Resolve(ctx context.Context, q string) (*sources.Media, error) {
	e, ok := r.c.Acquire(q)
	if !ok {
		return nil, sources.ErrNoMatch
	}
	if r.before != nil {
		r.before()
	}
	return &sources.Media{MediaID: q, Title: strings.ToUpper(q), Path: e.Path, Size: e.Size, Pinned: true}, nil
}

func TestCacheHitSurvivesConcurrentEviction(t *testing.T) {
	h := newHarness(t)
	c, err := cache.New(h.fs, "/cache", 100)
	if err != nil {
		t.Fatal(err)
	}
	_ = afero.WriteFile(h.fs, "/cache/x.webm", make([]byte, 40), 0o644)
	c.Put("x", "/cache/x.webm", 40)

	h.opts.Cache = c
	h.opts.Resolver = &hitResolver{c: c, before: func() {
		_ = afero.WriteFile(h.fs, "/cache/y.webm", make([]byte, 80), 0o644)
		c.Put("y", "/cache/y.webm", 80)
	}}
	s := h.session()

	_, _ = s.Enqueue(context.Background(), guild, "x", "user")
	waitFor(t, "x", func() bool { return playingTitle(s) == "X" })

	if ok, _ := afero.Exists(h.fs, "/cache/x.webm"); !ok {
		t.Fatal("Cache hit was evicted before playback")
	}
	if got := h.transport.last().playedPaths(); !slices.Equal(got, []string{"/cache/x.webm"}) {
		t.Fatalf("Unexpected plays %v", got)
	}
	if c.Size() != 40 {
		t.Errorf("Expected only x to be indexed, got %d bytes", c.Size())
	}

	h.transport.last().finish(nil)
	waitFor(t, "unpin", func() bool { return !c.Pinned("x") })
}

func TestStopReleasesPinnedHit(t *testing.T) {
	h := newHarness(t)
	c, err := cache.New(h.fs, "/cache", 100)
	if err != nil {
		t.Fatal(err)
	}
	_ = afero.WriteFile(h.fs, "/cache/x.webm", make([]byte, 40), 0o644)
	c.Put("x", "/cache/x.webm", 40)

	gate := make(chan struct{})
	h.opts.Cache = c
	h.opts.Resolver = &hitResolver{c: c, before: func() { <-gate }}
	s := h.session()

	_, _ = s.Enqueue(context.Background(), guild, "x", "user")
	waitFor(t, "x acquired", func() bool { return c.Pinned("x") })
	_ = s.Stop()
	close(gate)

	waitFor(t, "unpin", func() bool { return !c.Pinned("x") })
	if ok, _ := afero.Exists(h.fs, "/cache/x.webm"); !ok {
		t.Error("Discarded hit must stay in the cache")
	}
}

func TestTempFileDeletedAfterPlay(t *testing.T) {
	h := newHarness(t)
	s := h.session()

	_, _ = s.Enqueue(context.Background(), guild, "a", "user")
	waitFor(t, "a", func() bool { return playingTitle(s) == "A" })
	if cur := s.Snapshot().Current; cur.Origin != queue.OriginTemp {
		t.Fatalf("Expected temp origin, got %s", cur.Origin)
	}

	h.transport.last().finish(nil)
	waitFor(t, "temp file removal", func() bool {
		ok, _ := afero.Exists(h.fs, "/tmp/a.webm")
		return !ok
	})
}
