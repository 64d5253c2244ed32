package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/music/sources"
	"github.com/keshon/voicequeue/pkg/jobmgr"
)

var (
	guild  = Destination{GuildID: "g1", ChannelID: "voice-1", TextChannelID: "text-1"}
	guild2 = Destination{GuildID: "g1", ChannelID: "voice-2", TextChannelID: "text-1"}
)

type fakeTransport struct {
	mu       sync.Mutex
	err      error
	connects int
	voices   []*fakeVoice
	playErr  map[string]error
}

func (t *fakeTransport) Connect(ctx context.Context, dest Destination) (Voice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	t.connects++
	v := &fakeVoice{channel: dest.ChannelID, connected: true, playErr: t.playErr}
	t.voices = append(t.voices, v)
	return v, nil
}

func (t *fakeTransport) last() *fakeVoice {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.voices) == 0 {
		return nil
	}
	return t.voices[len(t.voices)-1]
}

type fakeVoice struct {
	mu          sync.Mutex
	channel     string
	connected   bool
	paused      bool
	current     string
	onFinished  func(error)
	played      []string
	moves       []string
	disconnects int
	playErr     map[string]error
}

func (v *fakeVoice) Move(ctx context.Context, dest Destination) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channel = dest.ChannelID
	v.moves = append(v.moves, dest.ChannelID)
	return nil
}

func (v *fakeVoice) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
	v.disconnects++
	return nil
}

func (v *fakeVoice) Play(path string, onFinished func(error)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.playErr[path]; err != nil {
		return err
	}
	v.current = path
	v.paused = false
	v.onFinished = onFinished
	v.played = append(v.played, path)
	return nil
}

// Stop ends playback like a real transport: the finished callback fires.
func (v *fakeVoice) Stop() {
	v.finish(nil)
}

// finish simulates the end of the current track.
func (v *fakeVoice) finish(err error) bool {
	v.mu.Lock()
	cb := v.onFinished
	v.onFinished = nil
	v.current = ""
	v.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(err)
	return true
}

func (v *fakeVoice) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = true
	return nil
}

func (v *fakeVoice) Resume() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = false
	return nil
}

func (v *fakeVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current != "" && !v.paused
}

func (v *fakeVoice) IsPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *fakeVoice) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

func (v *fakeVoice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.channel
}

func (v *fakeVoice) playedPaths() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.played...)
}

func (v *fakeVoice) disconnectCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disconnects
}

// fakeResolver resolves "q" to {dir}/q.webm. Queries with a gate block until
// the gate is closed; queries in fail return that error.
type fakeResolver struct {
	mu    sync.Mutex
	fs    afero.Fs
	dir   string
	size  int64
	gates map[string]chan struct{}
	fail  map[string]error
	calls []string
	done  []string

	inflight    int
	maxInflight int
}

func newFakeResolver(fs afero.Fs, dir string) *fakeResolver {
	return &fakeResolver{
		fs:    fs,
		dir:   dir,
		size:  10,
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]error),
	}
}

func (r *fakeResolver) gate(q string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := make(chan struct{})
	r.gates[q] = g
	return g
}

func (r *fakeResolver) Resolve(ctx context.Context, q string) (*sources.Media, error) {
	r.mu.Lock()
	r.calls = append(r.calls, q)
	r.inflight++
	r.maxInflight = max(r.maxInflight, r.inflight)
	gate := r.gates[q]
	failErr := r.fail[q]
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight--
		r.done = append(r.done, q)
		r.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	path := r.dir + "/" + q + ".webm"
	if err := afero.WriteFile(r.fs, path, make([]byte, r.size), 0o644); err != nil {
		return nil, err
	}
	return &sources.Media{MediaID: q, Title: strings.ToUpper(q), Path: path, Size: r.size}, nil
}

func (r *fakeResolver) finished() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

func (r *fakeResolver) peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInflight
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(dest Destination, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *fakeNotifier) count(substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.msgs {
		if strings.Contains(m, substr) {
			c++
		}
	}
	return c
}

type harness struct {
	t         *testing.T
	fs        afero.Fs
	transport *fakeTransport
	resolver  *fakeResolver
	notifier  *fakeNotifier
	jobs      *jobmgr.Manager
	opts      Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	h := &harness{
		t:         t,
		fs:        fs,
		transport: &fakeTransport{playErr: map[string]error{}},
		resolver:  newFakeResolver(fs, "/tmp"),
		notifier:  &fakeNotifier{},
		jobs:      jobmgr.NewManager(4, nil),
	}
	h.opts = Options{
		Transport:         h.transport,
		Resolver:          h.resolver,
		Jobs:              h.jobs,
		Notifier:          h.notifier,
		Fs:                fs,
		InactivityTimeout: time.Hour,
		ResolveTimeout:    5 * time.Second,
	}
	t.Cleanup(h.jobs.Close)
	return h
}

func (h *harness) session() *Session {
	h.t.Helper()
	s := NewSession("g1", h.opts)
	h.t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func playingTitle(s *Session) string {
	snap := s.Snapshot()
	if snap.Current == nil {
		return ""
	}
	return snap.Current.Title
}

var errBoom = errors.New("boom")
