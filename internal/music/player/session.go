package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/internal/music/queue"
	"github.com/keshon/voicequeue/internal/music/sources"
	"github.com/keshon/voicequeue/pkg/jobmgr"
)

// MediaCache is the part of the disk cache a session needs to keep the
// files it plays from being evicted.
type MediaCache interface {
	Contains(path string) bool
	Budget() int64
	Put(id, path string, size int64)
	Pin(id string)
	Unpin(id string)
}

type Options struct {
	Transport Transport
	Resolver  sources.Resolver
	Jobs      *jobmgr.Manager
	Notifier  Notifier
	// Cache may be nil; every downloaded file is then temporary.
	Cache MediaCache
	// Fs is used to delete temporary files. Defaults to the OS filesystem.
	Fs afero.Fs

	InactivityTimeout time.Duration
	ResolveTimeout    time.Duration
	CleanupDelay      time.Duration
}

// Snapshot is a copy of a session's observable state.
type Snapshot struct {
	State       State
	Destination Destination
	Current     *queue.Entry
	Queue       []queue.Entry
}

type trackFinished struct {
	generation uint64
	err        error
}

type resolutionDone struct {
	entryID string
	media   *sources.Media
	err     error
}

type inactivityFired struct {
	generation uint64
}

// Session plays one guild's queue through one voice connection.
//
// Every state change happens with mu held. Commands call the exported
// methods; transport callbacks, finished resolutions and the inactivity
// timer never touch state directly but post events that the session's own
// event loop applies under mu.
type Session struct {
	mu   sync.Mutex
	key  string
	opts Options

	dest    Destination
	state   State
	voice   Voice
	current *queue.Entry
	queue   *queue.Queue

	resolving  string // entry ID with an in-flight resolution
	waiting    bool   // advance is blocked on that resolution
	generation uint64 // bumped for every started track and on Stop
	idle       inactivityTimer
	playlists  Playlists

	events   *fifo[any]
	loopDone chan struct{}
	log      zerolog.Logger
}

// NewSession starts the session's event loop. Close stops it.
func NewSession(key string, opts Options) *Session {
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Jobs == nil {
		opts.Jobs = jobmgr.NewManager(1, nil)
	}

	s := &Session{
		key:      key,
		opts:     opts,
		state:    StateDisconnected,
		queue:    queue.New(),
		idle:     inactivityTimer{d: opts.InactivityTimeout},
		events:   newFIFO[any](),
		loopDone: make(chan struct{}),
		log:      logger.Component("player").With().Str("session", key).Logger(),
	}
	go s.loop()
	return s
}

func (s *Session) Key() string { return s.key }

// Playlists returns the session's named playlists. Stop keeps them.
func (s *Session) Playlists() *Playlists { return &s.playlists }

// Join connects to dest, or moves there if connected elsewhere in the guild.
func (s *Session) Join(ctx context.Context, dest Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinLocked(ctx, dest)
}

// Enqueue appends a Pending entry for query and returns it without waiting
// for resolution. Playback starts as soon as the entry is resolved if the
// session is idle.
func (s *Session) Enqueue(ctx context.Context, dest Destination, query, requestedBy string) (queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.joinLocked(ctx, dest); err != nil {
		return queue.Entry{}, err
	}

	entry := queue.NewPending(query, requestedBy)
	s.queue.Push(entry)
	s.idle.disarm()
	s.log.Info().Str("entry", entry.ID).Str("query", query).Int("queue_len", s.queue.Len()).Msg("Enqueued")

	s.preloadLocked()
	if s.state == StateIdle {
		s.advanceLocked()
	}
	if s.current != nil || s.queue.Len() > 1 {
		s.notify(StatusAdded, query)
	}
	return entry, nil
}

// Skip stops the current track; the session then moves on to the next one.
func (s *Session) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.voice == nil {
		return ErrNothingPlaying
	}
	s.log.Info().Str("entry", s.current.ID).Msg("Skipping")
	s.voice.Stop()
	return nil
}

func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return ErrNotPlaying
	}
	if err := s.voice.Pause(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	s.state = StatePaused
	s.notify(StatusPaused, s.current.DisplayTitle())
	return nil
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return ErrNotPaused
	}
	if err := s.voice.Resume(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	s.state = StatePlaying
	s.notify(StatusResumed, s.current.DisplayTitle())
	return nil
}

// Stop halts playback, drops the queue and leaves the voice channel.
// Resolutions already in flight finish in the background and are discarded.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return ErrNothingPlaying
	}
	s.teardownLocked()
	s.notify(StatusStopped, "")
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:       s.state,
		Destination: s.dest,
		Queue:       s.queue.Entries(),
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	return snap
}

// Close tears the session down and stops its event loop.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.teardownLocked()
	}
	s.mu.Unlock()

	s.events.close()
	<-s.loopDone
}

func (s *Session) joinLocked(ctx context.Context, dest Destination) error {
	if dest.Empty() {
		return ErrNoUserDestination
	}

	if s.voice != nil {
		if s.voice.ChannelID() == dest.ChannelID {
			s.dest = dest
			return nil
		}
		if err := s.voice.Move(ctx, dest); err != nil {
			return fmt.Errorf("%w: move to %s: %w", ErrTransport, dest.ChannelID, err)
		}
		s.log.Info().Str("channel", dest.ChannelID).Msg("Moved voice channel")
		s.dest = dest
		return nil
	}

	v, err := s.opts.Transport.Connect(ctx, dest)
	if err != nil {
		return fmt.Errorf("%w: connect to %s: %w", ErrTransport, dest.ChannelID, err)
	}
	s.log.Info().Str("guild", dest.GuildID).Str("channel", dest.ChannelID).Msg("Joined voice channel")

	s.voice = v
	s.dest = dest
	s.state = StateIdle
	s.armIdleLocked()
	return nil
}

// advanceLocked starts the next playable entry, waits for the head's
// resolution, or goes idle when the queue is empty.
func (s *Session) advanceLocked() {
	if s.voice == nil || s.current != nil {
		return
	}

	for {
		head, ok := s.queue.Head()
		if !ok {
			s.waiting = false
			s.state = StateIdle
			s.armIdleLocked()
			s.log.Debug().Msg("Queue is empty, going idle")
			return
		}

		if head.IsPending() {
			if s.resolving == head.ID {
				s.waiting = true
				s.state = StateIdle
				s.log.Debug().Str("entry", head.ID).Msg("Waiting for head to resolve")
				return
			}
			err := fmt.Errorf("%w: pending head %s has no resolution in flight", ErrInvariant, head.ID)
			s.log.Error().Err(err).Msg("Dropping entry")
			s.queue.Pop()
			s.notify(StatusError, fmt.Sprintf("could not load %q", head.Query))
			s.preloadLocked()
			continue
		}

		s.queue.Pop()
		s.generation++
		gen := s.generation
		if err := s.voice.Play(head.Path, func(err error) {
			s.post(trackFinished{generation: gen, err: err})
		}); err != nil {
			s.log.Error().Err(err).Str("entry", head.ID).Str("path", head.Path).Msg("Failed to start track")
			s.notify(StatusError, fmt.Sprintf("could not play %s", head.DisplayTitle()))
			s.release(head)
			s.preloadLocked()
			continue
		}

		s.current = &head
		s.state = StatePlaying
		s.waiting = false
		s.idle.disarm()
		s.log.Info().Str("entry", head.ID).Str("title", head.Title).Int("queue_len", s.queue.Len()).Msg("Now playing")
		s.notify(StatusPlaying, head.DisplayTitle())
		s.preloadLocked()
		return
	}
}

// preloadLocked starts resolving the head entry if it is Pending and no
// resolution is in flight.
func (s *Session) preloadLocked() {
	if s.resolving != "" {
		return
	}
	head, ok := s.queue.Head()
	if !ok || !head.IsPending() {
		return
	}
	s.resolving = head.ID

	id, query := head.ID, head.Query
	err := s.opts.Jobs.StartAsync("resolve:"+id, func(ctx context.Context) error {
		if s.opts.ResolveTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.ResolveTimeout)
			defer cancel()
		}
		media, err := s.opts.Resolver.Resolve(ctx, query)
		if !s.post(resolutionDone{entryID: id, media: media, err: err}) && err == nil {
			s.discard(media)
		}
		return err
	})
	if err != nil {
		s.post(resolutionDone{entryID: id, err: fmt.Errorf("%w: %w", sources.ErrResolution, err)})
	}
}

func (s *Session) handleResolution(ev resolutionDone) {
	if ev.entryID == s.resolving {
		s.resolving = ""
	}

	entry, ok := s.queue.Get(ev.entryID)
	switch {
	case !ok:
		s.log.Debug().Str("entry", ev.entryID).Msg("Resolved entry is gone, discarding")
		if ev.err == nil {
			s.discard(ev.media)
		}
	case ev.err != nil:
		s.queue.Remove(ev.entryID)
		s.log.Warn().Err(ev.err).Str("entry", ev.entryID).Str("query", entry.Query).Msg("Resolution failed")
		s.notify(StatusError, fmt.Sprintf("could not load %q", entry.Query))
	default:
		resolved := entry.Resolve(s.adopt(ev.media))
		s.queue.Replace(resolved)
		s.log.Info().Str("entry", ev.entryID).Str("title", resolved.Title).Str("origin", resolved.Origin.String()).Msg("Resolved")
	}

	s.preloadLocked()
	if s.state == StateIdle {
		s.advanceLocked()
	}
}

func (s *Session) handleTrackFinished(ev trackFinished) {
	if ev.generation != s.generation || s.current == nil {
		return
	}

	finished := *s.current
	if ev.err != nil {
		s.log.Warn().Err(ev.err).Str("entry", finished.ID).Msg("Playback ended with error")
		s.notify(StatusError, fmt.Sprintf("playback of %s failed", finished.DisplayTitle()))
	} else {
		s.log.Info().Str("entry", finished.ID).Msg("Track finished")
	}

	s.release(finished)
	s.current = nil
	s.state = StateIdle
	s.advanceLocked()
}

func (s *Session) handleInactivity(ev inactivityFired) {
	if !s.idle.live(ev.generation) {
		return
	}
	if s.state != StateIdle || s.current != nil || s.queue.Len() > 0 {
		return
	}
	s.log.Info().Dur("after", s.idle.d).Msg("Leaving voice channel due to inactivity")
	s.teardownLocked()
	s.notify(StatusDisconnected, "left the voice channel due to inactivity")
}

// teardownLocked stops playback, releases every file and disconnects.
func (s *Session) teardownLocked() {
	s.generation++
	s.idle.disarm()

	if s.current != nil {
		if s.voice != nil {
			s.voice.Stop()
		}
		s.release(*s.current)
		s.current = nil
	}
	for _, e := range s.queue.Clear() {
		if !e.IsPending() {
			s.release(e)
		}
	}
	s.resolving = ""
	s.waiting = false

	if s.voice != nil {
		if err := s.voice.Disconnect(); err != nil {
			s.log.Warn().Err(err).Msg("Disconnect failed")
		}
		s.voice = nil
	}
	s.state = StateDisconnected
}

func (s *Session) armIdleLocked() {
	s.idle.arm(func(gen uint64) {
		s.post(inactivityFired{generation: gen})
	})
}

// adopt decides who owns a freshly resolved file. Downloads inside the cache
// dir are registered and pinned while queued or playing; cache hits arrive
// already pinned.
func (s *Session) adopt(m *sources.Media) queue.Resolution {
	r := queue.Resolution{
		Title:    m.Title,
		Uploader: m.Uploader,
		MediaID:  m.MediaID,
		Path:     m.Path,
		Duration: m.Duration,
		Size:     m.Size,
		Origin:   queue.OriginTemp,
	}

	switch {
	case m.Local:
		r.Origin = queue.OriginLocal
	case m.Pinned:
		r.Origin = queue.OriginCache
	case s.opts.Cache != nil && s.opts.Cache.Contains(m.Path) && m.Size <= s.opts.Cache.Budget():
		s.opts.Cache.Pin(m.MediaID)
		s.opts.Cache.Put(m.MediaID, m.Path, m.Size)
		r.Origin = queue.OriginCache
	}
	return r
}

// release gives up the session's claim on a resolved entry's file.
func (s *Session) release(e queue.Entry) {
	switch e.Origin {
	case queue.OriginCache:
		if s.opts.Cache != nil {
			s.opts.Cache.Unpin(e.MediaID)
		}
	case queue.OriginTemp:
		s.removeLater(e.Path)
	}
}

// discard handles a resolution nobody is waiting for anymore.
func (s *Session) discard(m *sources.Media) {
	if m == nil || m.Local {
		return
	}
	if m.Pinned {
		if s.opts.Cache != nil {
			s.opts.Cache.Unpin(m.MediaID)
		}
		return
	}
	if s.opts.Cache != nil && s.opts.Cache.Contains(m.Path) && m.Size <= s.opts.Cache.Budget() {
		s.opts.Cache.Put(m.MediaID, m.Path, m.Size)
		return
	}
	s.removeLater(m.Path)
}

func (s *Session) removeLater(path string) {
	if path == "" {
		return
	}
	remove := func() {
		if err := s.opts.Fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", path).Msg("Failed to delete temporary file")
		}
	}
	if s.opts.CleanupDelay <= 0 {
		remove()
		return
	}
	time.AfterFunc(s.opts.CleanupDelay, remove)
}

func (s *Session) notify(status PlayerStatus, detail string) {
	if s.dest.TextChannelID == "" && s.dest.ChannelID == "" {
		return
	}
	s.opts.Notifier.Notify(s.dest, status.Format(detail))
}

// post hands an event to the loop. It reports false once the session is closed.
func (s *Session) post(ev any) bool {
	return s.events.push(ev)
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		ev, ok := s.events.pop()
		if !ok {
			return
		}
		s.handle(ev)
	}
}

func (s *Session) handle(ev any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msgf("%v: event handler panicked", ErrInvariant)
		}
	}()

	switch ev := ev.(type) {
	case trackFinished:
		s.handleTrackFinished(ev)
	case resolutionDone:
		s.handleResolution(ev)
	case inactivityFired:
		s.handleInactivity(ev)
	default:
		s.log.Error().Str("type", fmt.Sprintf("%T", ev)).Msg("Unknown event")
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(Destination, string) {}
