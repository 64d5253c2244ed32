package player

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keshon/voicequeue/internal/logger"
	"github.com/keshon/voicequeue/pkg/cmd"
	"github.com/keshon/voicequeue/pkg/util"
)

var ErrManagerClosed = errors.New("player manager is closed")

type registered struct {
	session    *Session
	serializer *Serializer
}

// Manager owns one Session and one Serializer per key (a guild ID),
// creating both on first use.
type Manager struct {
	mu       sync.Mutex
	opts     Options
	sessions map[string]*registered
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func NewManager(opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*registered),
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Component("manager"),
	}
}

// Session returns the session for key, creating it if needed.
func (m *Manager) Session(key string) (*Session, error) {
	r, err := m.get(key)
	if err != nil {
		return nil, err
	}
	return r.session, nil
}

// Submit routes a command to key's serializer. If the invocation payload
// implements Binder it is bound to the session first.
func (m *Manager) Submit(key string, c cmd.Command, inv *cmd.Invocation) error {
	r, err := m.get(key)
	if err != nil {
		return err
	}
	if inv == nil {
		inv = &cmd.Invocation{}
	}
	if b, ok := inv.Data.(Binder); ok {
		b.Bind(r.session)
	}
	if err := r.serializer.Submit(m.ctx, c, inv); err != nil {
		return ErrManagerClosed
	}
	return nil
}

// Keys returns the keys of all sessions, sorted.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close drains every serializer, tears down every session and rejects
// further commands.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	all := make([]*registered, 0, len(m.sessions))
	for _, r := range m.sessions {
		all = append(all, r)
	}
	m.mu.Unlock()

	_ = util.Parallel(context.Background(), all, 0, func(ctx context.Context, r *registered) error {
		r.serializer.Close()
		r.session.Close()
		return nil
	})
	m.cancel()
	m.log.Info().Int("sessions", len(all)).Msg("All sessions closed")
}

func (m *Manager) get(key string) (*registered, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if r, ok := m.sessions[key]; ok {
		return r, nil
	}

	r := &registered{
		session:    NewSession(key, m.opts),
		serializer: NewSerializer(key),
	}
	m.sessions[key] = r
	m.log.Debug().Str("session", key).Msg("Session created")
	return r, nil
}
