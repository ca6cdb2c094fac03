package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sessioncore/pkg/adapter"
	"github.com/go-go-golems/sessioncore/pkg/notify"
)

var ErrSessionNotFound = errors.New("session not found")

// ObserverFactory builds the observer attached to a newly created session.
type ObserverFactory func(*Session) notify.Observer

// Manager stores all live sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	baseCtx  context.Context

	defaultProtocol adapter.Protocol
	observers       ObserverFactory
	subscriber      message.Subscriber
	retain          func(*Session) bool
	onEvict         func(*Session)

	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

type ManagerOption func(*Manager)

// WithBaseContext bounds the lifetime of every session's stream coordinator.
func WithBaseContext(ctx context.Context) ManagerOption {
	return func(m *Manager) {
		if ctx != nil {
			m.baseCtx = ctx
		}
	}
}

func WithDefaultProtocol(p adapter.Protocol) ManagerOption {
	return func(m *Manager) { m.defaultProtocol = p }
}

func WithObserverFactory(f ObserverFactory) ManagerOption {
	return func(m *Manager) { m.observers = f }
}

// WithSubscriber makes every new session consume frames from its topic on s.
// The subscriber is shared, so coordinators are stopped, never closed.
func WithSubscriber(s message.Subscriber) ManagerOption {
	return func(m *Manager) { m.subscriber = s }
}

// WithRetain lets callers veto eviction of a session, for example while
// clients are still connected.
func WithRetain(f func(*Session) bool) ManagerOption {
	return func(m *Manager) { m.retain = f }
}

// WithOnEvict is called after a session has been removed by the eviction loop
// or by Close.
func WithOnEvict(f func(*Session)) ManagerOption {
	return func(m *Manager) { m.onEvict = f }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:        map[string]*Session{},
		baseCtx:         context.Background(),
		defaultProtocol: adapter.ProtocolText,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetOrCreate returns the session with the given id, creating it with the
// default protocol if needed. An empty protocol selects the default.
func (m *Manager) GetOrCreate(id string, p adapter.Protocol) (*Session, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, errors.New("session id is required")
	}
	if p == "" {
		p = m.defaultProtocol
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		if s.Protocol != p {
			log.Debug().Str("component", "session").Str("session_id", id).
				Str("requested", string(p)).Str("protocol", string(s.Protocol)).
				Msg("session already exists with another protocol")
		}
		return s, false, nil
	}

	s, err := New(id, p)
	if err != nil {
		return nil, false, err
	}
	if m.observers != nil {
		s.Attach(m.observers(s))
	}
	if m.subscriber != nil {
		s.stream = NewStreamCoordinator(id, m.subscriber, s.Apply)
		if err := s.stream.Start(m.baseCtx); err != nil {
			return nil, false, errors.Wrapf(err, "start stream for session %s", id)
		}
	}
	m.sessions[id] = s
	log.Info().Str("component", "session").Str("session_id", id).Str("protocol", string(p)).Msg("session created")
	return s, true, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns live sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close removes a session, detaches its observer and stops its stream.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrSessionNotFound, id)
	}
	m.cleanup(s)
	return nil
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.cleanup(s)
	}
}

func (m *Manager) cleanup(s *Session) {
	if s == nil {
		return
	}
	s.Detach()
	s.stream.Stop()
	if m.onEvict != nil {
		m.onEvict(s)
	}
	log.Info().Str("component", "session").Str("session_id", s.ID).Msg("session closed")
}

func (m *Manager) SetEvictionConfig(idle, interval time.Duration) {
	m.mu.Lock()
	m.evictIdle = idle
	m.evictInterval = interval
	m.mu.Unlock()
}

func (m *Manager) StartEvictionLoop(ctx context.Context) {
	if ctx == nil {
		panic("session: StartEvictionLoop requires non-nil ctx")
	}
	m.mu.Lock()
	if m.evictRunning {
		m.mu.Unlock()
		return
	}
	idle := m.evictIdle
	interval := m.evictInterval
	if idle <= 0 || interval <= 0 {
		m.mu.Unlock()
		return
	}
	m.evictRunning = true
	m.mu.Unlock()

	go m.runEvictionLoop(ctx, interval)
}

func (m *Manager) runEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.evictRunning = false
			m.mu.Unlock()
			return
		case now := <-ticker.C:
			if n := m.evictIdleOnce(now); n > 0 {
				log.Debug().Str("component", "session").Int("evicted", n).Msg("evicted idle sessions")
			}
		}
	}
}

func (m *Manager) evictIdleOnce(now time.Time) int {
	if now.IsZero() {
		now = time.Now()
	}

	m.mu.Lock()
	idle := m.evictIdle
	if idle <= 0 {
		m.mu.Unlock()
		return 0
	}
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	evicted := 0
	for _, s := range candidates {
		if m.evictIfIdle(now, idle, s) {
			evicted++
		}
	}
	return evicted
}

// EvictIfIdle evicts one session now if the eviction loop would: it is not
// busy, not retained and idle for at least the configured timeout.
func (m *Manager) EvictIfIdle(id string, now time.Time) bool {
	m.mu.Lock()
	idle := m.evictIdle
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || idle <= 0 {
		return false
	}
	return m.evictIfIdle(now, idle, s)
}

func (m *Manager) evictIfIdle(now time.Time, idle time.Duration, s *Session) bool {
	if !m.shouldEvict(now, idle, s) {
		return false
	}
	m.mu.Lock()
	current, ok := m.sessions[s.ID]
	if !ok || current != s {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	m.cleanup(s)
	return true
}

func (m *Manager) shouldEvict(now time.Time, idle time.Duration, s *Session) bool {
	if s.State().Busy() {
		return false
	}
	if m.retain != nil && m.retain(s) {
		return false
	}
	last := s.LastActivity()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) >= idle
}
