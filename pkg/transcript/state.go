// Package transcript holds per-session conversation state: the ordered message
// list and the busy/loading/error flags driven by the exchange lifecycle.
//
// A State has a single writer (the session's adapter) and any number of readers.
// Readers get value copies through Snapshot and Messages. Envelopes are shared
// with readers as-is; writers must replace a message's envelope with a fresh
// tree rather than modifying it.
package transcript

import (
	"sync"
	"time"

	"github.com/go-go-golems/sessioncore/pkg/envelope"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseActive  Phase = "active"
	PhaseErrored Phase = "errored"
)

type State struct {
	mu sync.RWMutex

	messages []*Message
	// current is the assistant message of the open exchange, nil once frozen.
	current *Message

	busy         bool
	loading      bool
	err          string
	sessionID    string
	lastModified time.Time

	now func() time.Time
}

// Snapshot is a point-in-time copy of a State.
type Snapshot struct {
	Messages     []Message `json:"messages"`
	Busy         bool      `json:"busy"`
	Loading      bool      `json:"loading"`
	Error        string    `json:"error,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Phase        Phase     `json:"phase"`
}

type Option func(*State)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

func NewState(opts ...Option) *State {
	s := &State{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.lastModified = s.now()
	return s
}

// Begin opens a new exchange: busy and loading are set, any previous error is
// cleared, and the next content starts a new assistant message.
func (s *State) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = true
	s.loading = true
	s.err = ""
	s.current = nil
}

// Append adds a standalone message (user prompt, system notice). It never
// touches the current assistant message.
func (s *State) Append(kind Kind, text string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := newMessage(kind, text, s.now())
	s.messages = append(s.messages, m)
	s.lastModified = m.CreatedAt
	return *m
}

// SetCurrentText replaces the current assistant message's text, creating the
// message on first content. It reports whether a message was created.
func (s *State) SetCurrentText(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := s.ensureCurrentLocked()
	s.current.Text = text
	s.loading = false
	return created
}

// CurrentEnvelope returns the current assistant message's envelope, nil if there
// is no open message.
func (s *State) CurrentEnvelope() envelope.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return s.current.Envelope
}

// SetCurrentEnvelope installs env as the current assistant message's envelope
// and refreshes its flattened text. env must not be modified afterwards.
func (s *State) SetCurrentEnvelope(env envelope.Envelope) bool {
	text := envelope.FlattenText(env)
	s.mu.Lock()
	defer s.mu.Unlock()
	created := s.ensureCurrentLocked()
	s.current.Envelope = env
	s.current.Text = text
	s.loading = false
	return created
}

// Complete closes the exchange successfully and freezes the current message.
func (s *State) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.loading = false
	s.current = nil
	s.lastModified = s.now()
}

// Fail closes the exchange with an error: an Error message is appended and the
// error text recorded until the next Begin.
func (s *State) Fail(text string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := newMessage(KindError, text, s.now())
	s.messages = append(s.messages, m)
	s.busy = false
	s.loading = false
	s.err = text
	s.current = nil
	s.lastModified = m.CreatedAt
	return *m
}

func (s *State) SetSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *State) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *State) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *State) LastModified() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastModified
}

// HasCurrent reports whether an assistant message is still open.
func (s *State) HasCurrent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phaseLocked()
}

// Messages returns a copy of the message list.
func (s *State) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyMessagesLocked()
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Messages:     s.copyMessagesLocked(),
		Busy:         s.busy,
		Loading:      s.loading,
		Error:        s.err,
		SessionID:    s.sessionID,
		LastModified: s.lastModified,
		Phase:        s.phaseLocked(),
	}
}

func (s *State) ensureCurrentLocked() bool {
	if s.current != nil {
		return false
	}
	s.current = newMessage(KindAssistant, "", s.now())
	s.messages = append(s.messages, s.current)
	return true
}

func (s *State) copyMessagesLocked() []Message {
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

func (s *State) phaseLocked() Phase {
	switch {
	case s.busy:
		return PhaseActive
	case s.err != "":
		return PhaseErrored
	default:
		return PhaseIdle
	}
}
