// Package session ties a transcript, a notification dispatcher and a protocol
// adapter together into one independently owned conversation, and manages the
// set of live sessions.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sessioncore/pkg/adapter"
	"github.com/go-go-golems/sessioncore/pkg/notify"
	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

// Session is one conversation. Frames are applied one at a time, in the order
// Apply is called; distinct sessions share nothing.
type Session struct {
	ID        string
	Protocol  adapter.Protocol
	CreatedAt time.Time

	state      *transcript.State
	dispatcher *notify.Dispatcher
	adapter    adapter.Adapter

	mu           sync.Mutex
	lastActivity time.Time

	stream *StreamCoordinator
}

func New(id string, p adapter.Protocol) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	state := transcript.NewState()
	dispatcher := notify.NewDispatcher()
	a, err := adapter.New(p, state, dispatcher)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		ID:           id,
		Protocol:     p,
		CreatedAt:    now,
		state:        state,
		dispatcher:   dispatcher,
		adapter:      a,
		lastActivity: now,
	}, nil
}

// Attach replaces the session's observer.
func (s *Session) Attach(o notify.Observer) {
	s.dispatcher.Attach(o)
}

// Detach drops the observer. Frames applied afterwards still update the
// transcript but nobody is told.
func (s *Session) Detach() {
	s.dispatcher.Detach()
}

func (s *Session) Observed() bool {
	return s.dispatcher.Attached()
}

func (s *Session) Snapshot() transcript.Snapshot {
	return s.state.Snapshot()
}

func (s *Session) State() *transcript.State {
	return s.state
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Apply feeds one frame to the adapter. Unknown frame kinds are ignored.
func (s *Session) Apply(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()

	switch f.Kind {
	case FrameBegin:
		if f.Prompt != "" {
			s.state.Append(transcript.KindUser, f.Prompt)
			s.dispatcher.NotifyMessageUpdate(s.state.Messages())
		}
		s.adapter.Begin()
	case FrameEvent:
		s.adapter.OnEvent(f.Type, f.PayloadBytes())
	case FrameError:
		msg := f.Message
		if msg == "" {
			msg = "unknown error"
		}
		s.adapter.OnError(msg)
	case FrameComplete:
		var result adapter.Result
		if f.Result != nil {
			result = *f.Result
		}
		s.adapter.OnComplete(result)
	default:
		log.Debug().Str("component", "session").Str("session_id", s.ID).Str("frame_kind", string(f.Kind)).Msg("ignoring unknown frame kind")
	}
}
