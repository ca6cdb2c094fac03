package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

// InMemoryTranscriptStore is a size-limited, in-memory TranscriptStore. Only the
// newest maxMessagesPerSession messages of a transcript are kept.
type InMemoryTranscriptStore struct {
	mu                    sync.Mutex
	maxMessagesPerSession int
	records               map[string]SessionRecord
	messages              map[string][]transcript.Message
}

var _ TranscriptStore = &InMemoryTranscriptStore{}

func NewInMemoryTranscriptStore(maxMessagesPerSession int) *InMemoryTranscriptStore {
	if maxMessagesPerSession <= 0 {
		maxMessagesPerSession = 5000
	}
	return &InMemoryTranscriptStore{
		maxMessagesPerSession: maxMessagesPerSession,
		records:               map[string]SessionRecord{},
		messages:              map[string][]transcript.Message{},
	}
}

func (s *InMemoryTranscriptStore) Close() error { return nil }

func (s *InMemoryTranscriptStore) SaveTranscript(_ context.Context, record SessionRecord, messages []transcript.Message) error {
	if s == nil {
		return errors.New("in-memory transcript store: nil store")
	}
	now := time.Now().UnixMilli()
	record = normalizeSessionRecord(record, now)
	if record.SessionID == "" {
		return errors.New("in-memory transcript store: sessionID is empty")
	}
	if len(messages) > s.maxMessagesPerSession {
		messages = messages[len(messages)-s.maxMessagesPerSession:]
	}
	record.MessageCount = len(messages)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.SessionID] = mergeSessionRecord(s.records[record.SessionID], record, now)
	// envelopes are immutable once handed out by transcript.State
	s.messages[record.SessionID] = append([]transcript.Message(nil), messages...)
	return nil
}

func (s *InMemoryTranscriptStore) LoadTranscript(_ context.Context, sessionID string) (SessionRecord, []transcript.Message, bool, error) {
	if s == nil {
		return SessionRecord{}, nil, false, errors.New("in-memory transcript store: nil store")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionRecord{}, nil, false, errors.New("in-memory transcript store: sessionID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[sessionID]
	if !ok {
		return SessionRecord{}, nil, false, nil
	}
	return record, append([]transcript.Message(nil), s.messages[sessionID]...), true, nil
}

func (s *InMemoryTranscriptStore) ListSessions(_ context.Context, limit int, sinceMs int64) ([]SessionRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory transcript store: nil store")
	}
	limit = normalizeLimit(limit)

	s.mu.Lock()
	out := make([]SessionRecord, 0, len(s.records))
	for _, r := range s.records {
		if sinceMs > 0 && r.LastActivityMs < sinceMs {
			continue
		}
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityMs == out[j].LastActivityMs {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastActivityMs > out[j].LastActivityMs
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
