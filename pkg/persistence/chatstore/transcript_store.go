package chatstore

import (
	"context"
	"strings"

	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

// SessionRecord captures persisted session-level metadata used for listing and
// for restoring a transcript.
type SessionRecord struct {
	SessionID        string `json:"session_id"`
	BackendSessionID string `json:"backend_session_id,omitempty"`
	Protocol         string `json:"protocol"`
	CreatedAtMs      int64  `json:"created_at_ms"`
	LastActivityMs   int64  `json:"last_activity_ms"`
	MessageCount     int    `json:"message_count"`
	Status           string `json:"status"`
	LastError        string `json:"last_error,omitempty"`
}

// TranscriptStore keeps the latest transcript of each session. Saving replaces
// the stored messages wholesale; records are merged so that creation time is
// kept and activity only moves forward.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, record SessionRecord, messages []transcript.Message) error
	LoadTranscript(ctx context.Context, sessionID string) (SessionRecord, []transcript.Message, bool, error)
	ListSessions(ctx context.Context, limit int, sinceMs int64) ([]SessionRecord, error)
	Close() error
}

func normalizeSessionRecord(record SessionRecord, now int64) SessionRecord {
	record.SessionID = strings.TrimSpace(record.SessionID)
	record.BackendSessionID = strings.TrimSpace(record.BackendSessionID)
	record.Protocol = strings.TrimSpace(record.Protocol)
	record.Status = strings.TrimSpace(record.Status)
	record.LastError = strings.TrimSpace(record.LastError)
	if record.CreatedAtMs <= 0 {
		record.CreatedAtMs = now
	}
	if record.LastActivityMs <= 0 {
		record.LastActivityMs = record.CreatedAtMs
	}
	if record.Status == "" {
		record.Status = string(transcript.PhaseIdle)
	}
	return record
}

func mergeSessionRecord(existing, incoming SessionRecord, now int64) SessionRecord {
	incoming = normalizeSessionRecord(incoming, now)
	if existing.SessionID == "" {
		return incoming
	}
	if existing.CreatedAtMs > 0 {
		incoming.CreatedAtMs = existing.CreatedAtMs
	}
	if incoming.LastActivityMs < existing.LastActivityMs {
		incoming.LastActivityMs = existing.LastActivityMs
	}
	if incoming.BackendSessionID == "" {
		incoming.BackendSessionID = existing.BackendSessionID
	}
	if incoming.Protocol == "" {
		incoming.Protocol = existing.Protocol
	}
	return incoming
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
