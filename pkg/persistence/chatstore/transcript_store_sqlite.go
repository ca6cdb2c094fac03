package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/go-go-golems/sessioncore/pkg/envelope"
	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

type SQLiteTranscriptStore struct {
	db *sql.DB
}

var _ TranscriptStore = &SQLiteTranscriptStore{}

func NewSQLiteTranscriptStore(dsn string) (*SQLiteTranscriptStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteTranscriptStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN with WAL and a busy timeout for path.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteTranscriptStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteTranscriptStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_sessions (
		  session_id TEXT PRIMARY KEY,
		  backend_session_id TEXT NOT NULL DEFAULT '',
		  protocol TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL,
		  message_count INTEGER NOT NULL DEFAULT 0,
		  status TEXT NOT NULL DEFAULT 'idle',
		  last_error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_sessions_by_activity
		  ON transcript_sessions(last_activity_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS transcript_messages (
		  session_id TEXT NOT NULL,
		  ord INTEGER NOT NULL,
		  message_id TEXT NOT NULL,
		  kind TEXT NOT NULL,
		  text TEXT NOT NULL,
		  envelope_json TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (session_id, ord)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteTranscriptStore) SaveTranscript(ctx context.Context, record SessionRecord, messages []transcript.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	record = normalizeSessionRecord(record, time.Now().UnixMilli())
	if record.SessionID == "" {
		return errors.New("sqlite transcript store: sessionID is empty")
	}
	record.MessageCount = len(messages)

	rows := make([]messageRow, 0, len(messages))
	for i, m := range messages {
		row, err := encodeMessage(m)
		if err != nil {
			return errors.Wrapf(err, "sqlite transcript store: encode message %d", i)
		}
		rows = append(rows, row)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcript_sessions (
			session_id, backend_session_id, protocol, created_at_ms, last_activity_ms,
			message_count, status, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			backend_session_id = CASE
				WHEN excluded.backend_session_id <> '' THEN excluded.backend_session_id
				ELSE transcript_sessions.backend_session_id
			END,
			protocol = CASE
				WHEN excluded.protocol <> '' THEN excluded.protocol
				ELSE transcript_sessions.protocol
			END,
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > transcript_sessions.last_activity_ms THEN excluded.last_activity_ms
				ELSE transcript_sessions.last_activity_ms
			END,
			message_count = excluded.message_count,
			status = excluded.status,
			last_error = excluded.last_error
	`, record.SessionID, record.BackendSessionID, record.Protocol, record.CreatedAtMs, record.LastActivityMs,
		record.MessageCount, record.Status, record.LastError)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert session")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_messages WHERE session_id = ?`, record.SessionID); err != nil {
		return errors.Wrap(err, "sqlite transcript store: clear messages")
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_messages (session_id, ord, message_id, kind, text, envelope_json, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: prepare insert")
	}
	defer func() { _ = stmt.Close() }()
	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, record.SessionID, i, row.id, row.kind, row.text, row.envelopeJSON, row.createdAtMs); err != nil {
			return errors.Wrap(err, "sqlite transcript store: insert message")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite transcript store: commit")
	}
	return nil
}

func (s *SQLiteTranscriptStore) LoadTranscript(ctx context.Context, sessionID string) (SessionRecord, []transcript.Message, bool, error) {
	if s == nil || s.db == nil {
		return SessionRecord{}, nil, false, errors.New("sqlite transcript store: db is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionRecord{}, nil, false, errors.New("sqlite transcript store: sessionID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var record SessionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, backend_session_id, protocol, created_at_ms, last_activity_ms,
		       message_count, status, last_error
		FROM transcript_sessions
		WHERE session_id = ?
	`, sessionID).Scan(
		&record.SessionID,
		&record.BackendSessionID,
		&record.Protocol,
		&record.CreatedAtMs,
		&record.LastActivityMs,
		&record.MessageCount,
		&record.Status,
		&record.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, nil, false, nil
	}
	if err != nil {
		return SessionRecord{}, nil, false, errors.Wrap(err, "sqlite transcript store: get session")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, kind, text, envelope_json, created_at_ms
		FROM transcript_messages
		WHERE session_id = ?
		ORDER BY ord ASC
	`, sessionID)
	if err != nil {
		return SessionRecord{}, nil, false, errors.Wrap(err, "sqlite transcript store: query messages")
	}
	defer func() { _ = rows.Close() }()

	messages := []transcript.Message{}
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(&row.id, &row.kind, &row.text, &row.envelopeJSON, &row.createdAtMs); err != nil {
			return SessionRecord{}, nil, false, errors.Wrap(err, "sqlite transcript store: scan message")
		}
		m, err := row.decode()
		if err != nil {
			return SessionRecord{}, nil, false, errors.Wrapf(err, "sqlite transcript store: decode message %s", row.id)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return SessionRecord{}, nil, false, errors.Wrap(err, "sqlite transcript store: iterate messages")
	}
	return record, messages, true, nil
}

func (s *SQLiteTranscriptStore) ListSessions(ctx context.Context, limit int, sinceMs int64) ([]SessionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	limit = normalizeLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, backend_session_id, protocol, created_at_ms, last_activity_ms,
		       message_count, status, last_error
		FROM transcript_sessions
		WHERE last_activity_ms >= ?
		ORDER BY last_activity_ms DESC, session_id ASC
		LIMIT ?
	`, sinceMs, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list sessions")
	}
	defer func() { _ = rows.Close() }()

	out := []SessionRecord{}
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.SessionID, &r.BackendSessionID, &r.Protocol, &r.CreatedAtMs, &r.LastActivityMs,
			&r.MessageCount, &r.Status, &r.LastError); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan session")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate sessions")
	}
	return out, nil
}

type messageRow struct {
	id           string
	kind         string
	text         string
	envelopeJSON string
	createdAtMs  int64
}

// encodeMessage stores envelopes as protobuf JSON of a structpb.Struct.
func encodeMessage(m transcript.Message) (messageRow, error) {
	row := messageRow{
		id:          m.ID,
		kind:        string(m.Kind),
		text:        m.Text,
		createdAtMs: m.CreatedAt.UnixMilli(),
	}
	if m.Envelope == nil {
		return row, nil
	}
	st, err := envelope.ToStruct(m.Envelope)
	if err != nil {
		return messageRow{}, err
	}
	b, err := protojson.Marshal(st)
	if err != nil {
		return messageRow{}, errors.Wrap(err, "marshal envelope")
	}
	row.envelopeJSON = string(b)
	return row, nil
}

func (r messageRow) decode() (transcript.Message, error) {
	m := transcript.Message{
		ID:        r.id,
		Kind:      transcript.Kind(r.kind),
		Text:      r.text,
		CreatedAt: time.UnixMilli(r.createdAtMs),
	}
	if !m.Kind.Valid() {
		return transcript.Message{}, errors.Errorf("unknown message kind %q", r.kind)
	}
	if r.envelopeJSON == "" {
		return m, nil
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal([]byte(r.envelopeJSON), st); err != nil {
		return transcript.Message{}, errors.Wrap(err, "unmarshal envelope")
	}
	m.Envelope = envelope.FromStruct(st)
	return m, nil
}
