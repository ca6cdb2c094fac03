package webchat

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sessioncore/pkg/persistence/chatstore"
	"github.com/go-go-golems/sessioncore/pkg/session"
	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

const maxFrameBytes = 4 << 20

type sessionSummary struct {
	SessionID        string           `json:"session_id"`
	Protocol         string           `json:"protocol"`
	Phase            transcript.Phase `json:"phase"`
	Busy             bool             `json:"busy"`
	MessageCount     int              `json:"message_count"`
	BackendSessionID string           `json:"backend_session_id,omitempty"`
	Connections      int              `json:"connections"`
}

type listResponse struct {
	Live   []sessionSummary          `json:"live"`
	Stored []chatstore.SessionRecord `json:"stored,omitempty"`
}

type sessionResponse struct {
	SessionID string                   `json:"session_id"`
	Live      bool                     `json:"live"`
	Snapshot  *transcript.Snapshot     `json:"snapshot,omitempty"`
	Record    *chatstore.SessionRecord `json:"record,omitempty"`
	Messages  []transcript.Message     `json:"messages,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	protocol, err := s.resolveProtocol(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess, _, err := s.manager.GetOrCreate(sessionID, protocol)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"failed to join session"}`))
		_ = conn.Close()
		return
	}

	pool := s.poolFor(sess.ID)
	pool.AddWithHello(conn, func() []byte {
		hello, err := snapshotFrame(sess.ID, sess.Snapshot())
		if err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("session_id", sess.ID).Msg("failed to encode snapshot")
			return nil
		}
		return hello
	})
	log.Info().Str("component", "webchat").Str("session_id", sess.ID).Int("connections", pool.Count()).Msg("websocket attached")

	// clients may drive the session by sending frames over the socket
	go func() {
		defer pool.Remove(conn)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("component", "webchat").Str("session_id", sess.ID).Msg("websocket closed")
				return
			}
			f, err := session.DecodeFrame(data)
			if err != nil {
				log.Warn().Err(err).Str("component", "webchat").Str("session_id", sess.ID).Msg("ignoring malformed client frame")
				continue
			}
			s.deliver(sess, f, data)
		}
	}()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	resp := listResponse{Live: []sessionSummary{}}
	for _, sess := range s.manager.List() {
		snap := sess.Snapshot()
		resp.Live = append(resp.Live, sessionSummary{
			SessionID:        sess.ID,
			Protocol:         string(sess.Protocol),
			Phase:            snap.Phase,
			Busy:             snap.Busy,
			MessageCount:     len(snap.Messages),
			BackendSessionID: snap.SessionID,
			Connections:      s.poolFor(sess.ID).Count(),
		})
	}
	if s.store != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		sinceMs, _ := strconv.ParseInt(r.URL.Query().Get("since_ms"), 10, 64)
		stored, err := s.store.ListSessions(r.Context(), limit, sinceMs)
		if err != nil {
			log.Error().Err(err).Str("component", "webchat").Msg("list stored sessions failed")
			http.Error(w, "list sessions failed", http.StatusInternalServerError)
			return
		}
		resp.Stored = stored
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if sess, ok := s.manager.Get(id); ok {
		snap := sess.Snapshot()
		writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Live: true, Snapshot: &snap})
		return
	}
	if s.store != nil {
		record, messages, ok, err := s.store.LoadTranscript(r.Context(), id)
		if err != nil {
			log.Error().Err(err).Str("component", "webchat").Str("session_id", id).Msg("load transcript failed")
			http.Error(w, "load session failed", http.StatusInternalServerError)
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Record: &record, Messages: messages})
			return
		}
	}
	http.Error(w, "session not found", http.StatusNotFound)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := s.manager.Close(id); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostFrame(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	protocol, err := s.resolveProtocol(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	f, err := session.DecodeFrame(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, _, err := s.manager.GetOrCreate(id, protocol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if key := idempotencyKeyFromRequest(r); key != "" && !s.keysFor(sess.ID).Remember(key) {
		log.Debug().Str("component", "webchat").Str("session_id", sess.ID).Str("idempotency_key", key).Msg("duplicate frame ignored")
		writeJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "duplicate": true})
		return
	}
	if published := s.deliver(sess, f, body); published {
		writeJSON(w, http.StatusAccepted, map[string]any{"session_id": sess.ID, "queued": true})
		return
	}
	snap := sess.Snapshot()
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, Live: true, Snapshot: &snap})
}

// deliver publishes raw to the session's topic when a transport is configured
// and applies f directly otherwise. It reports whether the frame was queued.
func (s *Server) deliver(sess *session.Session, f session.Frame, raw []byte) bool {
	if s.publisher == nil {
		sess.Apply(f)
		return false
	}
	msg := message.NewMessage(uuid.NewString(), raw)
	if err := s.publisher.Publish(session.TopicForSession(sess.ID), msg); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("session_id", sess.ID).Msg("publish failed, applying frame directly")
		sess.Apply(f)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("response write failed")
	}
}
