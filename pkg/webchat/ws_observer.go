package webchat

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sessioncore/pkg/notify"
	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

// Frame types pushed to websocket clients.
const (
	FrameMessages      = "messages"
	FrameState         = "state"
	FrameSessionID     = "session_id"
	FrameThinking      = "thinking"
	FrameSlashCommands = "slash_commands"
	FrameSnapshot      = "snapshot"
)

// OutFrame is what websocket clients receive. Only the fields of its Type are set.
type OutFrame struct {
	Type             string               `json:"type"`
	SessionID        string               `json:"session_id"`
	Messages         []transcript.Message `json:"messages,omitempty"`
	Busy             *bool                `json:"busy,omitempty"`
	Loading          *bool                `json:"loading,omitempty"`
	Error            string               `json:"error,omitempty"`
	BackendSessionID string               `json:"backend_session_id,omitempty"`
	Thinking         *bool                `json:"thinking,omitempty"`
	Commands         []string             `json:"commands,omitempty"`
	Snapshot         *transcript.Snapshot `json:"snapshot,omitempty"`
}

// WSObserver broadcasts every notification of one session to its pool.
type WSObserver struct {
	sessionID string
	pool      *ConnectionPool
}

var _ notify.Observer = &WSObserver{}

func NewWSObserver(sessionID string, pool *ConnectionPool) *WSObserver {
	return &WSObserver{sessionID: sessionID, pool: pool}
}

func (o *WSObserver) OnMessageUpdate(messages []transcript.Message) {
	o.send(OutFrame{Type: FrameMessages, Messages: messages})
}

func (o *WSObserver) OnStateChange(busy bool, loading bool, err string) {
	o.send(OutFrame{Type: FrameState, Busy: &busy, Loading: &loading, Error: err})
}

func (o *WSObserver) OnSessionIDReceived(sessionID string) {
	o.send(OutFrame{Type: FrameSessionID, BackendSessionID: sessionID})
}

func (o *WSObserver) OnThinkingStatusChanged(thinking bool) {
	o.send(OutFrame{Type: FrameThinking, Thinking: &thinking})
}

func (o *WSObserver) OnSlashCommandsReceived(commands []string) {
	o.send(OutFrame{Type: FrameSlashCommands, Commands: commands})
}

func (o *WSObserver) send(f OutFrame) {
	if o == nil || o.pool == nil || o.pool.IsEmpty() {
		return
	}
	f.SessionID = o.sessionID
	b, err := json.Marshal(f)
	if err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("session_id", o.sessionID).Str("frame_type", f.Type).Msg("failed to encode ws frame")
		return
	}
	o.pool.Broadcast(b)
}

func snapshotFrame(sessionID string, snap transcript.Snapshot) ([]byte, error) {
	return json.Marshal(OutFrame{Type: FrameSnapshot, SessionID: sessionID, Snapshot: &snap})
}
