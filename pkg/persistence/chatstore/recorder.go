package chatstore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sessioncore/pkg/notify"
	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

// Recorder persists a session's transcript as it changes. Streaming updates
// while an exchange is open are skipped; the terminal state change writes the
// final content. Failures are logged and never reach the caller.
type Recorder struct {
	store     TranscriptStore
	sessionID string
	protocol  string
	state     *transcript.State
	timeout   time.Duration
}

var _ notify.Observer = &Recorder{}

func NewRecorder(store TranscriptStore, sessionID string, protocol string, state *transcript.State) *Recorder {
	return &Recorder{
		store:     store,
		sessionID: sessionID,
		protocol:  protocol,
		state:     state,
		timeout:   5 * time.Second,
	}
}

func (r *Recorder) OnMessageUpdate(_ []transcript.Message) {
	if r.state.Busy() {
		return
	}
	r.save()
}

func (r *Recorder) OnStateChange(_ bool, _ bool, _ string) {
	r.save()
}

func (r *Recorder) OnSessionIDReceived(_ string) {
	r.save()
}

func (r *Recorder) OnThinkingStatusChanged(bool) {}

func (r *Recorder) OnSlashCommandsReceived([]string) {}

// Save writes the current snapshot immediately.
func (r *Recorder) Save(ctx context.Context) error {
	snap := r.state.Snapshot()
	record := SessionRecord{
		SessionID:        r.sessionID,
		BackendSessionID: snap.SessionID,
		Protocol:         r.protocol,
		LastActivityMs:   snap.LastModified.UnixMilli(),
		Status:           string(snap.Phase),
		LastError:        snap.Error,
	}
	return r.store.SaveTranscript(ctx, record, snap.Messages)
}

func (r *Recorder) save() {
	if r == nil || r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.Save(ctx); err != nil {
		log.Warn().Err(err).Str("component", "chatstore").Str("session_id", r.sessionID).Msg("recorder: failed to persist transcript")
	}
}
