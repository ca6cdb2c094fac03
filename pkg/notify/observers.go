package notify

import "github.com/go-go-golems/sessioncore/pkg/transcript"

// Funcs adapts optional callbacks to the Observer interface. Nil fields are skipped.
type Funcs struct {
	MessageUpdate         func(messages []transcript.Message)
	StateChange           func(busy bool, loading bool, err string)
	SessionIDReceived     func(sessionID string)
	ThinkingStatusChanged func(thinking bool)
	SlashCommandsReceived func(commands []string)
}

var _ Observer = Funcs{}

func (f Funcs) OnMessageUpdate(messages []transcript.Message) {
	if f.MessageUpdate != nil {
		f.MessageUpdate(messages)
	}
}

func (f Funcs) OnStateChange(busy bool, loading bool, err string) {
	if f.StateChange != nil {
		f.StateChange(busy, loading, err)
	}
}

func (f Funcs) OnSessionIDReceived(sessionID string) {
	if f.SessionIDReceived != nil {
		f.SessionIDReceived(sessionID)
	}
}

func (f Funcs) OnThinkingStatusChanged(thinking bool) {
	if f.ThinkingStatusChanged != nil {
		f.ThinkingStatusChanged(thinking)
	}
}

func (f Funcs) OnSlashCommandsReceived(commands []string) {
	if f.SlashCommandsReceived != nil {
		f.SlashCommandsReceived(commands)
	}
}

// Multi fans every notification out to each non-nil observer, in order.
type Multi []Observer

var _ Observer = Multi{}

func NewMulti(observers ...Observer) Multi {
	out := make(Multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m Multi) OnMessageUpdate(messages []transcript.Message) {
	for _, o := range m {
		o.OnMessageUpdate(messages)
	}
}

func (m Multi) OnStateChange(busy bool, loading bool, err string) {
	for _, o := range m {
		o.OnStateChange(busy, loading, err)
	}
}

func (m Multi) OnSessionIDReceived(sessionID string) {
	for _, o := range m {
		o.OnSessionIDReceived(sessionID)
	}
}

func (m Multi) OnThinkingStatusChanged(thinking bool) {
	for _, o := range m {
		o.OnThinkingStatusChanged(thinking)
	}
}

func (m Multi) OnSlashCommandsReceived(commands []string) {
	for _, o := range m {
		o.OnSlashCommandsReceived(commands)
	}
}
