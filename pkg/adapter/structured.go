package adapter

import (
	"github.com/go-go-golems/sessioncore/pkg/envelope"
	"github.com/go-go-golems/sessioncore/pkg/notify"
	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

// StructuredAdapter merges each incoming envelope into the current assistant
// message, so a later delta can update a tool step (for example attach its
// result) without erasing steps rendered earlier.
type StructuredAdapter struct {
	core
}

var _ Adapter = &StructuredAdapter{}

func NewStructuredAdapter(state *transcript.State, dispatcher *notify.Dispatcher) *StructuredAdapter {
	return &StructuredAdapter{core: core{state: state, dispatcher: dispatcher}}
}

func (a *StructuredAdapter) Protocol() Protocol { return ProtocolStructured }

func (a *StructuredAdapter) Begin() {
	a.begin()
}

func (a *StructuredAdapter) OnEvent(eventType string, payload []byte) {
	switch eventType {
	case EventAssistant:
		a.mergeDelta(payload)
	case EventMessageEnd:
		a.complete(Result{})
	default:
		if !a.handleShared(eventType, payload) {
			logIgnored(ProtocolStructured, eventType)
		}
	}
}

func (a *StructuredAdapter) OnError(message string) {
	a.fail(message)
}

func (a *StructuredAdapter) OnComplete(result Result) {
	a.complete(result)
}

func (a *StructuredAdapter) mergeDelta(payload []byte) {
	delta, err := envelope.Parse(payload)
	if err != nil {
		a.fail("malformed envelope: " + err.Error())
		return
	}
	merged := envelope.Merge(a.state.CurrentEnvelope(), delta)
	a.state.SetCurrentEnvelope(merged)
	if id, ok := delta["session_id"].(string); ok {
		a.setSessionID(id)
	}
	a.notifyMessages()
}
