package adapter

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sessioncore/pkg/notify"
	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

// TextAdapter accumulates plain text fragments into the current assistant
// message. The accumulator belongs to the open exchange.
type TextAdapter struct {
	core
	exchange *textExchange
}

type textExchange struct {
	buf strings.Builder
}

var _ Adapter = &TextAdapter{}

func NewTextAdapter(state *transcript.State, dispatcher *notify.Dispatcher) *TextAdapter {
	return &TextAdapter{core: core{state: state, dispatcher: dispatcher}}
}

func (a *TextAdapter) Protocol() Protocol { return ProtocolText }

func (a *TextAdapter) Begin() {
	a.exchange = &textExchange{}
	a.begin()
}

func (a *TextAdapter) OnEvent(eventType string, payload []byte) {
	switch eventType {
	case EventContentDelta:
		a.appendDelta(string(payload))
	case EventMessageEnd:
		a.exchange = nil
		a.complete(Result{})
	default:
		if !a.handleShared(eventType, payload) {
			logIgnored(ProtocolText, eventType)
		}
	}
}

func (a *TextAdapter) OnError(message string) {
	a.exchange = nil
	a.fail(message)
}

func (a *TextAdapter) OnComplete(result Result) {
	a.exchange = nil
	a.complete(result)
}

func (a *TextAdapter) appendDelta(text string) {
	if a.exchange == nil {
		// content after a terminal event (or before any Begin) opens a fresh
		// message instead of reviving the frozen one
		log.Debug().Str("component", "adapter").Str("protocol", string(ProtocolText)).Msg("content outside an exchange, starting a new message")
		a.exchange = &textExchange{}
	}
	a.exchange.buf.WriteString(text)
	a.state.SetCurrentText(a.exchange.buf.String())
	a.notifyMessages()
}
