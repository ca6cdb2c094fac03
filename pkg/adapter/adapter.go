// Package adapter turns backend stream events into transcript updates and
// observer notifications. Two protocols share one contract: a simple text
// protocol that streams plain text fragments, and a structured protocol whose
// events carry full message envelopes that are merged block by block.
package adapter

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sessioncore/pkg/notify"
	"github.com/go-go-golems/sessioncore/pkg/transcript"
)

// Event types understood by the adapters. Anything else is ignored.
const (
	EventContentDelta  = "content_delta"
	EventAssistant     = "assistant"
	EventMessageEnd    = "message_end"
	EventSessionID     = "session_id"
	EventThinking      = "thinking"
	EventSlashCommands = "slash_commands"
	EventSystem        = "system"
)

type Protocol string

const (
	ProtocolText       Protocol = "text"
	ProtocolStructured Protocol = "structured"
)

func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProtocolText:
		return ProtocolText, nil
	case ProtocolStructured:
		return ProtocolStructured, nil
	default:
		return "", errors.Errorf("unknown protocol %q", s)
	}
}

// Result is the completion summary reported by the backend.
type Result struct {
	SessionID  string         `json:"session_id,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      map[string]any `json:"usage,omitempty"`
}

// Adapter is driven by exactly one goroutine per session, in event order.
type Adapter interface {
	// Begin opens a new exchange.
	Begin()
	OnEvent(eventType string, payload []byte)
	// OnError reports a transport failure; it closes the exchange as errored.
	OnError(message string)
	OnComplete(result Result)
	Protocol() Protocol
}

// New builds the adapter for protocol p over the given state and dispatcher.
func New(p Protocol, state *transcript.State, dispatcher *notify.Dispatcher) (Adapter, error) {
	switch p {
	case ProtocolText:
		return NewTextAdapter(state, dispatcher), nil
	case ProtocolStructured:
		return NewStructuredAdapter(state, dispatcher), nil
	default:
		return nil, errors.Errorf("unknown protocol %q", p)
	}
}

// core carries the behaviour both protocols share.
type core struct {
	state      *transcript.State
	dispatcher *notify.Dispatcher
}

func (c *core) notifyMessages() {
	c.dispatcher.NotifyMessageUpdate(c.state.Messages())
}

func (c *core) notifyState() {
	snap := c.state.Snapshot()
	c.dispatcher.NotifyStateChange(snap.Busy, snap.Loading, snap.Error)
}

func (c *core) begin() {
	c.state.Begin()
	c.notifyState()
}

func (c *core) fail(message string) {
	c.state.Fail(message)
	c.notifyMessages()
	c.notifyState()
}

func (c *core) complete(result Result) {
	if result.SessionID != "" {
		c.setSessionID(result.SessionID)
	}
	c.state.Complete()
	c.notifyState()
}

func (c *core) setSessionID(id string) {
	id = strings.TrimSpace(id)
	if id == "" || id == c.state.SessionID() {
		return
	}
	c.state.SetSessionID(id)
	c.dispatcher.NotifySessionIDReceived(id)
}

// handleShared processes the event types both protocols understand and reports
// whether eventType was one of them.
func (c *core) handleShared(eventType string, payload []byte) bool {
	switch eventType {
	case EventSessionID:
		c.setSessionID(string(payload))
	case EventThinking:
		thinking, err := strconv.ParseBool(strings.TrimSpace(string(payload)))
		if err != nil {
			log.Debug().Str("component", "adapter").Str("payload", string(payload)).Msg("ignoring unparsable thinking status")
			return true
		}
		c.dispatcher.NotifyThinkingStatusChanged(thinking)
	case EventSlashCommands:
		var commands []string
		if err := json.Unmarshal(payload, &commands); err != nil {
			log.Warn().Err(err).Str("component", "adapter").Msg("ignoring malformed slash command list")
			return true
		}
		c.dispatcher.NotifySlashCommandsReceived(commands)
	case EventSystem:
		c.state.Append(transcript.KindSystem, string(payload))
		c.notifyMessages()
	default:
		return false
	}
	return true
}

func logIgnored(p Protocol, eventType string) {
	log.Debug().Str("component", "adapter").Str("protocol", string(p)).Str("event_type", eventType).Msg("ignoring unknown event type")
}
