// Package ui bridges geppetto inference events onto a structured session, so
// an engine running in-process (or on the other side of a redis stream) can
// drive the same transcript and observers as any other backend.
package ui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/geppetto/pkg/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sessioncore/pkg/adapter"
	"github.com/go-go-golems/sessioncore/pkg/session"
)

// StepSessionForwardFunc is a watermill handler that turns geppetto events into
// frames applied to sess. Every block carries a stable id, so a streamed text
// block is updated in place and tool steps survive later deltas.
//
// Text blocks are keyed "<message-id>:text", thinking blocks
// "<message-id>:thinking", tool calls by their call id and tool results by the
// id of the call they answer.
func StepSessionForwardFunc(sess *session.Session) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "ui").Str("session_id", sess.ID).Msg("failed to decode event payload")
			return nil
		}
		applyEvent(sess, e)
		return nil
	}
}

// ManagerForwardFunc routes every event to the structured session named by its
// metadata (session id, else turn id), creating sessions on demand. Events that
// name neither are dropped.
func ManagerForwardFunc(m *session.Manager) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		msg.Ack()

		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "ui").Msg("failed to decode event payload")
			return nil
		}
		md := e.Metadata()
		id := strings.TrimSpace(md.SessionID)
		if id == "" {
			id = strings.TrimSpace(md.TurnID)
		}
		if id == "" {
			log.Debug().Str("component", "ui").Str("event_type", fmt.Sprintf("%T", e)).Msg("event names no session, dropping")
			return nil
		}
		sess, _, err := m.GetOrCreate(id, adapter.ProtocolStructured)
		if err != nil {
			log.Warn().Err(err).Str("component", "ui").Str("session_id", id).Msg("failed to open session for event")
			return nil
		}
		applyEvent(sess, e)
		return nil
	}
}

func applyEvent(sess *session.Session, e events.Event) {
	for _, f := range framesForEvent(e, sess.State().Busy()) {
		sess.Apply(f)
	}
}

func framesForEvent(e events.Event, busy bool) []session.Frame {
	md := e.Metadata()
	id := messageID(md)

	var frames []session.Frame
	if md.SessionID != "" {
		frames = append(frames, session.TextEventFrame(adapter.EventSessionID, md.SessionID))
	}

	switch ev := e.(type) {
	case *events.EventPartialCompletionStart:
		if !busy {
			frames = append(frames, session.BeginFrame(""))
		}
	case *events.EventPartialCompletion:
		frames = appendAssistant(frames, id, textBlock(id, ev.Completion))
	case *events.EventFinal:
		frames = appendAssistant(frames, id, textBlock(id, ev.Text))
		frames = append(frames, session.CompleteFrame(adapter.Result{StopReason: "end_turn"}))
	case *events.EventInterrupt:
		frames = appendAssistant(frames, id, textBlock(id, ev.Text))
		frames = append(frames, session.CompleteFrame(adapter.Result{StopReason: "interrupted"}))
	case *events.EventError:
		frames = append(frames, session.ErrorFrame(ev.ErrorString))
	case *events.EventToolCall:
		frames = appendAssistant(frames, id, map[string]any{
			"type":  "tool_use",
			"id":    ev.ToolCall.ID,
			"name":  ev.ToolCall.Name,
			"input": toolInput(ev.ToolCall.Input),
		})
	case *events.EventToolResult:
		frames = appendAssistant(frames, id, map[string]any{
			"type":        "tool_result",
			"tool_use_id": ev.ToolResult.ID,
			"content":     ev.ToolResult.Result,
		})
	case *events.EventInfo:
		switch ev.Message {
		case "thinking-started":
			frames = append(frames, session.TextEventFrame(adapter.EventThinking, "true"))
		case "thinking-ended":
			frames = append(frames, session.TextEventFrame(adapter.EventThinking, "false"))
		}
	case *events.EventThinkingPartial:
		frames = appendAssistant(frames, id, map[string]any{
			"type":     "thinking",
			"id":       id + ":thinking",
			"thinking": ev.Completion,
		})
	default:
		log.Debug().Str("component", "ui").Str("event_type", fmt.Sprintf("%T", e)).Msg("no frame for event")
	}
	return frames
}

func appendAssistant(frames []session.Frame, id string, block map[string]any) []session.Frame {
	f, err := session.JSONEventFrame(adapter.EventAssistant, map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"id":      id,
			"content": []any{block},
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "ui").Msg("failed to encode assistant frame")
		return frames
	}
	return append(frames, f)
}

func textBlock(id string, text string) map[string]any {
	return map[string]any{"type": "text", "id": id + ":text", "text": text}
}

// toolInput keeps JSON tool arguments structured and falls back to the raw string.
func toolInput(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func messageID(md events.EventMetadata) string {
	if md.ID != uuid.Nil {
		return md.ID.String()
	}
	for _, s := range []string{md.InferenceID, md.TurnID} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return "message"
}
