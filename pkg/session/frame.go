package session

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/sessioncore/pkg/adapter"
)

type FrameKind string

const (
	FrameBegin    FrameKind = "begin"
	FrameEvent    FrameKind = "event"
	FrameError    FrameKind = "error"
	FrameComplete FrameKind = "complete"
)

// Frame is the wire unit delivered to a session:
//
//	{"kind":"begin","prompt":"..."}
//	{"kind":"event","type":"content_delta","payload":"Hel"}
//	{"kind":"event","type":"assistant","payload":{"message":{...}}}
//	{"kind":"error","message":"connection reset"}
//	{"kind":"complete","result":{"session_id":"..."}}
type Frame struct {
	Kind    FrameKind       `json:"kind"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
	Prompt  string          `json:"prompt,omitempty"`
	Result  *adapter.Result `json:"result,omitempty"`
}

func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, errors.Wrap(err, "decode frame")
	}
	if f.Kind == "" {
		return Frame{}, errors.New("decode frame: missing kind")
	}
	return f, nil
}

// PayloadBytes returns the event payload as handed to the adapter: a JSON
// string payload yields its text, anything else its raw JSON.
func (f Frame) PayloadBytes() []byte {
	if len(f.Payload) == 0 {
		return nil
	}
	if f.Payload[0] == '"' {
		var s string
		if err := json.Unmarshal(f.Payload, &s); err == nil {
			return []byte(s)
		}
	}
	return f.Payload
}

func BeginFrame(prompt string) Frame {
	return Frame{Kind: FrameBegin, Prompt: prompt}
}

// TextEventFrame builds an event frame whose payload is a plain string.
func TextEventFrame(eventType string, text string) Frame {
	b, _ := json.Marshal(text)
	return Frame{Kind: FrameEvent, Type: eventType, Payload: b}
}

// JSONEventFrame builds an event frame whose payload is v encoded as JSON.
func JSONEventFrame(eventType string, v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "encode %s payload", eventType)
	}
	return Frame{Kind: FrameEvent, Type: eventType, Payload: b}, nil
}

func ErrorFrame(message string) Frame {
	return Frame{Kind: FrameError, Message: message}
}

func CompleteFrame(result adapter.Result) Frame {
	return Frame{Kind: FrameComplete, Result: &result}
}
