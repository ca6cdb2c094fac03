// Package envelope holds the structured message representation streamed by the
// backend and the merge rules that fold successive deltas into one accumulated
// message without losing previously seen content blocks.
//
// An Envelope is a decoded JSON object:
//
//	{ "type": "assistant", ..., "message": { ..., "content": [ {...}, ... ] } }
//
// Values inside an envelope are the plain JSON-decoded Go types (map[string]any,
// []any, string, float64, bool, nil). Merge never mutates its arguments, so an
// envelope that has been attached to a transcript message can be shared freely
// between readers.
package envelope

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// FieldMessage holds the nested message body; it is merged structurally.
	FieldMessage = "message"
	// FieldContent holds the ordered content block sequence inside the body.
	FieldContent = "content"
	// FieldID is the explicit block identifier.
	FieldID = "id"
	// FieldToolUseID references the tool invocation a result block answers.
	FieldToolUseID = "tool_use_id"

	resultKeyPrefix = "result:"
)

// Envelope is a structured message tree. A nil Envelope stands for "absent".
type Envelope map[string]any

// Parse decodes raw JSON into an Envelope. Anything but a JSON object is an error.
func Parse(raw []byte) (Envelope, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "envelope: decode payload")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Errorf("envelope: payload is %s, not a JSON object", jsonKind(v))
	}
	return Envelope(m), nil
}

// DeepCopy returns an independent copy of the envelope tree.
func (e Envelope) DeepCopy() Envelope {
	if e == nil {
		return nil
	}
	return Envelope(copyObject(e))
}

// Body returns the nested message object, or nil if absent or not an object.
func (e Envelope) Body() map[string]any {
	if e == nil {
		return nil
	}
	body, _ := asObject(e[FieldMessage])
	return body
}

// Content returns the body's content sequence, or nil if absent or not an array.
func (e Envelope) Content() []any {
	content, _ := e.Body()[FieldContent].([]any)
	return content
}

// Type returns the top-level "type" field if it is a string.
func (e Envelope) Type() string {
	t, _ := e["type"].(string)
	return t
}

// MarshalJSON keeps a nil Envelope encoding as null.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]any(e))
}

// FlattenText concatenates the text of all "text" blocks, one per line. A string
// content field is returned as is.
func FlattenText(e Envelope) string {
	body := e.Body()
	if body == nil {
		return ""
	}
	if s, ok := body[FieldContent].(string); ok {
		return s
	}
	parts := make([]string, 0, 2)
	for _, item := range e.Content() {
		block, ok := asObject(item)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t != "text" {
			continue
		}
		if text, ok := block["text"].(string); ok && text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToStruct converts the envelope to a protobuf Struct for persistence.
func ToStruct(e Envelope) (*structpb.Struct, error) {
	if e == nil {
		return nil, nil
	}
	s, err := structpb.NewStruct(map[string]any(e))
	if err != nil {
		return nil, errors.Wrap(err, "envelope: convert to struct")
	}
	return s, nil
}

// FromStruct converts a protobuf Struct back into an Envelope.
func FromStruct(s *structpb.Struct) Envelope {
	if s == nil {
		return nil
	}
	return Envelope(s.AsMap())
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, t != nil
	case Envelope:
		return t, t != nil
	default:
		return nil, false
	}
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyObject(t)
	case Envelope:
		return copyObject(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func copyObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case float64:
		return "a number"
	default:
		return "an unexpected value"
	}
}
