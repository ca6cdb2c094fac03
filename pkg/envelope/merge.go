package envelope

import (
	"encoding/json"
	"strconv"
)

// Merge folds incoming into existing and returns a fresh envelope.
//
// Top-level fields of incoming overwrite those of existing, except "message",
// whose metadata fields are overwritten individually and whose content sequence
// is merged block by block: a block whose stable key was already seen replaces
// the earlier block in place, a block with a new key is appended, and a block
// without a key is always appended.
//
// Neither argument is modified. Merge(nil, nil) is nil.
func Merge(existing, incoming Envelope) Envelope {
	if incoming == nil {
		return existing.DeepCopy()
	}
	if existing == nil {
		return incoming.DeepCopy()
	}

	merged := existing.DeepCopy()
	for k, v := range incoming {
		if k == FieldMessage {
			continue
		}
		merged[k] = copyValue(v)
	}

	incomingBody, ok := asObject(incoming[FieldMessage])
	if !ok {
		return merged
	}

	body, ok := asObject(merged[FieldMessage])
	if !ok {
		body = map[string]any{}
	}
	for k, v := range incomingBody {
		if k == FieldContent {
			continue
		}
		body[k] = copyValue(v)
	}
	body[FieldContent] = mergeContent(body[FieldContent], incomingBody[FieldContent])
	merged[FieldMessage] = body
	return merged
}

// mergeContent works on base, which is already a private copy.
func mergeContent(base any, incoming any) []any {
	content, _ := base.([]any)
	if content == nil {
		content = []any{}
	}
	blocks, ok := incoming.([]any)
	if !ok {
		return content
	}

	index := indexByKey(content)
	for _, block := range blocks {
		cp := copyValue(block)
		key, ok := StableKey(block)
		if !ok {
			content = append(content, cp)
			continue
		}
		if pos, seen := index[key]; seen {
			content[pos] = cp
			continue
		}
		content = append(content, cp)
		index[key] = len(content) - 1
	}
	return content
}

func indexByKey(content []any) map[string]int {
	index := make(map[string]int, len(content))
	for i, block := range content {
		key, ok := StableKey(block)
		if !ok {
			continue
		}
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	return index
}

// StableKey returns the identity used to recognise a block across deltas: its
// "id", else "result:<tool_use_id>". Blocks without either, and values that are
// not objects, have no key.
func StableKey(block any) (string, bool) {
	m, ok := asObject(block)
	if !ok {
		return "", false
	}
	if id, ok := scalarString(m[FieldID]); ok {
		return id, true
	}
	if ref, ok := scalarString(m[FieldToolUseID]); ok {
		return resultKeyPrefix + ref, true
	}
	return "", false
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
