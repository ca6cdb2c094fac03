package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) Envelope {
	t.Helper()
	env, err := Parse([]byte(raw))
	require.NoError(t, err)
	return env
}

func contentKeys(t *testing.T, env Envelope) []string {
	t.Helper()
	keys := []string{}
	for _, block := range env.Content() {
		key, ok := StableKey(block)
		if !ok {
			key = "<none>"
		}
		keys = append(keys, key)
	}
	return keys
}

func TestMerge_NullAlgebra(t *testing.T) {
	x := mustParse(t, `{"type":"assistant","message":{"content":[{"id":"a","text":"foo"}]}}`)

	require.Nil(t, Merge(nil, nil))
	require.Equal(t, x, Merge(nil, x))
	require.Equal(t, x, Merge(x, nil))
}

func TestMerge_UpdateInPlace(t *testing.T) {
	existing := mustParse(t, `{"message":{"content":[{"id":"a","text":"foo"}]}}`)
	incoming := mustParse(t, `{"message":{"content":[{"id":"a","text":"foobar"},{"id":"b","tool_use_id":"t1"}]}}`)

	merged := Merge(existing, incoming)

	expected := mustParse(t, `{"message":{"content":[{"id":"a","text":"foobar"},{"id":"b","tool_use_id":"t1"}]}}`)
	require.Equal(t, expected, merged)
}

func TestMerge_IdempotentOnStableKeys(t *testing.T) {
	existing := mustParse(t, `{"message":{"content":[{"id":"a","type":"text","text":"hi"}]}}`)
	incoming := mustParse(t, `{"message":{"content":[{"id":"a","type":"text","text":"hi there"},{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}`)

	once := Merge(existing, incoming)
	twice := Merge(once, incoming)

	require.Equal(t, once, twice)
	require.Len(t, twice.Content(), 2)
}

func TestMerge_PreservesFirstAppearanceOrder(t *testing.T) {
	deltas := []string{
		`{"message":{"content":[{"id":"k1"}]}}`,
		`{"message":{"content":[{"id":"k2"},{"id":"k1","v":2}]}}`,
		`{"message":{"content":[{"tool_use_id":"k1"},{"id":"k3"}]}}`,
		`{"message":{"content":[{"id":"k3","v":2},{"id":"k4"},{"id":"k2","v":3}]}}`,
	}
	var acc Envelope
	for _, d := range deltas {
		acc = Merge(acc, mustParse(t, d))
	}
	require.Equal(t, []string{"k1", "k2", "result:k1", "k3", "k4"}, contentKeys(t, acc))
}

func TestMerge_KeylessBlocksAlwaysAppend(t *testing.T) {
	existing := mustParse(t, `{"message":{"content":[{"type":"text","text":"a"}]}}`)
	incoming := mustParse(t, `{"message":{"content":[{"type":"text","text":"a"},"raw",7]}}`)

	merged := Merge(Merge(existing, incoming), incoming)

	require.Equal(t, []string{"<none>", "<none>", "<none>", "<none>", "<none>", "<none>", "<none>"}, contentKeys(t, merged))
}

func TestMerge_TopLevelAndBodyMetadataOverwrite(t *testing.T) {
	existing := mustParse(t, `{"type":"assistant","uuid":"u1","session_id":"s1","message":{"model":"m","stop_reason":null,"usage":{"output_tokens":1},"content":[{"id":"a"}]}}`)
	incoming := mustParse(t, `{"uuid":"u2","extra":true,"message":{"stop_reason":"end_turn","usage":{"output_tokens":9}}}`)

	merged := Merge(existing, incoming)

	require.Equal(t, "assistant", merged["type"])
	require.Equal(t, "u2", merged["uuid"])
	require.Equal(t, "s1", merged["session_id"])
	require.Equal(t, true, merged["extra"])
	body := merged.Body()
	require.Equal(t, "m", body["model"])
	require.Equal(t, "end_turn", body["stop_reason"])
	require.Equal(t, map[string]any{"output_tokens": float64(9)}, body["usage"])
	require.Len(t, merged.Content(), 1)
}

func TestMerge_MalformedShapesAreTotal(t *testing.T) {
	t.Run("incoming message is not an object", func(t *testing.T) {
		existing := mustParse(t, `{"message":{"content":[{"id":"a"}]}}`)
		incoming := mustParse(t, `{"type":"assistant","message":"oops"}`)
		merged := Merge(existing, incoming)
		require.Equal(t, "assistant", merged["type"])
		require.Len(t, merged.Content(), 1)
	})

	t.Run("existing message is not an object", func(t *testing.T) {
		existing := mustParse(t, `{"message":[1,2]}`)
		incoming := mustParse(t, `{"message":{"content":[{"id":"a"}]}}`)
		merged := Merge(existing, incoming)
		require.Equal(t, []string{"a"}, contentKeys(t, merged))
	})

	t.Run("content missing or not an array", func(t *testing.T) {
		existing := mustParse(t, `{"message":{"content":"text"}}`)
		incoming := mustParse(t, `{"message":{"model":"x"}}`)
		merged := Merge(existing, incoming)
		require.Equal(t, []any{}, merged.Body()[FieldContent])
		require.Equal(t, "x", merged.Body()["model"])
	})

	t.Run("unknown fields pass through", func(t *testing.T) {
		existing := mustParse(t, `{"message":{"content":[{"id":"a","future":{"x":1}}]}}`)
		incoming := mustParse(t, `{"novel":[1],"message":{"content":[{"id":"b","shape":"new"}]}}`)
		merged := Merge(existing, incoming)
		require.Equal(t, []any{float64(1)}, merged["novel"])
		require.Equal(t, map[string]any{"x": float64(1)}, merged.Content()[0].(map[string]any)["future"])
	})
}

func TestMerge_DuplicateKeysInExistingFirstOccurrenceWins(t *testing.T) {
	existing := mustParse(t, `{"message":{"content":[{"id":"a","n":1},{"id":"a","n":2}]}}`)
	incoming := mustParse(t, `{"message":{"content":[{"id":"a","n":3}]}}`)

	merged := Merge(existing, incoming)

	content := merged.Content()
	require.Len(t, content, 2)
	require.Equal(t, float64(3), content[0].(map[string]any)["n"])
	require.Equal(t, float64(2), content[1].(map[string]any)["n"])
}

func TestMerge_CopyIsolation(t *testing.T) {
	existing := mustParse(t, `{"message":{"content":[{"id":"a","input":{"q":"x"}}]}}`)
	incoming := mustParse(t, `{"message":{"content":[{"id":"b","input":{"q":"y"}}]}}`)
	existingBefore := existing.DeepCopy()
	incomingBefore := incoming.DeepCopy()

	merged := Merge(existing, incoming)
	merged["type"] = "mutated"
	merged.Body()["stop_reason"] = "mutated"
	merged.Content()[0].(map[string]any)["input"].(map[string]any)["q"] = "mutated"
	merged.Content()[1].(map[string]any)["input"].(map[string]any)["q"] = "mutated"

	require.Equal(t, existingBefore, existing)
	require.Equal(t, incomingBefore, incoming)

	single := Merge(nil, incoming)
	single.Content()[0].(map[string]any)["id"] = "changed"
	require.Equal(t, incomingBefore, incoming)
}

func TestStableKey(t *testing.T) {
	cases := []struct {
		name  string
		block any
		key   string
		ok    bool
	}{
		{"explicit id", map[string]any{"id": "x", "tool_use_id": "t"}, "x", true},
		{"numeric id", map[string]any{"id": float64(42)}, "42", true},
		{"null id falls back to reference", map[string]any{"id": nil, "tool_use_id": "t"}, "result:t", true},
		{"reference only", map[string]any{"tool_use_id": "t"}, "result:t", true},
		{"no identity", map[string]any{"type": "text"}, "", false},
		{"object id is not a key", map[string]any{"id": map[string]any{}}, "", false},
		{"not an object", "text", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, ok := StableKey(tc.block)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.key, key)
		})
	}
}
