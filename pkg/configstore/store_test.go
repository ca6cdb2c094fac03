package configstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	y, err := NewYAMLStore(filepath.Join(t.TempDir(), "agents"))
	require.NoError(t, err)
	return map[string]Store{"memory": NewMemoryStore(), "yaml": y}
}

func TestStores_AddUpdateDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := Add(s, Entry{"name": "no id"})
			require.ErrorIs(t, err, ErrInvalidID)

			added, err := Add(s, Entry{FieldID: "reviewer", "name": "Reviewer", "prompt": "be strict"})
			require.NoError(t, err)
			require.NotZero(t, added.CreatedAt())

			_, err = Add(s, Entry{FieldID: "reviewer"})
			require.ErrorIs(t, err, ErrExists)

			updated, err := Update(s, "reviewer", map[string]any{
				FieldID:        "hijack",
				FieldCreatedAt: 1,
				"name":         "Strict reviewer",
				"prompt":       nil,
				"model":        "large",
			})
			require.NoError(t, err)
			require.Equal(t, "reviewer", updated.ID())
			require.Equal(t, added.CreatedAt(), updated.CreatedAt())

			loaded, err := s.Load("reviewer")
			require.NoError(t, err)
			require.Equal(t, "Strict reviewer", loaded["name"])
			require.Equal(t, "large", loaded["model"])
			_, hasPrompt := loaded["prompt"]
			require.False(t, hasPrompt)

			_, err = Update(s, "missing", map[string]any{"name": "x"})
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Select("reviewer"))
			sel, err := s.Selected()
			require.NoError(t, err)
			require.Equal(t, "reviewer", sel)
			require.ErrorIs(t, s.Select("missing"), ErrNotFound)

			require.NoError(t, s.Delete("reviewer"))
			require.ErrorIs(t, s.Delete("reviewer"), ErrNotFound)
			_, err = s.Load("reviewer")
			require.ErrorIs(t, err, ErrNotFound)
			sel, err = s.Selected()
			require.NoError(t, err)
			require.Empty(t, sel)
		})
	}
}

func TestStores_ListNewestFirst(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(Entry{FieldID: "old", FieldCreatedAt: 100}))
			require.NoError(t, s.Save(Entry{FieldID: "new", FieldCreatedAt: 300}))
			require.NoError(t, s.Save(Entry{FieldID: "mid", FieldCreatedAt: 200}))

			list, err := s.List()
			require.NoError(t, err)
			ids := []string{}
			for _, e := range list {
				ids = append(ids, e.ID())
			}
			require.Equal(t, []string{"new", "mid", "old"}, ids)
		})
	}
}

func TestYAMLStore_SkipsJunkAndTrustsFileName(t *testing.T) {
	dir := t.TempDir()
	s, err := NewYAMLStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{{{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "renamed.yaml"), []byte("id: other\nname: x\n"), 0o644))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "renamed", list[0].ID())

	_, err = s.Load("../etc/passwd")
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = NewYAMLStore("")
	require.Error(t, err)
}
