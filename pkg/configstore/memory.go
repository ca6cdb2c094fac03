package configstore

import (
	"sync"

	"github.com/pkg/errors"
)

type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]Entry
	selected string
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}}
}

func (m *MemoryStore) Load(id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return e.clone(), nil
}

func (m *MemoryStore) Save(entry Entry) error {
	if err := validateID(entry.ID()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID()] = entry.clone()
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return errors.Wrap(ErrNotFound, id)
	}
	delete(m.entries, id)
	if m.selected == id {
		m.selected = ""
	}
	return nil
}

func (m *MemoryStore) List() ([]Entry, error) {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.clone())
	}
	m.mu.Unlock()
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Selected() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected, nil
}

func (m *MemoryStore) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if _, ok := m.entries[id]; !ok {
			return errors.Wrap(ErrNotFound, id)
		}
	}
	m.selected = id
	return nil
}
