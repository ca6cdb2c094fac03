// Package configstore keeps small named configuration entries (agents, presets)
// keyed by id, plus the id of the currently selected entry.
package configstore

import (
	"regexp"
	"sort"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("config entry not found")
	ErrExists    = errors.New("config entry already exists")
	ErrInvalidID = errors.New("invalid config entry id")
)

const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
)

// Entry is one configuration object. FieldID and FieldCreatedAt are managed by
// the store helpers.
type Entry map[string]any

func (e Entry) ID() string {
	id, _ := e[FieldID].(string)
	return id
}

// CreatedAt returns the creation time in unix milliseconds, 0 if unknown.
func (e Entry) CreatedAt() int64 {
	switch v := e[FieldCreatedAt].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func (e Entry) clone() Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

type Store interface {
	Load(id string) (Entry, error)
	Save(entry Entry) error
	Delete(id string) error
	// List returns every entry, newest first.
	List() ([]Entry, error)
	Selected() (string, error)
	// Select marks id as selected; an empty id clears the selection.
	Select(id string) error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return errors.Wrapf(ErrInvalidID, "%q", id)
	}
	return nil
}

// Add stores a new entry, stamping its creation time when missing.
func Add(s Store, entry Entry) (Entry, error) {
	id := entry.ID()
	if err := validateID(id); err != nil {
		return nil, err
	}
	if _, err := s.Load(id); err == nil {
		return nil, errors.Wrap(ErrExists, id)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	entry = entry.clone()
	if entry.CreatedAt() == 0 {
		entry[FieldCreatedAt] = time.Now().UnixMilli()
	}
	if err := s.Save(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Update merges patch into the entry with the given id. The id and creation
// time cannot be changed; a nil value removes the key.
func Update(s Store, id string, patch map[string]any) (Entry, error) {
	entry, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	entry = entry.clone()
	for k, v := range patch {
		if k == FieldID || k == FieldCreatedAt {
			continue
		}
		if v == nil {
			delete(entry, k)
			continue
		}
		entry[k] = v
	}
	if err := s.Save(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].CreatedAt(), entries[j].CreatedAt()
		if a == b {
			return entries[i].ID() < entries[j].ID()
		}
		return a > b
	})
}
