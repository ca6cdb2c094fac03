package configstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const selectedFile = ".selected"

// YAMLStore keeps one <id>.yaml file per entry in a directory. Writes go
// through a temporary file and a rename.
type YAMLStore struct {
	dir string
	mu  sync.Mutex
}

var _ Store = &YAMLStore{}

func NewYAMLStore(dir string) (*YAMLStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("yaml config store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "yaml config store: create %s", dir)
	}
	return &YAMLStore{dir: dir}, nil
}

func (s *YAMLStore) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

func (s *YAMLStore) Load(id string) (Entry, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *YAMLStore) loadLocked(id string) (Entry, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", id)
	}
	entry := Entry{}
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", id)
	}
	// the file name is authoritative
	entry[FieldID] = id
	return entry, nil
}

func (s *YAMLStore) Save(entry Entry) error {
	id := entry.ID()
	if err := validateID(id); err != nil {
		return err
	}
	data, err := yaml.Marshal(map[string]any(entry))
	if err != nil {
		return errors.Wrapf(err, "encode config %s", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path(id), data)
}

func (s *YAMLStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrNotFound, id)
		}
		return errors.Wrapf(err, "delete config %s", id)
	}
	if selected, _ := s.selectedLocked(); selected == id {
		if err := os.Remove(filepath.Join(s.dir, selectedFile)); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "clear selection")
		}
	}
	return nil
}

func (s *YAMLStore) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", s.dir)
	}
	out := []Entry{}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		id := strings.TrimSuffix(name, ".yaml")
		if validateID(id) != nil {
			continue
		}
		entry, err := s.loadLocked(id)
		if err != nil {
			log.Warn().Err(err).Str("component", "configstore").Str("id", id).Msg("skipping unreadable config")
			continue
		}
		out = append(out, entry)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *YAMLStore) Selected() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked()
}

func (s *YAMLStore) selectedLocked() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, selectedFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "read selection")
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *YAMLStore) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, selectedFile)
	if id == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "clear selection")
		}
		return nil
	}
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := os.Stat(s.path(id)); err != nil {
		return errors.Wrap(ErrNotFound, id)
	}
	return writeFileAtomic(path, []byte(id+"\n"))
}

func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "rename %s", tmpPath)
	}
	return nil
}
