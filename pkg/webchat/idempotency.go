package webchat

import (
	"net/http"
	"strings"
	"sync"
)

const recentKeysPerSession = 256

func idempotencyKeyFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	}
	return key
}

// recentKeys remembers the last idempotency keys posted to one session, oldest
// evicted first.
type recentKeys struct {
	mu    sync.Mutex
	order []string
	set   map[string]struct{}
}

func newRecentKeys() *recentKeys {
	return &recentKeys{set: map[string]struct{}{}}
}

// Remember records key and reports whether it was new.
func (k *recentKeys) Remember(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.set[key]; ok {
		return false
	}
	k.set[key] = struct{}{}
	k.order = append(k.order, key)
	if len(k.order) > recentKeysPerSession {
		delete(k.set, k.order[0])
		k.order = k.order[1:]
	}
	return true
}

func (s *Server) keysFor(sessionID string) *recentKeys {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.keys[sessionID]
	if !ok {
		keys = newRecentKeys()
		s.keys[sessionID] = keys
	}
	return keys
}
