package gate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// GlobalScope is used when one verification covers every lesson.
const GlobalScope = "global"

// Store is tab-lifetime key/value storage. It must not outlive the
// viewer's browsing session.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

type MemoryStore struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

func SessionKey(scope string) string {
	return "otp_session_" + scope
}

type cachedSession struct {
	ExpiresAt int64  `json:"expiresAt"`
	Token     string `json:"token"`
}

// Cache keeps verified video-session tokens so a remount inside the same
// tab skips the challenge.
type Cache struct {
	store Store
	clock clockwork.Clock
}

func NewCache(store Store, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{store: store, clock: clock}
}

// Load returns the token for scope. Expired or unreadable entries are
// removed and reported as missing.
func (c *Cache) Load(scope string) (string, time.Time, bool) {
	key := SessionKey(scope)
	raw, ok := c.store.Get(key)
	if !ok {
		return "", time.Time{}, false
	}
	sess, err := decodeSession(raw)
	if err != nil {
		slog.Warn("gate: discarding unreadable session", "key", key, "error", err)
		c.store.Delete(key)
		return "", time.Time{}, false
	}
	expiresAt := time.UnixMilli(sess.ExpiresAt)
	if !expiresAt.After(c.clock.Now()) {
		c.store.Delete(key)
		return "", time.Time{}, false
	}
	return sess.Token, expiresAt, true
}

func (c *Cache) Save(scope, token string, expiresAt time.Time) error {
	payload, err := json.Marshal(cachedSession{ExpiresAt: expiresAt.UnixMilli(), Token: token})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	c.store.Set(SessionKey(scope), base64.StdEncoding.EncodeToString(payload))
	return nil
}

func (c *Cache) Clear(scope string) {
	c.store.Delete(SessionKey(scope))
}

func decodeSession(raw string) (cachedSession, error) {
	var sess cachedSession
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return sess, fmt.Errorf("decode base64: %w", err)
	}
	if err := json.Unmarshal(payload, &sess); err != nil {
		return sess, fmt.Errorf("decode json: %w", err)
	}
	return sess, nil
}
