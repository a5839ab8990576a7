package channel

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

const (
	defaultKeyTTL    = 60 * time.Second
	channelKeyLength = 32
)

// ErrInvalidChannelKey indicates an unknown, expired, or already consumed channel key.
var ErrInvalidChannelKey = errors.New("channel: invalid channel key")

// KeyStoreConfig configures the one-time channel key store.
type KeyStoreConfig struct {
	KeyTTL time.Duration
	Clock  func() time.Time
}

type keyEntry struct {
	userID    string
	expiresAt time.Time
}

// KeyStore issues short-lived, single-use keys binding a websocket connection
// attempt to an already authenticated user. A key is destroyed on first Take,
// whether or not it was still valid.
type KeyStore struct {
	mu      sync.Mutex
	entries map[string]keyEntry
	ttl     time.Duration
	clock   func() time.Time
	done    chan struct{}
	closed  sync.Once
}

// NewKeyStore constructs a key store and starts its expiry sweeper.
func NewKeyStore(cfg KeyStoreConfig) *KeyStore {
	ttl := cfg.KeyTTL
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	store := &KeyStore{
		entries: make(map[string]keyEntry),
		ttl:     ttl,
		clock:   clock,
		done:    make(chan struct{}),
	}
	go store.sweepLoop()
	return store
}

// Issue generates a random key valid for exactly one Take within the TTL.
func (s *KeyStore) Issue(userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidChannelKey
	}

	buf := make([]byte, channelKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	key := hex.EncodeToString(buf)

	s.mu.Lock()
	s.entries[key] = keyEntry{
		userID:    userID,
		expiresAt: s.clock().Add(s.ttl),
	}
	s.mu.Unlock()

	return key, nil
}

// Take atomically consumes the key and returns the bound user id. The key is
// removed even when the lookup fails, so a key can never be verified twice.
func (s *KeyStore) Take(key string) (string, error) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if !ok || s.clock().After(entry.expiresAt) {
		return "", ErrInvalidChannelKey
	}
	return entry.userID, nil
}

// Close stops the background sweeper.
func (s *KeyStore) Close() {
	s.closed.Do(func() {
		close(s.done)
	})
}

func (s *KeyStore) sweepLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *KeyStore) sweep() {
	now := s.clock()
	s.mu.Lock()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}
