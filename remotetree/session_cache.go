package remotetree

import (
	"sync"
	"time"
)

// SessionCache is a small bounded cache of established remote sessions,
// keyed by credential. Establishing a session costs a round trip against a
// rate-limited API, so sessions are reused until their TTL elapses or they
// are evicted to make room.
//
// Entries are never refreshed in the background. A revoked credential
// therefore remains usable until its entry expires or is evicted; callers
// that know a credential was revoked should call Invalidate. This is a
// documented limitation of the remote protocol, not something the client
// papers over.
type SessionCache struct {
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]sessionEntry
}

type sessionEntry struct {
	token     string
	expiresAt time.Time
}

// NewSessionCache creates a session cache holding at most maxSize entries,
// each valid for ttl after insertion.
func NewSessionCache(maxSize int, ttl time.Duration) *SessionCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &SessionCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]sessionEntry),
	}
}

// Get returns the cached session token for the credential, if present and
// unexpired.
func (c *SessionCache) Get(credential string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[credential]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, credential)
		return "", false
	}
	return entry.token, true
}

// Put stores a session token for the credential. When the cache is full, the
// entry closest to expiry is evicted to make room.
func (c *SessionCache) Put(credential, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[credential]; !ok && len(c.entries) >= c.maxSize {
		var (
			oldestKey string
			oldestAt  time.Time
		)
		for key, entry := range c.entries {
			if oldestKey == "" || entry.expiresAt.Before(oldestAt) {
				oldestKey, oldestAt = key, entry.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[credential] = sessionEntry{
		token:     token,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops the cached session for the credential, forcing the next
// call to establish a fresh one.
func (c *SessionCache) Invalidate(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, credential)
}

// Len returns the number of cached sessions, expired entries included.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
