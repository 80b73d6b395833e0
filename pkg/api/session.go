package api

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/markbook/markbook/pkg/util"
)

// DefaultSessionTTL bounds how long a login stays valid.
const DefaultSessionTTL = 12 * time.Hour

type session struct {
	username string
	expires  time.Time
}

// SessionManager issues and resolves bearer tokens. Sessions live in memory;
// restarting the service logs everyone out, which is acceptable for this
// system's audience.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]session
	ttl      time.Duration
	clock    util.Clock
}

func NewSessionManager(ttl time.Duration, clock util.Clock) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &SessionManager{
		sessions: make(map[string]session),
		ttl:      ttl,
		clock:    clock,
	}
}

// Open creates a session for an authenticated username and returns the token.
func (sm *SessionManager) Open(username string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	sm.mu.Lock()
	sm.sessions[token] = session{
		username: username,
		expires:  sm.clock.Now().Add(sm.ttl),
	}
	sm.mu.Unlock()
	return token, nil
}

// Resolve maps a token to its username. Expired sessions resolve as absent
// and are dropped.
func (sm *SessionManager) Resolve(token string) (string, bool) {
	sm.mu.RLock()
	s, ok := sm.sessions[token]
	sm.mu.RUnlock()
	if !ok {
		return "", false
	}
	if sm.clock.Now().After(s.expires) {
		sm.mu.Lock()
		delete(sm.sessions, token)
		sm.mu.Unlock()
		return "", false
	}
	return s.username, true
}

// Close drops a session. Unknown tokens are a no-op.
func (sm *SessionManager) Close(token string) {
	sm.mu.Lock()
	delete(sm.sessions, token)
	sm.mu.Unlock()
}
