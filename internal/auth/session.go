// internal/auth/session.go
// Package auth implements tiltboard's login flows: Google OAuth2, local
// email/password accounts, sessions, and the emailed password reset.
//
// Every post-login redirect target passes through internal/redirect before
// it is sent to the browser, and the origin it is joined to comes from
// configuration, never from request headers.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tiltboard/tiltboard/internal/crypto"
)

// ErrSessionNotFound is returned when a session ID is unknown or expired.
var ErrSessionNotFound = errors.New("auth: session not found")

// Session ties a browser cookie to a user account.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionStore persists sessions. Implementations: memory (dev,
// single instance) and Redis (multi-instance).
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	// Get returns ErrSessionNotFound for unknown or expired IDs.
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// NewSession creates an unsaved session with a fresh random ID.
func NewSession(userID int64, ttl time.Duration) (*Session, error) {
	id, err := crypto.RandomToken(32)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// MemorySessionStore keeps sessions in a map. Expired entries are removed
// lazily on Get and in bulk by Cleanup.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (m *MemorySessionStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Expired() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Cleanup removes expired sessions and returns how many were dropped.
func (m *MemorySessionStore) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.Expired() {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// StartCleanupTask sweeps expired sessions on an interval until the
// returned stop function is called.
func (m *MemorySessionStore) StartCleanupTask(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Cleanup()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
