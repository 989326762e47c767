// internal/auth/sessions.go
package auth

import (
	"context"
	"net/http"
	"time"
)

// Sessions issues, reads, and clears the session cookie.
type Sessions struct {
	store      SessionStore
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewSessions builds the session manager. secure controls the cookie's
// Secure flag and should follow the canonical origin's scheme.
func NewSessions(store SessionStore, cookieName string, ttl time.Duration, secure bool) *Sessions {
	return &Sessions{store: store, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Issue creates a session for the user and sets the cookie.
func (s *Sessions) Issue(ctx context.Context, w http.ResponseWriter, userID int64) (*Session, error) {
	sess, err := NewSession(userID, s.ttl)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

// FromRequest returns the request's session, or ErrSessionNotFound when
// there is no valid session cookie.
func (s *Sessions) FromRequest(ctx context.Context, r *http.Request) (*Session, error) {
	c, err := r.Cookie(s.cookieName)
	if err != nil || c.Value == "" {
		return nil, ErrSessionNotFound
	}
	return s.store.Get(ctx, c.Value)
}

// Clear deletes the request's session and expires the cookie.
func (s *Sessions) Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var err error
	if c, cerr := r.Cookie(s.cookieName); cerr == nil && c.Value != "" {
		err = s.store.Delete(ctx, c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}
