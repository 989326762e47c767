// internal/auth/local.go
package auth

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/crypto"
	"github.com/tiltboard/tiltboard/internal/httputil"
	"github.com/tiltboard/tiltboard/internal/redirect"
	"github.com/tiltboard/tiltboard/internal/store"
)

// Local handles email/password logins. Password hashes are argon2id;
// accounts created through Google have no hash and cannot log in here.
type Local struct {
	users    *store.Store
	sessions *Sessions
	trusted  redirect.TrustedHosts
	baseURL  string
	logger   *zap.Logger
}

// NewLocal builds the local login handlers.
func NewLocal(users *store.Store, sessions *Sessions, trusted redirect.TrustedHosts, baseURL string, logger *zap.Logger) *Local {
	return &Local{users: users, sessions: sessions, trusted: trusted, baseURL: baseURL, logger: logger}
}

// LoginHandler authenticates a posted email/password form and redirects
// to the resolved next target on the canonical origin.
func (l *Local) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := r.ParseForm(); err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "malformed form")
			return
		}
		email := r.PostFormValue("email")
		password := r.PostFormValue("password")
		next := r.PostFormValue("next")
		if email == "" || password == "" {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "email and password are required")
			return
		}

		u, err := l.users.GetUserByEmail(ctx, email)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				l.logger.Error("login lookup failed", zap.Error(err))
				httputil.JSONError(w, http.StatusInternalServerError, "internal_error", "login unavailable")
				return
			}
			// Burn a verification anyway so missing and wrong-password
			// responses take comparable time.
			_ = crypto.VerifyPassword(password, dummyHash)
			httputil.JSONError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
			return
		}

		if u.PasswordHash == "" {
			httputil.JSONError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
			return
		}
		if err := crypto.VerifyPassword(password, u.PasswordHash); err != nil {
			if !errors.Is(err, crypto.ErrMismatchedPassword) {
				l.logger.Error("password verify failed", zap.Int64("user_id", u.ID), zap.Error(err))
			}
			httputil.JSONError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
			return
		}

		if _, err := l.sessions.Issue(ctx, w, u.ID); err != nil {
			l.logger.Error("failed to issue session", zap.Error(err))
			httputil.JSONError(w, http.StatusInternalServerError, "internal_error", "login unavailable")
			return
		}

		l.logger.Info("local login", zap.Int64("user_id", u.ID))
		http.Redirect(w, r, l.baseURL+redirect.Resolve(next, l.trusted), http.StatusSeeOther)
	}
}

// LogoutHandler clears the session and returns to the login page.
func (l *Local) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := l.sessions.Clear(r.Context(), w, r); err != nil {
			l.logger.Warn("failed to clear session", zap.Error(err))
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

// dummyHash is a hash of an unguessable throwaway value, verified when
// the email is unknown to even out response timing.
const dummyHash = "$argon2id$v=19$m=65536,t=1,p=2$c29tZXNhbHRzb21lc2FsdA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
