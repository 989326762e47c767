// internal/auth/middleware.go
package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/httputil"
	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/store"
)

type contextKey struct{ name string }

var userKey = &contextKey{"user"}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom returns the authenticated user, or nil outside RequireAuth.
func UserFrom(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey).(*model.User)
	return u
}

// RequireAuth loads the session's user into the request context. Browser
// requests without a session are sent to the login page with the original
// path as next; API requests get a JSON 401. The next value is a path from
// r.URL, so it is internal by construction.
func (s *Sessions) RequireAuth(users *store.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			sess, err := s.FromRequest(ctx, r)
			if err == nil {
				u, uerr := users.GetUser(ctx, sess.UserID)
				if uerr == nil {
					next.ServeHTTP(w, r.WithContext(WithUser(ctx, u)))
					return
				}
				// Session points at a deleted account; drop it.
				if derr := s.store.Delete(ctx, sess.ID); derr != nil {
					logger.Warn("failed to delete orphaned session", zap.Error(derr))
				}
			}

			if wantsHTML(r) {
				target := r.URL.Path
				if r.URL.RawQuery != "" {
					target += "?" + r.URL.RawQuery
				}
				http.Redirect(w, r, "/login?next="+url.QueryEscape(target), http.StatusSeeOther)
				return
			}
			httputil.JSONError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		})
	}
}

// RequireRole rejects authenticated users whose role fails the check.
// Must be mounted inside RequireAuth.
func RequireRole(allow func(model.Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := UserFrom(r.Context())
			if u == nil {
				httputil.JSONError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !allow(u.Role) {
				httputil.JSONError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin restricts a subtree to admins.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(func(r model.Role) bool { return r == model.RoleAdmin })
}

// RequireTriage restricts a subtree to techs and admins.
func RequireTriage() func(http.Handler) http.Handler {
	return RequireRole(model.Role.CanTriage)
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
