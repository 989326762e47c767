// internal/auth/reset.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/crypto"
	"github.com/tiltboard/tiltboard/internal/httputil"
	"github.com/tiltboard/tiltboard/internal/store"
)

const minPasswordLength = 8

// ResetMailer delivers the password-reset link. Implemented by the
// notify service; nil disables the flow.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

type resetClaims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Reset implements the emailed password-reset flow. Tokens are signed
// JWTs; the emailed link points at the loading page, which forwards the
// browser to the reset form.
type Reset struct {
	users   *store.Store
	mailer  ResetMailer
	secret  []byte
	ttl     time.Duration
	baseURL string
	logger  *zap.Logger
}

// NewReset builds the reset handlers.
func NewReset(users *store.Store, mailer ResetMailer, secret string, ttl time.Duration, baseURL string, logger *zap.Logger) *Reset {
	return &Reset{
		users:   users,
		mailer:  mailer,
		secret:  []byte(secret),
		ttl:     ttl,
		baseURL: baseURL,
		logger:  logger,
	}
}

// RequestHandler accepts an email and, when the account exists, mails a
// reset link. The response is 202 either way so the endpoint cannot be
// used to probe which emails are registered.
func (rs *Reset) RequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := r.ParseForm(); err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "malformed form")
			return
		}
		email := r.PostFormValue("email")
		if email == "" {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "email is required")
			return
		}
		if rs.mailer == nil || len(rs.secret) == 0 {
			httputil.JSONError(w, http.StatusServiceUnavailable, "unavailable", "password reset is not configured")
			return
		}

		u, err := rs.users.GetUserByEmail(ctx, email)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				rs.logger.Error("reset lookup failed", zap.Error(err))
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}

		token, err := rs.signToken(u.ID)
		if err != nil {
			rs.logger.Error("failed to sign reset token", zap.Error(err))
			w.WriteHeader(http.StatusAccepted)
			return
		}

		// Mail clients prefetch links, so the mailed URL targets the
		// loading page, which carries the real form as a parameter.
		dest := "/reset-password?token=" + url.QueryEscape(token)
		link := rs.baseURL + "/loading?to=" + url.QueryEscape(dest)
		if err := rs.mailer.SendPasswordReset(ctx, u.Email, link); err != nil {
			rs.logger.Error("failed to send reset mail", zap.Int64("user_id", u.ID), zap.Error(err))
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// ConfirmHandler accepts a token and new password and updates the account.
func (rs *Reset) ConfirmHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := r.ParseForm(); err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "malformed form")
			return
		}
		token := r.PostFormValue("token")
		password := r.PostFormValue("password")
		if token == "" || password == "" {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "token and password are required")
			return
		}
		if len(password) < minPasswordLength {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request",
				fmt.Sprintf("password must be at least %d characters", minPasswordLength))
			return
		}

		userID, err := rs.verifyToken(token)
		if err != nil {
			httputil.JSONError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired reset token")
			return
		}

		hash, err := crypto.HashPassword(password)
		if err != nil {
			rs.logger.Error("failed to hash password", zap.Error(err))
			httputil.JSONError(w, http.StatusInternalServerError, "internal_error", "reset unavailable")
			return
		}
		if err := rs.users.SetUserPassword(ctx, userID, hash); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httputil.JSONError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired reset token")
				return
			}
			rs.logger.Error("failed to store password", zap.Int64("user_id", userID), zap.Error(err))
			httputil.JSONError(w, http.StatusInternalServerError, "internal_error", "reset unavailable")
			return
		}

		rs.logger.Info("password reset", zap.Int64("user_id", userID))
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

func (rs *Reset) signToken(userID int64) (string, error) {
	now := time.Now()
	claims := resetClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tiltboard",
			Subject:   "password-reset",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(rs.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(rs.secret)
}

func (rs *Reset) verifyToken(token string) (int64, error) {
	var claims resetClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return rs.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("tiltboard"),
		jwt.WithSubject("password-reset"),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, err
	}
	if claims.UserID == 0 {
		return 0, errors.New("auth: reset token missing user id")
	}
	return claims.UserID, nil
}
