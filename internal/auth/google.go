// internal/auth/google.go
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tiltboard/tiltboard/internal/crypto"
	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/redirect"
	"github.com/tiltboard/tiltboard/internal/store"
)

const stateTTL = 10 * time.Minute

// googleUserInfo is the response from Google's userinfo endpoint.
type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// userInfoFetcher exchanges the auth code and returns the user's profile.
// It is a field so tests can stub the round trip to Google.
type userInfoFetcher func(ctx context.Context, code string) (*googleUserInfo, error)

// GoogleProvider runs the Google OAuth2 login flow. The login handler
// stashes the caller's next parameter with the CSRF state; the callback
// resolves it through the redirect package before sending the browser on.
type GoogleProvider struct {
	users    *store.Store
	sessions *Sessions
	trusted  redirect.TrustedHosts
	baseURL  string
	states   *stateStore
	fetch    userInfoFetcher
	authURL  func(state string) string
	logger   *zap.Logger
	stop     func()
}

// NewGoogleProvider configures the flow. baseURL is the canonical origin;
// the registered callback is baseURL + "/auth/google/callback".
func NewGoogleProvider(clientID, clientSecret, baseURL string, users *store.Store, sessions *Sessions, trusted redirect.TrustedHosts, logger *zap.Logger) (*GoogleProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("auth: google client id and secret are required")
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  baseURL + "/auth/google/callback",
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}

	states := newStateStore()
	return &GoogleProvider{
		users:    users,
		sessions: sessions,
		trusted:  trusted,
		baseURL:  baseURL,
		states:   states,
		fetch:    fetchGoogleUserInfo(cfg),
		authURL:  func(state string) string { return cfg.AuthCodeURL(state) },
		logger:   logger,
		stop:     states.startCleanupTask(stateTTL),
	}, nil
}

// Close stops the state cleanup sweep.
func (g *GoogleProvider) Close() {
	if g != nil && g.stop != nil {
		g.stop()
	}
}

// LoginHandler starts the flow: it saves a one-time state (carrying the
// raw next parameter) and redirects to Google's consent screen.
func (g *GoogleProvider) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := crypto.RandomToken(24)
		if err != nil {
			g.logger.Error("failed to generate oauth state", zap.Error(err))
			http.Error(w, "login unavailable", http.StatusInternalServerError)
			return
		}
		g.states.save(state, r.URL.Query().Get("next"), time.Now().Add(stateTTL))
		http.Redirect(w, r, g.authURL(state), http.StatusTemporaryRedirect)
	}
}

// CallbackHandler finishes the flow: validates state, exchanges the code,
// upserts the account, issues a session, and redirects to the resolved
// next target joined to the canonical origin.
func (g *GoogleProvider) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q := r.URL.Query()

		if errParam := q.Get("error"); errParam != "" {
			g.logger.Warn("google returned error", zap.String("error", errParam))
			g.fail(w, r)
			return
		}

		next, ok := g.states.consume(q.Get("state"))
		if !ok {
			g.logger.Warn("invalid or expired oauth state")
			g.fail(w, r)
			return
		}

		info, err := g.fetch(ctx, q.Get("code"))
		if err != nil {
			g.logger.Error("google code exchange failed", zap.Error(err))
			g.fail(w, r)
			return
		}
		if !info.EmailVerified {
			g.logger.Warn("google account email not verified", zap.String("email", info.Email))
			g.fail(w, r)
			return
		}

		u, err := g.upsertUser(ctx, info)
		if err != nil {
			g.logger.Error("failed to upsert google user", zap.Error(err))
			g.fail(w, r)
			return
		}

		if _, err := g.sessions.Issue(ctx, w, u.ID); err != nil {
			g.logger.Error("failed to issue session", zap.Error(err))
			g.fail(w, r)
			return
		}

		g.logger.Info("google login",
			zap.Int64("user_id", u.ID),
			zap.String("email", u.Email))
		http.Redirect(w, r, g.baseURL+redirect.Resolve(next, g.trusted), http.StatusSeeOther)
	}
}

func (g *GoogleProvider) upsertUser(ctx context.Context, info *googleUserInfo) (*model.User, error) {
	u, err := g.users.GetUserByEmail(ctx, info.Email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	u = &model.User{
		Email:      info.Email,
		Name:       info.Name,
		Role:       model.RolePlayer,
		NotifyPref: model.NotifyAssigned,
	}
	if err := g.users.CreateUser(ctx, u); err != nil {
		// Lost a create race; the account exists now.
		if errors.Is(err, store.ErrDuplicateEmail) {
			return g.users.GetUserByEmail(ctx, info.Email)
		}
		return nil, err
	}
	return u, nil
}

// fail sends the browser back to the login page. The OAuth dance is
// browser-driven, so a redirect beats a JSON error body here.
func (g *GoogleProvider) fail(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login?error=google", http.StatusSeeOther)
}

func fetchGoogleUserInfo(cfg *oauth2.Config) userInfoFetcher {
	return func(ctx context.Context, code string) (*googleUserInfo, error) {
		token, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange code: %w", err)
		}

		client := oauth2.NewClient(ctx, cfg.TokenSource(ctx, token))
		resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
		if err != nil {
			return nil, fmt.Errorf("fetch userinfo: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("userinfo status %d", resp.StatusCode)
		}

		var info googleUserInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return nil, fmt.Errorf("decode userinfo: %w", err)
		}
		return &info, nil
	}
}

// stateStore holds one-time OAuth states with the next parameter that
// accompanied the login request.
type stateStore struct {
	mu     sync.Mutex
	states map[string]stateEntry
}

type stateEntry struct {
	next      string
	expiresAt time.Time
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[string]stateEntry)}
}

func (s *stateStore) save(state, next string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = stateEntry{next: next, expiresAt: expiresAt}
}

// consume validates and removes a state. States are one-time use.
func (s *stateStore) consume(state string) (next string, ok bool) {
	if state == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.states[state]
	if !found {
		return "", false
	}
	delete(s.states, state)
	if time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.next, true
}

// cleanup removes expired states and returns how many were dropped.
// Abandoned logins never reach consume, so the sweep is what keeps the
// map bounded.
func (s *stateStore) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for state, e := range s.states {
		if now.After(e.expiresAt) {
			delete(s.states, state)
			n++
		}
	}
	return n
}

// startCleanupTask sweeps expired states on an interval until the returned
// stop function is called.
func (s *stateStore) startCleanupTask(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cleanup()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
