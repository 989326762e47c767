// internal/web/routes.go
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/auth"
	"github.com/tiltboard/tiltboard/internal/config"
	"github.com/tiltboard/tiltboard/internal/health"
	"github.com/tiltboard/tiltboard/internal/httputil"
	"github.com/tiltboard/tiltboard/internal/metrics"
	"github.com/tiltboard/tiltboard/internal/notify"
	"github.com/tiltboard/tiltboard/internal/redirect"
	"github.com/tiltboard/tiltboard/internal/router"
	"github.com/tiltboard/tiltboard/internal/store"
)

// RouteDeps carries everything the route table needs. Google and Notifier
// may be nil when unconfigured.
type RouteDeps struct {
	Config   *config.Config
	Store    *store.Store
	Sessions *auth.Sessions
	Google   *auth.GoogleProvider
	Local    *auth.Local
	Reset    *auth.Reset
	Notifier *notify.Service
	Trusted  redirect.TrustedHosts
	Logger   *zap.Logger
}

// Routes assembles the full handler: middleware stack, auth flows, pages,
// health/metrics, and the authenticated JSON API.
func Routes(deps RouteDeps) http.Handler {
	r := router.New(deps.Config, deps.Logger)

	h := NewHandlers(deps.Store, deps.Notifier, deps.Logger)
	pages := NewPages(deps.Trusted, deps.Logger)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"service": "tiltboard"})
	})

	checks := map[string]health.Check{
		"database": deps.Store.Ping,
	}
	if deps.Notifier != nil {
		checks["smtp"] = deps.Notifier.Ping
	}
	r.Method(http.MethodGet, "/healthz", health.Handler(checks, deps.Logger))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Pages used by the login flows.
	r.Get("/login", pages.Login)
	r.Get("/loading", pages.Loading)
	r.Get("/forgot-password", pages.ForgotPassword)
	r.Get("/reset-password", pages.ResetPassword)

	// Auth endpoints.
	r.Post("/auth/login", deps.Local.LoginHandler())
	r.Post("/auth/logout", deps.Local.LogoutHandler())
	r.Post("/auth/reset", deps.Reset.RequestHandler())
	r.Post("/auth/reset/confirm", deps.Reset.ConfirmHandler())
	if deps.Google != nil {
		r.Get("/auth/google/login", deps.Google.LoginHandler())
		r.Get("/auth/google/callback", deps.Google.CallbackHandler())
	}

	// Authenticated JSON API.
	r.Route("/api", func(api chi.Router) {
		api.Use(deps.Sessions.RequireAuth(deps.Store, deps.Logger))

		api.Get("/me", h.Me)
		api.Patch("/me", h.UpdateMe)

		api.Route("/machines", func(m chi.Router) {
			m.Get("/", h.ListMachines)
			m.Get("/{id}", h.GetMachine)
			m.Put("/{id}/subscription", h.Subscribe)
			m.Delete("/{id}/subscription", h.Unsubscribe)

			m.Group(func(admin chi.Router) {
				admin.Use(auth.RequireAdmin())
				admin.Post("/", h.CreateMachine)
				admin.Put("/{id}", h.UpdateMachine)
				admin.Delete("/{id}", h.DeleteMachine)
			})
		})

		api.Route("/issues", func(is chi.Router) {
			is.Get("/", h.ListIssues)
			is.Post("/", h.CreateIssue)
			is.Get("/{id}", h.GetIssue)
			is.Patch("/{id}", h.UpdateIssue)
			is.Get("/{id}/comments", h.ListComments)
			is.Post("/{id}/comments", h.CreateComment)

			is.Group(func(triage chi.Router) {
				triage.Use(auth.RequireTriage())
				triage.Post("/{id}/status", h.SetIssueStatus)
				triage.Post("/{id}/assignee", h.AssignIssue)
			})
		})

		api.Delete("/comments/{id}", h.DeleteComment)

		api.Route("/users", func(u chi.Router) {
			u.Use(auth.RequireAdmin())
			u.Get("/", h.ListUsers)
			u.Post("/", h.CreateUser)
			u.Put("/{id}/role", h.SetUserRole)
		})
	})

	return r
}
