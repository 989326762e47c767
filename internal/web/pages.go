// internal/web/pages.go
package web

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/redirect"
)

// Pages serves the handful of HTML pages the login flows need. Everything
// else is JSON; a fuller frontend talks to the API.
type Pages struct {
	trusted redirect.TrustedHosts
	logger  *zap.Logger
}

// NewPages builds the page handlers.
func NewPages(trusted redirect.TrustedHosts, logger *zap.Logger) *Pages {
	return &Pages{trusted: trusted, logger: logger}
}

var loginTmpl = template.Must(template.New("login").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>tiltboard — sign in</title></head>
<body>
<h1>tiltboard</h1>
{{if .Error}}<p role="alert">Sign-in failed, please try again.</p>{{end}}
<form method="post" action="/auth/login">
  <input type="hidden" name="next" value="{{.Next}}">
  <label>Email <input type="email" name="email" required></label>
  <label>Password <input type="password" name="password" required></label>
  <button type="submit">Sign in</button>
</form>
<p><a href="/auth/google/login?next={{.NextQuery}}">Sign in with Google</a></p>
<p><a href="/forgot-password">Forgot password?</a></p>
</body>
</html>
`))

// Login renders the sign-in form. The next parameter is resolved before it
// is echoed back, so the form can never submit an off-origin target.
func (p *Pages) Login(w http.ResponseWriter, r *http.Request) {
	next := redirect.Resolve(r.URL.Query().Get("next"), p.trusted)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := loginTmpl.Execute(w, struct {
		Next      string
		NextQuery string
		Error     string
	}{
		Next:      next,
		NextQuery: template.URLQueryEscaper(next),
		Error:     r.URL.Query().Get("error"),
	})
	if err != nil {
		p.logger.Error("failed to render login page", zap.Error(err))
	}
}

var loadingTmpl = template.Must(template.New("loading").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="0;url={{.Target}}">
<title>tiltboard — loading</title>
</head>
<body>
<p>Loading… <a href="{{.Target}}">continue</a></p>
</body>
</html>
`))

// Loading is the indirection page used by emailed links: mail clients
// prefetch URLs, so the mail points here and the browser moves on to the
// real destination. The to parameter is untrusted and goes through the
// resolver, never straight into the page.
func (p *Pages) Loading(w http.ResponseWriter, r *http.Request) {
	target := redirect.Resolve(r.URL.Query().Get("to"), p.trusted)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loadingTmpl.Execute(w, struct{ Target string }{Target: target}); err != nil {
		p.logger.Error("failed to render loading page", zap.Error(err))
	}
}

var forgotTmpl = template.Must(template.New("forgot").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>tiltboard — forgot password</title></head>
<body>
<h1>Reset your password</h1>
<form method="post" action="/auth/reset">
  <label>Email <input type="email" name="email" required></label>
  <button type="submit">Send reset link</button>
</form>
</body>
</html>
`))

// ForgotPassword renders the reset-request form.
func (p *Pages) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := forgotTmpl.Execute(w, nil); err != nil {
		p.logger.Error("failed to render forgot-password page", zap.Error(err))
	}
}

var resetTmpl = template.Must(template.New("reset").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>tiltboard — choose a new password</title></head>
<body>
<h1>Choose a new password</h1>
<form method="post" action="/auth/reset/confirm">
  <input type="hidden" name="token" value="{{.Token}}">
  <label>New password <input type="password" name="password" minlength="8" required></label>
  <button type="submit">Set password</button>
</form>
</body>
</html>
`))

// ResetPassword renders the new-password form carrying the mailed token.
func (p *Pages) ResetPassword(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := resetTmpl.Execute(w, struct{ Token string }{Token: r.URL.Query().Get("token")})
	if err != nil {
		p.logger.Error("failed to render reset page", zap.Error(err))
	}
}
