package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/auth"
	"github.com/tiltboard/tiltboard/internal/config"
	"github.com/tiltboard/tiltboard/internal/crypto"
	"github.com/tiltboard/tiltboard/internal/httputil"
	"github.com/tiltboard/tiltboard/internal/metrics"
	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/redirect"
	"github.com/tiltboard/tiltboard/internal/store"
)

const testOrigin = "https://tilt.example.com"

type testEnv struct {
	handler http.Handler
	store   *store.Store

	admin  *model.User
	tech   *model.User
	player *model.User

	cookies map[int64]*http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open("sqlite", ":memory:", 5*time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	trusted, err := redirect.TrustedHostsFromOrigin(testOrigin)
	if err != nil {
		t.Fatalf("trusted hosts: %v", err)
	}

	logger := zap.NewNop()
	sessions := auth.NewSessions(auth.NewMemorySessionStore(), "tb_session", time.Hour, true)
	cfg := &config.Config{
		Env:                 "dev",
		BaseURL:             testOrigin,
		MaxRequestBodyBytes: 1 << 20,
	}

	env := &testEnv{
		store:   st,
		cookies: make(map[int64]*http.Cookie),
	}
	env.handler = Routes(RouteDeps{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Local:    auth.NewLocal(st, sessions, trusted, testOrigin, logger),
		Reset:    auth.NewReset(st, nil, "reset-secret", 30*time.Minute, testOrigin, logger),
		Trusted:  trusted,
		Logger:   logger,
	})

	mkUser := func(email string, role model.Role) *model.User {
		hash, err := crypto.HashPassword("password-" + email)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		u := &model.User{Email: email, Name: email, Role: role, NotifyPref: model.NotifyAssigned, PasswordHash: hash}
		if err := st.CreateUser(ctx, u); err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
		w := httptest.NewRecorder()
		sess, err := sessions.Issue(ctx, w, u.ID)
		if err != nil {
			t.Fatalf("issue session: %v", err)
		}
		env.cookies[u.ID] = &http.Cookie{Name: "tb_session", Value: sess.ID}
		return u
	}
	env.admin = mkUser("admin@x.com", model.RoleAdmin)
	env.tech = mkUser("tech@x.com", model.RoleTech)
	env.player = mkUser("player@x.com", model.RolePlayer)

	return env
}

// do sends a request through the full middleware stack. as may be nil for
// anonymous requests; body, when non-nil, is marshaled as JSON.
func (e *testEnv) do(t *testing.T, method, target string, as *model.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, target, rd)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		r.AddCookie(e.cookies[as.ID])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func (e *testEnv) createMachine(t *testing.T, name string) model.Machine {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/machines", e.admin, machineRequest{Name: name})
	if w.Code != http.StatusCreated {
		t.Fatalf("create machine: status = %d: %s", w.Code, w.Body.String())
	}
	return decode[model.Machine](t, w)
}

func (e *testEnv) createIssue(t *testing.T, as *model.User, machineID int64, title, severity string) model.Issue {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/issues", as, createIssueRequest{
		MachineID: machineID, Title: title, Description: "d", Severity: severity,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create issue: status = %d: %s", w.Code, w.Body.String())
	}
	return decode[model.Issue](t, w)
}

func TestAPIRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range []string{"/api/me", "/api/machines", "/api/issues"} {
		w := env.do(t, http.MethodGet, target, nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", target, w.Code)
		}
	}
}

func TestMachineCRUD(t *testing.T) {
	env := newTestEnv(t)

	// Only admins may create.
	w := env.do(t, http.MethodPost, "/api/machines", env.player, machineRequest{Name: "Nope"})
	if w.Code != http.StatusForbidden {
		t.Errorf("player create: status = %d, want 403", w.Code)
	}

	m := env.createMachine(t, "Medieval Madness")
	if m.Status != model.MachineActive {
		t.Errorf("new machine status = %q", m.Status)
	}

	// Everyone authenticated can read.
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/machines/%d", m.ID), env.player, nil)
	if w.Code != http.StatusOK {
		t.Errorf("player get: status = %d, want 200", w.Code)
	}

	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/machines/%d", m.ID), env.admin,
		machineRequest{Name: "Medieval Madness", Location: "Back row", Status: "retired"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d: %s", w.Code, w.Body.String())
	}
	if got := decode[model.Machine](t, w); got.Location != "Back row" || got.Status != model.MachineRetired {
		t.Errorf("updated machine = %+v", got)
	}

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/machines/%d", m.ID), env.tech, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("tech delete: status = %d, want 403", w.Code)
	}
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/machines/%d", m.ID), env.admin, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("admin delete: status = %d, want 204", w.Code)
	}
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/machines/%d", m.ID), env.admin, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted get: status = %d, want 404", w.Code)
	}
}

func TestDeleteMachineWithIssuesConflicts(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMachine(t, "Twilight Zone")
	env.createIssue(t, env.player, m.ID, "Gumball jam", "playable")

	w := env.do(t, http.MethodDelete, fmt.Sprintf("/api/machines/%d", m.ID), env.admin, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("delete with issue: status = %d, want 409: %s", w.Code, w.Body.String())
	}
	got := decode[httputil.ErrorResponse](t, w)
	if got.Error != "conflict" {
		t.Errorf("error code = %q, want conflict", got.Error)
	}

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/machines/%d", m.ID), env.admin, nil)
	if w.Code != http.StatusOK {
		t.Errorf("machine should survive blocked delete: status = %d", w.Code)
	}
}

func TestMachineListFilter(t *testing.T) {
	env := newTestEnv(t)
	env.createMachine(t, "Whirlwind")
	m := env.createMachine(t, "Earthshaker")
	env.createIssue(t, env.player, m.ID, "Dead flipper", "unplayable")

	w := env.do(t, http.MethodGet, "/api/machines?status=in_repair", env.player, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d", w.Code)
	}
	var resp struct {
		Items []model.Machine `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != m.ID {
		t.Errorf("filtered machines = %+v", resp.Items)
	}

	w = env.do(t, http.MethodGet, "/api/machines?status=bogus", env.player, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: status = %d, want 400", w.Code)
	}
}

func TestUnplayableIssueFlagsMachine(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMachine(t, "Twilight Zone")

	issue := env.createIssue(t, env.player, m.ID, "Gumball stuck", "unplayable")
	if issue.Status != model.IssueOpen || issue.ReporterID != env.player.ID {
		t.Errorf("issue = %+v", issue)
	}

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/machines/%d", m.ID), env.player, nil)
	if got := decode[model.Machine](t, w); got.Status != model.MachineInRepair {
		t.Errorf("machine status = %q, want in_repair", got.Status)
	}

	// Cannot go back to active while the issue is open.
	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/machines/%d", m.ID), env.admin,
		machineRequest{Name: "Twilight Zone", Status: "active"})
	if w.Code != http.StatusConflict {
		t.Errorf("reactivate: status = %d, want 409", w.Code)
	}

	// Fix the issue, then reactivation works.
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/status", issue.ID), env.tech,
		issueStatusRequest{Status: "fixed"})
	if w.Code != http.StatusOK {
		t.Fatalf("fix: status = %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/machines/%d", m.ID), env.admin,
		machineRequest{Name: "Twilight Zone", Status: "active"})
	if w.Code != http.StatusOK {
		t.Errorf("reactivate after fix: status = %d, want 200", w.Code)
	}
}

func TestIssueWorkflowPermissions(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMachine(t, "Funhouse")
	issue := env.createIssue(t, env.player, m.ID, "Rudy silent", "low")

	// Players cannot triage.
	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/status", issue.ID), env.player,
		issueStatusRequest{Status: "in_progress"})
	if w.Code != http.StatusForbidden {
		t.Errorf("player status change: status = %d, want 403", w.Code)
	}
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/assignee", issue.ID), env.player,
		issueAssignRequest{AssigneeID: &env.tech.ID})
	if w.Code != http.StatusForbidden {
		t.Errorf("player assign: status = %d, want 403", w.Code)
	}

	// Techs assign and move status; assignees must be triage-capable.
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/assignee", issue.ID), env.tech,
		issueAssignRequest{AssigneeID: &env.player.ID})
	if w.Code != http.StatusBadRequest {
		t.Errorf("assign player: status = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/assignee", issue.ID), env.tech,
		issueAssignRequest{AssigneeID: &env.tech.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("assign tech: status = %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/status", issue.ID), env.tech,
		issueStatusRequest{Status: "wont_fix"})
	if w.Code != http.StatusOK {
		t.Fatalf("close: status = %d", w.Code)
	}

	// Terminal issues stay closed.
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/status", issue.ID), env.tech,
		issueStatusRequest{Status: "open"})
	if w.Code != http.StatusConflict {
		t.Errorf("reopen closed: status = %d, want 409", w.Code)
	}
}

func TestReporterEditsOwnOpenIssue(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMachine(t, "Fish Tales")
	issue := env.createIssue(t, env.player, m.ID, "Caster off", "low")

	// Another non-admin cannot edit it.
	w := env.do(t, http.MethodPatch, fmt.Sprintf("/api/issues/%d", issue.ID), env.tech,
		updateIssueRequest{Title: "hijacked"})
	if w.Code != http.StatusForbidden {
		t.Errorf("tech edit: status = %d, want 403", w.Code)
	}

	w = env.do(t, http.MethodPatch, fmt.Sprintf("/api/issues/%d", issue.ID), env.player,
		updateIssueRequest{Title: "Caster wheel missing", Severity: "playable"})
	if w.Code != http.StatusOK {
		t.Fatalf("reporter edit: status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[model.Issue](t, w)
	if got.Title != "Caster wheel missing" || got.Severity != model.SeverityPlayable {
		t.Errorf("edited issue = %+v", got)
	}

	// Closed issues are frozen.
	env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/status", issue.ID), env.tech,
		issueStatusRequest{Status: "fixed"})
	w = env.do(t, http.MethodPatch, fmt.Sprintf("/api/issues/%d", issue.ID), env.player,
		updateIssueRequest{Title: "too late"})
	if w.Code != http.StatusConflict {
		t.Errorf("edit closed: status = %d, want 409", w.Code)
	}
}

func TestIssueListFilters(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.createMachine(t, "A")
	m2 := env.createMachine(t, "B")
	env.createIssue(t, env.player, m1.ID, "one", "low")
	env.createIssue(t, env.player, m1.ID, "two", "low")
	env.createIssue(t, env.player, m2.ID, "three", "low")

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/issues?machine_id=%d", m1.ID), env.player, nil)
	var resp struct {
		Items []model.Issue `json:"items"`
		Page  struct {
			Total int `json:"total"`
		} `json:"page"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Page.Total != 2 {
		t.Errorf("machine filter: %d items, total %d; want 2, 2", len(resp.Items), resp.Page.Total)
	}

	w = env.do(t, http.MethodGet, "/api/issues?status=bogus", env.player, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad status: %d, want 400", w.Code)
	}
}

func TestComments(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMachine(t, "Theatre of Magic")
	issue := env.createIssue(t, env.player, m.ID, "Trunk stuck", "playable")

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/comments", issue.ID), env.tech,
		commentRequest{Body: "Looking at it tonight"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create comment: status = %d: %s", w.Code, w.Body.String())
	}
	c := decode[model.Comment](t, w)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/issues/%d/comments", issue.ID), env.player, nil)
	if got := decode[[]model.Comment](t, w); len(got) != 1 || got[0].Body != "Looking at it tonight" {
		t.Errorf("comments = %+v", got)
	}

	// Only the author or an admin may delete.
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/comments/%d", c.ID), env.player, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("player delete: status = %d, want 403", w.Code)
	}
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/comments/%d", c.ID), env.admin, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("admin delete: status = %d, want 204", w.Code)
	}
}

func TestCommentCreationRecordsIssueEvent(t *testing.T) {
	metrics.RegisterDefault(zap.NewNop())
	env := newTestEnv(t)
	m := env.createMachine(t, "Funhouse")
	issue := env.createIssue(t, env.player, m.ID, "Rudy jaw stuck", "playable")

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/issues/%d/comments", issue.ID), env.tech,
		commentRequest{Body: "Reseating the jaw motor connector"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create comment: status = %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `tiltboard_issue_events_total{event="commented"}`) {
		t.Error("commented event not recorded in issue event counter")
	}
}

func TestSubscriptionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	m := env.createMachine(t, "Attack From Mars")

	w := env.do(t, http.MethodPut, fmt.Sprintf("/api/machines/%d/subscription", m.ID), env.player, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("subscribe: status = %d", w.Code)
	}
	ok, err := env.store.IsSubscribed(context.Background(), env.player.ID, m.ID)
	if err != nil || !ok {
		t.Errorf("IsSubscribed = %v, %v; want true", ok, err)
	}

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/machines/%d/subscription", m.ID), env.player, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("unsubscribe: status = %d", w.Code)
	}

	w = env.do(t, http.MethodPut, "/api/machines/9999/subscription", env.player, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("subscribe missing machine: status = %d, want 404", w.Code)
	}
}

func TestMeEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/me", env.player, nil)
	if got := decode[model.User](t, w); got.ID != env.player.ID {
		t.Errorf("me = %+v", got)
	}

	w = env.do(t, http.MethodPatch, "/api/me", env.player,
		updateMeRequest{NotifyPref: "all", Name: "Pinhead"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch me: status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[model.User](t, w)
	if got.NotifyPref != model.NotifyAll || got.Name != "Pinhead" {
		t.Errorf("patched me = %+v", got)
	}

	w = env.do(t, http.MethodPatch, "/api/me", env.player, updateMeRequest{NotifyPref: "sometimes"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad pref: status = %d, want 400", w.Code)
	}
}

func TestUserAdministration(t *testing.T) {
	env := newTestEnv(t)

	// Non-admins are shut out entirely.
	w := env.do(t, http.MethodGet, "/api/users", env.tech, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("tech list users: status = %d, want 403", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/users", env.admin,
		createUserRequest{Email: "new.tech@x.com", Name: "New Tech", Role: "tech"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: status = %d: %s", w.Code, w.Body.String())
	}
	created := decode[model.User](t, w)
	if created.Role != model.RoleTech {
		t.Errorf("created role = %q", created.Role)
	}

	// Duplicate email conflicts.
	w = env.do(t, http.MethodPost, "/api/users", env.admin,
		createUserRequest{Email: "new.tech@x.com", Name: "Again"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create: status = %d, want 409", w.Code)
	}

	// Role changes.
	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/users/%d/role", created.ID), env.admin,
		userRoleRequest{Role: "admin"})
	if w.Code != http.StatusNoContent {
		t.Errorf("promote: status = %d, want 204", w.Code)
	}

	// Admins cannot demote themselves.
	w = env.do(t, http.MethodPut, fmt.Sprintf("/api/users/%d/role", env.admin.ID), env.admin,
		userRoleRequest{Role: "player"})
	if w.Code != http.StatusConflict {
		t.Errorf("self-demote: status = %d, want 409", w.Code)
	}
}

func TestLoadingPageNeverForwardsOffOrigin(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		to   string
		want string
	}{
		{"/reset-password?token=abc", "/reset-password?token=abc"},
		{"https://evil.com/phish", "/"},
		{"//evil.com/phish", "/"},
		{testOrigin + "/dashboard", "/dashboard"},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodGet, "/loading?to="+strings.ReplaceAll(tt.to, "&", "%26"), nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("to %q: status = %d", tt.to, w.Code)
		}
		body := w.Body.String()
		if !strings.Contains(body, "url="+tt.want) {
			t.Errorf("to %q: body forwards to %q, want %q\n%s", tt.to, body, tt.want, body)
		}
		if strings.Contains(body, "evil.com") {
			t.Errorf("to %q: hostile host leaked into page:\n%s", tt.to, body)
		}
	}
}

func TestLoginPageResolvesNext(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/login?next=https://evil.com/x", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "evil.com") {
		t.Errorf("hostile next echoed into login page:\n%s", body)
	}
	if !strings.Contains(body, `name="next" value="/"`) {
		t.Errorf("next not reduced to fallback:\n%s", body)
	}
}

func TestHealthAndRoot(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz: status = %d, want 200", w.Code)
	}
	w = env.do(t, http.MethodGet, "/", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("root: status = %d, want 200", w.Code)
	}
	w = env.do(t, http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route: status = %d, want 404", w.Code)
	}
}
