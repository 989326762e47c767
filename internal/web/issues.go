// internal/web/issues.go
package web

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/auth"
	"github.com/tiltboard/tiltboard/internal/httputil"
	"github.com/tiltboard/tiltboard/internal/metrics"
	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/pagination"
	"github.com/tiltboard/tiltboard/internal/store"
)

type createIssueRequest struct {
	MachineID   int64  `json:"machine_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type updateIssueRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type issueStatusRequest struct {
	Status string `json:"status"`
}

type issueAssignRequest struct {
	// AssigneeID nil clears the assignment.
	AssigneeID *int64 `json:"assignee_id"`
}

// ListIssues handles GET /api/issues with ?machine_id=, ?status=, and
// ?assignee_id= filters.
func (h *Handlers) ListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.IssueFilter

	if raw := q.Get("machine_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid machine_id")
			return
		}
		filter.MachineID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status, err := model.ParseIssueStatus(raw)
		if err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("assignee_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid assignee_id")
			return
		}
		filter.AssigneeID = &id
	}

	page := pagination.FromRequest(r)
	issues, err := h.store.ListIssues(r.Context(), filter, &page)
	if err != nil {
		h.internalError(w, "list issues failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Items: issues, Page: page})
}

// GetIssue handles GET /api/issues/{id}.
func (h *Handlers) GetIssue(w http.ResponseWriter, r *http.Request) {
	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, issue)
}

// CreateIssue handles POST /api/issues. Any authenticated user may file
// one. An unplayable issue pulls the machine into in_repair.
func (h *Handlers) CreateIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.UserFrom(ctx)

	var req createIssueRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Title == "" {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "title is required")
		return
	}
	severity, err := model.ParseSeverity(req.Severity)
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	machine, err := h.store.GetMachine(ctx, req.MachineID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "machine does not exist")
			return
		}
		h.internalError(w, "get machine failed", err)
		return
	}

	issue := &model.Issue{
		MachineID:   machine.ID,
		Title:       req.Title,
		Description: req.Description,
		Severity:    severity,
		ReporterID:  u.ID,
	}
	if err := h.store.CreateIssue(ctx, issue); err != nil {
		h.internalError(w, "create issue failed", err)
		return
	}

	if severity == model.SeverityUnplayable && machine.Status == model.MachineActive {
		machine.Status = model.MachineInRepair
		if err := h.store.UpdateMachine(ctx, machine); err != nil {
			h.logger.Error("failed to flag machine in_repair",
				zap.Int64("machine_id", machine.ID), zap.Error(err))
		}
	}

	metrics.IssueEvent("created")
	h.notifier.IssueCreated(ctx, issue, machine, u.ID)
	h.logger.Info("issue created",
		zap.Int64("issue_id", issue.ID),
		zap.Int64("machine_id", machine.ID),
		zap.String("severity", string(severity)))
	httputil.WriteJSON(w, http.StatusCreated, issue)
}

// UpdateIssue handles PATCH /api/issues/{id}. The reporter may edit their
// own issue while it is still open; admins may edit any open issue.
func (h *Handlers) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.UserFrom(ctx)

	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}
	if u.Role != model.RoleAdmin && issue.ReporterID != u.ID {
		httputil.JSONError(w, http.StatusForbidden, "forbidden", "only the reporter may edit this issue")
		return
	}
	if issue.Status != model.IssueOpen {
		httputil.JSONError(w, http.StatusConflict, "conflict", "only open issues can be edited")
		return
	}

	var req updateIssueRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Title != "" {
		issue.Title = req.Title
	}
	if req.Description != "" {
		issue.Description = req.Description
	}
	if req.Severity != "" {
		severity, err := model.ParseSeverity(req.Severity)
		if err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		issue.Severity = severity
	}

	if err := h.store.UpdateIssue(ctx, issue); err != nil {
		h.internalError(w, "update issue failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, issue)
}

// SetIssueStatus handles POST /api/issues/{id}/status. Techs and admins
// only (routing). Terminal issues stay closed.
func (h *Handlers) SetIssueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.UserFrom(ctx)

	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}
	var req issueStatusRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	status, err := model.ParseIssueStatus(req.Status)
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if issue.Status.Terminal() {
		httputil.JSONError(w, http.StatusConflict, "conflict", "issue is already closed")
		return
	}
	if status == issue.Status {
		httputil.WriteJSON(w, http.StatusOK, issue)
		return
	}

	from := issue.Status
	if err := h.store.SetIssueStatus(ctx, issue.ID, status); err != nil {
		h.internalError(w, "set issue status failed", err)
		return
	}
	issue.Status = status

	machine, err := h.store.GetMachine(ctx, issue.MachineID)
	if err != nil {
		h.internalError(w, "get machine failed", err)
		return
	}

	metrics.IssueEvent("status_changed")
	h.notifier.IssueStatusChanged(ctx, issue, machine, from, u.ID)
	h.logger.Info("issue status changed",
		zap.Int64("issue_id", issue.ID),
		zap.String("from", string(from)),
		zap.String("to", string(status)))
	httputil.WriteJSON(w, http.StatusOK, issue)
}

// AssignIssue handles POST /api/issues/{id}/assignee. Techs and admins
// only (routing). The assignee must be a tech or admin.
func (h *Handlers) AssignIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}
	var req issueAssignRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if req.AssigneeID != nil {
		assignee, err := h.store.GetUser(ctx, *req.AssigneeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httputil.JSONError(w, http.StatusBadRequest, "bad_request", "assignee does not exist")
				return
			}
			h.internalError(w, "get assignee failed", err)
			return
		}
		if !assignee.Role.CanTriage() {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", "assignee must be a tech or admin")
			return
		}
	}

	if err := h.store.AssignIssue(ctx, issue.ID, req.AssigneeID); err != nil {
		h.internalError(w, "assign issue failed", err)
		return
	}
	issue.AssigneeID = req.AssigneeID

	metrics.IssueEvent("assigned")
	httputil.WriteJSON(w, http.StatusOK, issue)
}

// loadIssue parses {id} and fetches the issue, writing the error response
// itself when it returns ok=false.
func (h *Handlers) loadIssue(w http.ResponseWriter, r *http.Request) (*model.Issue, bool) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid issue id")
		return nil, false
	}
	issue, err := h.store.GetIssue(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.JSONError(w, http.StatusNotFound, "not_found", "issue not found")
			return nil, false
		}
		h.internalError(w, "get issue failed", err)
		return nil, false
	}
	return issue, true
}
