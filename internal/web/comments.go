// internal/web/comments.go
package web

import (
	"errors"
	"net/http"

	"github.com/tiltboard/tiltboard/internal/auth"
	"github.com/tiltboard/tiltboard/internal/httputil"
	"github.com/tiltboard/tiltboard/internal/metrics"
	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/store"
)

type commentRequest struct {
	Body string `json:"body"`
}

// ListComments handles GET /api/issues/{id}/comments.
func (h *Handlers) ListComments(w http.ResponseWriter, r *http.Request) {
	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}
	comments, err := h.store.ListComments(r.Context(), issue.ID)
	if err != nil {
		h.internalError(w, "list comments failed", err)
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	httputil.WriteJSON(w, http.StatusOK, comments)
}

// CreateComment handles POST /api/issues/{id}/comments.
func (h *Handlers) CreateComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.UserFrom(ctx)

	issue, ok := h.loadIssue(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Body == "" {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "body is required")
		return
	}

	c := &model.Comment{IssueID: issue.ID, AuthorID: u.ID, Body: req.Body}
	if err := h.store.CreateComment(ctx, c); err != nil {
		h.internalError(w, "create comment failed", err)
		return
	}
	metrics.IssueEvent("commented")
	httputil.WriteJSON(w, http.StatusCreated, c)
}

// DeleteComment handles DELETE /api/comments/{id}. The author or an admin
// may delete a comment.
func (h *Handlers) DeleteComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.UserFrom(ctx)

	id, err := urlID(r, "id")
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid comment id")
		return
	}
	c, err := h.store.GetComment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.JSONError(w, http.StatusNotFound, "not_found", "comment not found")
			return
		}
		h.internalError(w, "get comment failed", err)
		return
	}
	if u.Role != model.RoleAdmin && c.AuthorID != u.ID {
		httputil.JSONError(w, http.StatusForbidden, "forbidden", "only the author may delete this comment")
		return
	}

	if err := h.store.DeleteComment(ctx, id); err != nil {
		h.internalError(w, "delete comment failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
