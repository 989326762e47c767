// internal/web/users.go
package web

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/auth"
	"github.com/tiltboard/tiltboard/internal/httputil"
	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/pagination"
	"github.com/tiltboard/tiltboard/internal/store"
)

type updateMeRequest struct {
	Name       string `json:"name"`
	NotifyPref string `json:"notify_pref"`
}

type createUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type userRoleRequest struct {
	Role string `json:"role"`
}

// Me handles GET /api/me.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, auth.UserFrom(r.Context()))
}

// UpdateMe handles PATCH /api/me: display name and notify_pref.
func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.UserFrom(ctx)

	var req updateMeRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if req.NotifyPref != "" {
		pref, err := model.ParseNotifyPref(req.NotifyPref)
		if err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		if err := h.store.UpdateUserNotifyPref(ctx, u.ID, pref); err != nil {
			h.internalError(w, "update notify pref failed", err)
			return
		}
		u.NotifyPref = pref
	}
	if req.Name != "" {
		if err := h.store.UpdateUserName(ctx, u.ID, req.Name); err != nil {
			h.internalError(w, "update name failed", err)
			return
		}
		u.Name = req.Name
	}

	httputil.WriteJSON(w, http.StatusOK, u)
}

// ListUsers handles GET /api/users. Admin only (routing).
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r)
	users, err := h.store.ListUsers(r.Context(), &page)
	if err != nil {
		h.internalError(w, "list users failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Items: users, Page: page})
}

// CreateUser handles POST /api/users. Admin only (routing). The account
// has no password; the user sets one through the reset flow or logs in
// with Google.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Email == "" || req.Name == "" {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "email and name are required")
		return
	}
	role := model.RolePlayer
	if req.Role != "" {
		parsed, err := model.ParseRole(req.Role)
		if err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		role = parsed
	}

	u := &model.User{
		Email:      req.Email,
		Name:       req.Name,
		Role:       role,
		NotifyPref: model.NotifyAssigned,
	}
	if err := h.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			httputil.JSONError(w, http.StatusConflict, "conflict", "email is already registered")
			return
		}
		h.internalError(w, "create user failed", err)
		return
	}

	h.logger.Info("user created",
		zap.Int64("user_id", u.ID),
		zap.String("role", string(u.Role)))
	httputil.WriteJSON(w, http.StatusCreated, u)
}

// SetUserRole handles PUT /api/users/{id}/role. Admin only (routing).
// Admins cannot demote themselves, so there is always at least one left.
func (h *Handlers) SetUserRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.UserFrom(ctx)

	id, err := urlID(r, "id")
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}
	var req userRoleRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if id == actor.ID && role != model.RoleAdmin {
		httputil.JSONError(w, http.StatusConflict, "conflict", "cannot change your own admin role")
		return
	}

	if err := h.store.UpdateUserRole(ctx, id, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.JSONError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.internalError(w, "update role failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
