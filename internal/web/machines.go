// internal/web/machines.go
// Package web holds tiltboard's HTTP handlers: the JSON API for machines,
// issues, comments, and users, plus the small HTML pages the login flows
// need.
package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/auth"
	"github.com/tiltboard/tiltboard/internal/httputil"
	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/notify"
	"github.com/tiltboard/tiltboard/internal/pagination"
	"github.com/tiltboard/tiltboard/internal/store"
)

// Handlers bundles the dependencies the API handlers share.
type Handlers struct {
	store    *store.Store
	notifier *notify.Service
	logger   *zap.Logger
}

// NewHandlers wires the API handlers. notifier may be nil.
func NewHandlers(st *store.Store, notifier *notify.Service, logger *zap.Logger) *Handlers {
	return &Handlers{store: st, notifier: notifier, logger: logger}
}

// listResponse is the envelope for paginated collections.
type listResponse struct {
	Items any             `json:"items"`
	Page  pagination.Page `json:"page"`
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (h *Handlers) internalError(w http.ResponseWriter, what string, err error) {
	h.logger.Error(what, zap.Error(err))
	httputil.JSONError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
}

type machineRequest struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Location     string `json:"location"`
	Status       string `json:"status"`
}

// ListMachines handles GET /api/machines with optional ?status= filter.
func (h *Handlers) ListMachines(w http.ResponseWriter, r *http.Request) {
	var status *model.MachineStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := model.ParseMachineStatus(raw)
		if err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		status = &parsed
	}

	page := pagination.FromRequest(r)
	machines, err := h.store.ListMachines(r.Context(), status, &page)
	if err != nil {
		h.internalError(w, "list machines failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Items: machines, Page: page})
}

// GetMachine handles GET /api/machines/{id}.
func (h *Handlers) GetMachine(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid machine id")
		return
	}
	m, err := h.store.GetMachine(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.JSONError(w, http.StatusNotFound, "not_found", "machine not found")
			return
		}
		h.internalError(w, "get machine failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

// CreateMachine handles POST /api/machines. Admin only (routing).
func (h *Handlers) CreateMachine(w http.ResponseWriter, r *http.Request) {
	var req machineRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Name == "" {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	m := &model.Machine{
		Name:         req.Name,
		Manufacturer: req.Manufacturer,
		Location:     req.Location,
		Status:       model.MachineActive,
	}
	if req.Status != "" {
		status, err := model.ParseMachineStatus(req.Status)
		if err != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		m.Status = status
	}

	if err := h.store.CreateMachine(r.Context(), m); err != nil {
		h.internalError(w, "create machine failed", err)
		return
	}
	h.logger.Info("machine created", zap.Int64("machine_id", m.ID), zap.String("name", m.Name))
	httputil.WriteJSON(w, http.StatusCreated, m)
}

// UpdateMachine handles PUT /api/machines/{id}. Admin only (routing).
// A machine with open issues cannot return to active.
func (h *Handlers) UpdateMachine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := urlID(r, "id")
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid machine id")
		return
	}
	var req machineRequest
	if err := httputil.BindJSON(r, &req); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Name == "" {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	m, err := h.store.GetMachine(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.JSONError(w, http.StatusNotFound, "not_found", "machine not found")
			return
		}
		h.internalError(w, "get machine failed", err)
		return
	}

	if req.Status != "" {
		status, perr := model.ParseMachineStatus(req.Status)
		if perr != nil {
			httputil.JSONError(w, http.StatusBadRequest, "bad_request", perr.Error())
			return
		}
		if status == model.MachineActive && m.Status != model.MachineActive {
			open, cerr := h.store.OpenIssueCount(ctx, m.ID)
			if cerr != nil {
				h.internalError(w, "count open issues failed", cerr)
				return
			}
			if open > 0 {
				httputil.JSONError(w, http.StatusConflict, "conflict",
					"machine has open issues and cannot return to active")
				return
			}
		}
		m.Status = status
	}
	m.Name = req.Name
	m.Manufacturer = req.Manufacturer
	m.Location = req.Location

	if err := h.store.UpdateMachine(ctx, m); err != nil {
		h.internalError(w, "update machine failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

// DeleteMachine handles DELETE /api/machines/{id}. Admin only (routing).
func (h *Handlers) DeleteMachine(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid machine id")
		return
	}
	if err := h.store.DeleteMachine(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.JSONError(w, http.StatusNotFound, "not_found", "machine not found")
			return
		}
		// Foreign keys stop deletion while issues reference the machine.
		if errors.Is(err, store.ErrReferenced) {
			httputil.JSONError(w, http.StatusConflict, "conflict",
				"machine has issues and cannot be deleted")
			return
		}
		h.internalError(w, "delete machine failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Subscribe handles PUT /api/machines/{id}/subscription for the
// authenticated user.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.UserFrom(ctx)
	id, err := urlID(r, "id")
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid machine id")
		return
	}
	if _, err := h.store.GetMachine(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.JSONError(w, http.StatusNotFound, "not_found", "machine not found")
			return
		}
		h.internalError(w, "get machine failed", err)
		return
	}
	if err := h.store.Subscribe(ctx, u.ID, id); err != nil {
		h.internalError(w, "subscribe failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unsubscribe handles DELETE /api/machines/{id}/subscription.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u := auth.UserFrom(ctx)
	id, err := urlID(r, "id")
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "bad_request", "invalid machine id")
		return
	}
	if err := h.store.Unsubscribe(ctx, u.ID, id); err != nil {
		h.internalError(w, "unsubscribe failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
