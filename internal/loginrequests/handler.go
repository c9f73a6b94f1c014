package loginrequests

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teamaccess/team-access-manager/internal/platform/httpx"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Handler exposes login request endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountPublicRoutes registers the anonymous application endpoint under /auth.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/login-request", h.submit)
}

// MountAdminRoutes registers the decision endpoints under /admin/login-request.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermLoginRequestsDecide))
		r.Get("/pending", h.listPending)
		r.Post("/approve", h.approve)
		r.Post("/reject", h.reject)
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Submit(r.Context(), req)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.ListPending(r.Context())
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pending)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	reqID, err := httpx.QueryID(r, "reqId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	teamID, err := httpx.QueryID(r, "teamId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	approved, err := h.service.Approve(r.Context(), actor, reqID, teamID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, approved)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	reqID, err := httpx.QueryID(r, "reqId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	rejected, err := h.service.Reject(r.Context(), actor, reqID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rejected)
}
