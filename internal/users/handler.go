package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teamaccess/team-access-manager/internal/platform/httpx"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersView))
		r.Get("/getAll", h.list)
		// The client calls /teamId/ with a trailing slash.
		r.Get("/teamId", h.listByTeam)
		r.Get("/teamId/", h.listByTeam)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersEdit))
		r.Post("/addNew", h.create)
		r.Post("/updateUser", h.update)
		r.Post("/deleteUser", h.delete)
	})
	r.With(h.rbac.RequireAny(shared.PermUsersView, shared.PermSelfView)).Get("/getUser", h.get)
	r.With(h.rbac.RequireAny(shared.PermUsersAccess, shared.PermSelfView)).Get("/user-permissions", h.permissions)
	r.With(h.rbac.RequireAny(shared.PermUsersAccess)).Post("/updateAccessMode", h.updateAccessMode)
	r.With(h.rbac.RequireAny(shared.PermAuditView)).Get("/userAuditLog", h.auditLog)
	r.With(h.rbac.RequireAny(shared.PermSelfView)).Get("/userDashboard/auditLog", h.dashboardAuditLog)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.PrincipalFromContext(r.Context())
	users, err := h.service.List(r.Context(), actor)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) listByTeam(w http.ResponseWriter, r *http.Request) {
	teamID, err := httpx.QueryID(r, "teamId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	users, err := h.service.ListByTeam(r.Context(), actor, teamID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.QueryID(r, "userId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	u, err := h.service.Get(r.Context(), actor, userID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	u, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	u, err := h.service.Update(r.Context(), actor, req)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.QueryID(r, "userId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), actor, userID); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.QueryID(r, "userId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	view, err := h.service.Permissions(r.Context(), actor, userID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) updateAccessMode(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccessModeRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	view, err := h.service.UpdateAccessMode(r.Context(), actor, req)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.QueryID(r, "userId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	entries, err := h.service.AuditLog(r.Context(), actor, userID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) dashboardAuditLog(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.PrincipalFromContext(r.Context())
	userID := actor.UserID
	if r.URL.Query().Has("userId") {
		id, err := httpx.QueryID(r, "userId")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		userID = id
	}
	entries, err := h.service.DashboardAuditLog(r.Context(), actor, userID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}
