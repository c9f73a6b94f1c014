package teams

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teamaccess/team-access-manager/internal/platform/httpx"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// Handler exposes team administration endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers team routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermTeamsView)).Get("/getAll", h.list)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermTeamsManage))
		r.Post("/addNew", h.create)
		r.Post("/delete", h.delete)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermTeamsAccess))
		r.Get("/team-permissions", h.permissions)
		r.Post("/updateAccess", h.updateAccess)
	})
	r.With(h.rbac.RequireAny(shared.PermAuditView)).Get("/auditLog", h.auditLog)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.PrincipalFromContext(r.Context())
	teams, err := h.service.List(r.Context(), actor)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, teams)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	team, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, team)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	teamID, err := httpx.QueryID(r, "teamId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), actor, teamID); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	teamID, err := httpx.QueryID(r, "teamId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	entries, err := h.service.Permissions(r.Context(), actor, teamID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"teamAccessControlDTOS": entries})
}

func (h *Handler) updateAccess(w http.ResponseWriter, r *http.Request) {
	var updates []AccessUpdate
	if err := httpx.DecodeJSON(r, &updates); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	for i := range updates {
		if err := httpx.Validate(&updates[i]); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	changed, err := h.service.UpdateAccess(r.Context(), actor, updates)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, changed)
}

func (h *Handler) auditLog(w http.ResponseWriter, r *http.Request) {
	teamID, err := httpx.QueryID(r, "teamId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	entries, err := h.service.AuditLog(r.Context(), actor, teamID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}
