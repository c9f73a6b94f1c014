package requests

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/teamaccess/team-access-manager/internal/platform/httpx"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// IdempotencyHeader optionally deduplicates decision submissions.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes access request endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountTeamRoutes registers the admin side under /team.
func (h *Handler) MountTeamRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRequestsDecide))
		r.Get("/pending-request", h.listPending)
		r.Post("/request-decision", h.decide)
	})
}

// MountUserRoutes registers the requester side under /user.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermRequestsCreate)).Post("/access-request", h.submit)
	r.With(h.rbac.RequireAny(shared.PermSelfView)).Get("/userDashboard/accessData", h.dashboard)
	r.With(h.rbac.RequireAny(shared.PermSelfView)).Get("/access-request/history", h.history)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var form SubmitRequest
	if err := httpx.Bind(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	view, err := h.service.Submit(r.Context(), actor, form)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.PrincipalFromContext(r.Context())
	pending, err := h.service.ListPending(r.Context(), actor)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pending)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	var in DecisionRequest
	if err := httpx.Bind(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	view, err := h.service.Decide(r.Context(), actor, in, key)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.PrincipalFromContext(r.Context())
	userID := actor.UserID
	if raw := r.URL.Query().Get("userId"); raw != "" && raw != "0" {
		id, err := httpx.QueryID(r, "userId")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		userID = id
	}
	lines, err := h.service.Dashboard(r.Context(), actor, userID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.QueryID(r, "requestId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	trail, err := h.service.History(r.Context(), actor, id)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trail)
}
