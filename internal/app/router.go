package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/teamaccess/team-access-manager/internal/audit/http"
	"github.com/teamaccess/team-access-manager/internal/auth"
	"github.com/teamaccess/team-access-manager/internal/features"
	"github.com/teamaccess/team-access-manager/internal/loginrequests"
	"github.com/teamaccess/team-access-manager/internal/observability"
	"github.com/teamaccess/team-access-manager/internal/platform/httpx"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/requests"
	"github.com/teamaccess/team-access-manager/internal/roles"
	"github.com/teamaccess/team-access-manager/internal/shared"
	"github.com/teamaccess/team-access-manager/internal/teams"
	"github.com/teamaccess/team-access-manager/internal/users"
	"github.com/teamaccess/team-access-manager/jobs"
)

// APIPrefix is the base path of the team, user and admin groups.
const APIPrefix = "/v1/team-access-manager"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Metrics      *observability.Metrics
	Reporter     *observability.Reporter
	Authenticate func(http.Handler) http.Handler
	RBAC         rbac.Middleware

	AuthHandler         *auth.Handler
	LoginRequestHandler *loginrequests.Handler
	FeaturesHandler     *features.Handler
	TeamsHandler        *teams.Handler
	UsersHandler        *users.Handler
	RequestsHandler     *requests.Handler
	RolesHandler        *roles.Handler
	PermissionsHandler  *rbac.PermissionsHandler
	AuditHandler        *audithttp.Handler
	JobHandler          *jobs.Handler
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:       params.Logger,
		Config:       params.Config,
		Metrics:      params.Metrics,
		Reporter:     params.Reporter,
		Authenticate: params.Authenticate,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.LoginRequestHandler != nil {
			params.LoginRequestHandler.MountPublicRoutes(r)
		}
	})
	if params.FeaturesHandler != nil {
		r.Route("/features", params.FeaturesHandler.MountRoutes)
	}

	r.Route(APIPrefix, func(r chi.Router) {
		r.Route("/team", func(r chi.Router) {
			if params.TeamsHandler != nil {
				params.TeamsHandler.MountRoutes(r)
			}
			if params.RequestsHandler != nil {
				params.RequestsHandler.MountTeamRoutes(r)
			}
		})
		r.Route("/user", func(r chi.Router) {
			if params.UsersHandler != nil {
				params.UsersHandler.MountRoutes(r)
			}
			if params.RequestsHandler != nil {
				params.RequestsHandler.MountUserRoutes(r)
			}
		})
		if params.LoginRequestHandler != nil {
			r.Route("/admin/login-request", params.LoginRequestHandler.MountAdminRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(params.RBAC.RequireAny(shared.PermJobsView))
			r.Route("/jobs", params.JobHandler.MountRoutes)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
