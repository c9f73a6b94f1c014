package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/teamaccess/team-access-manager/internal/shared"
)

func serve(t *testing.T, mw func(http.Handler) http.Handler, principal *shared.Principal) int {
	t.Helper()
	r := chi.NewRouter()
	r.With(mw).Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if principal != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *principal))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAny(t *testing.T) {
	m := Middleware{}
	lead := shared.Principal{UserID: 2, Role: shared.RoleTeamAdmin, TeamID: 4}
	member := shared.Principal{UserID: 3, Role: shared.RoleUser, TeamID: 4}

	assert.Equal(t, http.StatusUnauthorized, serve(t, m.RequireAny(shared.PermRequestsDecide), nil))
	assert.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(shared.PermRequestsDecide), &lead))
	assert.Equal(t, http.StatusForbidden, serve(t, m.RequireAny(shared.PermRequestsDecide), &member))
	assert.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(shared.PermFeaturesManage, shared.PermSelfView), &member))
}

func TestRequireAll(t *testing.T) {
	m := Middleware{}
	admin := shared.Principal{UserID: 1, Role: shared.RolePlatformAdmin}
	lead := shared.Principal{UserID: 2, Role: shared.RoleTeamAdmin, TeamID: 4}

	assert.Equal(t, http.StatusNoContent, serve(t, m.RequireAll(shared.PermFeaturesManage, shared.PermTeamsManage), &admin))
	assert.Equal(t, http.StatusForbidden, serve(t, m.RequireAll(shared.PermTeamsAccess, shared.PermTeamsManage), &lead))
}

func TestGrantsCoverEveryRole(t *testing.T) {
	grants := Grants()
	assert.Len(t, grants, 3)
	assert.Equal(t, shared.RolePlatformAdmin, grants[0].Role)
	assert.True(t, grants[1].TeamScoped)
}
