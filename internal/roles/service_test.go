package roles

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

type mockRepository struct {
	accounts map[int64]*Assignment
	audit    []shared.AuditEntry
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) LockAccount(_ context.Context, userID int64) (Assignment, error) {
	a, ok := m.accounts[userID]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: user %d", access.ErrNotFound, userID)
	}
	return *a, nil
}

func (m *mockRepository) SetRole(_ context.Context, userID int64, role shared.PlatformRole) error {
	m.accounts[userID].Previous = role
	return nil
}

func (m *mockRepository) RecordAudit(_ context.Context, entries ...shared.AuditEntry) error {
	m.audit = append(m.audit, entries...)
	return nil
}

var admin = shared.Principal{UserID: 1, Name: "Root", Role: shared.RolePlatformAdmin}

func newTestService() (*Service, *mockRepository) {
	repo := &mockRepository{accounts: map[int64]*Assignment{
		10: {UserID: 10, Name: "Ada", TeamID: 3, Previous: shared.RoleUser},
		11: {UserID: 11, Name: "Bo", Previous: shared.RoleUser},
	}}
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestAssignPromotesWithAudit(t *testing.T) {
	svc, repo := newTestService()
	out, err := svc.Assign(context.Background(), admin, AssignRequest{UserID: 10, PlatformRole: "team_admin"})
	require.NoError(t, err)
	assert.Equal(t, shared.RoleUser, out.Previous)
	assert.Equal(t, shared.RoleTeamAdmin, out.Role)
	require.Len(t, repo.audit, 1)
	assert.Equal(t, "Platform role of Ada changed from USER to TEAM_ADMIN", repo.audit[0].Description)

	_, err = svc.Assign(context.Background(), admin, AssignRequest{UserID: 10, PlatformRole: "TEAM_ADMIN"})
	require.NoError(t, err)
	assert.Len(t, repo.audit, 1)
}

func TestAssignRejections(t *testing.T) {
	svc, repo := newTestService()
	_, err := svc.Assign(context.Background(), admin, AssignRequest{UserID: 11, PlatformRole: "TEAM_ADMIN"})
	assert.ErrorIs(t, err, ErrTeamRequired)

	_, err = svc.Assign(context.Background(), admin, AssignRequest{UserID: 1, PlatformRole: "USER"})
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = svc.Assign(context.Background(), admin, AssignRequest{UserID: 10, PlatformRole: "OWNER"})
	assert.ErrorIs(t, err, access.ErrInvalidState)

	_, err = svc.Assign(context.Background(), admin, AssignRequest{UserID: 99, PlatformRole: "USER"})
	assert.ErrorIs(t, err, access.ErrNotFound)
	assert.Empty(t, repo.audit)
}

func TestHandlerRoutes(t *testing.T) {
	svc, _ := newTestService()
	r := chi.NewRouter()
	r.Route("/roles", NewHandler(nil, svc, rbac.Middleware{}).MountRoutes)
	lead := shared.Principal{UserID: 2, Role: shared.RoleTeamAdmin, TeamID: 3}

	send := func(p shared.Principal, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := send(admin, http.MethodGet, "/roles/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"teamScoped":true`)
	assert.Equal(t, http.StatusForbidden, send(lead, http.MethodGet, "/roles/", "").Code)
	assert.Equal(t, http.StatusForbidden, send(lead, http.MethodPost, "/roles/assign", `{"userId":10,"platformRole":"USER"}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(admin, http.MethodPost, "/roles/assign", `{"userId":10,"platformRole":"OWNER"}`).Code)
	assert.Equal(t, http.StatusOK, send(admin, http.MethodPost, "/roles/assign", `{"userId":10,"platformRole":"TEAM_ADMIN"}`).Code)
}
