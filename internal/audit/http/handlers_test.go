package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamaccess/team-access-manager/internal/audit"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

type stubRepo struct {
	rows      []audit.TimelineRow
	userTeams map[int64]int64
	lastLimit int
}

func (s *stubRepo) Window(_ context.Context, _ audit.TimelineFilters, offset, limit int) ([]audit.TimelineRow, error) {
	s.lastLimit = limit
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

func (s *stubRepo) All(context.Context, audit.TimelineFilters) ([]audit.TimelineRow, error) {
	return s.rows, nil
}

func (s *stubRepo) UserTeam(_ context.Context, userID int64) (int64, error) {
	return s.userTeams[userID], nil
}

func newRouter(repo *stubRepo) http.Handler {
	h := NewHandler(nil, audit.NewService(repo), audit.CSVExporter{}, rbac.Middleware{})
	r := chi.NewRouter()
	r.Route("/audit", h.MountRoutes)
	return r
}

func get(h http.Handler, p *shared.Principal, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleRows(n int) []audit.TimelineRow {
	rows := make([]audit.TimelineRow, n)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := range rows {
		rows[i] = audit.TimelineRow{
			ID:          int64(n - i),
			TeamID:      4,
			UserID:      9,
			Description: "Access mode changed from Inherit to Override",
			Actor:       "Root",
			At:          base.Add(-time.Duration(i) * time.Hour),
		}
	}
	return rows
}

func TestTimelinePagesNewestFirst(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(3)}
	admin := shared.Principal{UserID: 1, Role: shared.RolePlatformAdmin}

	rec := get(newRouter(repo), &admin, "/audit?teamId=4&perPage=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var result audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Equal(t, 3, repo.lastLimit)
}

func TestTimelineScopes(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(1), userTeams: map[int64]int64{9: 4, 10: 5}}
	h := newRouter(repo)
	lead := shared.Principal{UserID: 2, Role: shared.RoleTeamAdmin, TeamID: 4}
	member := shared.Principal{UserID: 9, Role: shared.RoleUser, TeamID: 4}

	assert.Equal(t, http.StatusUnauthorized, get(h, nil, "/audit?teamId=4").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, &lead, "/audit").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, &lead, "/audit?teamId=x").Code)
	assert.Equal(t, http.StatusOK, get(h, &lead, "/audit?teamId=4").Code)
	assert.Equal(t, http.StatusForbidden, get(h, &lead, "/audit?teamId=5").Code)
	assert.Equal(t, http.StatusOK, get(h, &lead, "/audit?userId=9").Code)
	assert.Equal(t, http.StatusForbidden, get(h, &lead, "/audit?userId=10").Code)
	assert.Equal(t, http.StatusOK, get(h, &member, "/audit?userId=9").Code)
	assert.Equal(t, http.StatusForbidden, get(h, &member, "/audit?teamId=4").Code)
}

func TestExportCSV(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(2)}
	admin := shared.Principal{UserID: 1, Role: shared.RolePlatformAdmin}

	rec := get(newRouter(repo), &admin, "/audit/export.csv?userId=9&from=2025-03-01&to=2025-03-31")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,date,team_id,user_id,actor,description", lines[0])
	assert.Contains(t, lines[1], "2025-03-10T09:00:00Z,4,9,Root")
}

func TestExportRejectsInvertedRange(t *testing.T) {
	repo := &stubRepo{}
	admin := shared.Principal{UserID: 1, Role: shared.RolePlatformAdmin}
	rec := get(newRouter(repo), &admin, "/audit/export.csv?teamId=4&from=2025-03-31&to=2025-03-01")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
