package teams

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/entitlements/entitlementstest"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
	"github.com/teamaccess/team-access-manager/internal/users"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	*entitlementstest.Memory
	teams    map[int64]*Team
	members  map[int64][]int64
	features map[int64]string
	pending  map[int64]access.AccessRequest
	audit    []shared.AuditEntry
	nextID   int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		Memory:   entitlementstest.NewMemory(),
		teams:    make(map[int64]*Team),
		members:  make(map[int64][]int64),
		features: map[int64]string{10: "Reports", 11: "Exports", 12: "Billing"},
		pending:  make(map[int64]access.AccessRequest),
		nextID:   1,
	}
}

func (m *mockRepository) addTeam(name string, granted ...int64) *Team {
	t := &Team{ID: m.nextID, Name: name, Active: true}
	m.nextID++
	m.teams[t.ID] = t
	_ = (&mockTxRepo{m}).SeedTeam(context.Background(), t.ID, granted)
	return t
}

func (m *mockRepository) addMember(teamID, userID int64, mode access.AccessMode) {
	m.PutUser(access.User{ID: userID, Name: fmt.Sprintf("user-%d", userID), TeamID: teamID, AccessMode: mode, Active: true})
	m.members[teamID] = append(m.members[teamID], userID)
}

func (m *mockRepository) List(_ context.Context, teamID int64) ([]Team, error) {
	var out []Team
	for _, t := range m.teams {
		if !t.Active || (teamID != 0 && t.ID != teamID) {
			continue
		}
		team := *t
		team.UserList = []users.User{}
		for _, id := range m.members[t.ID] {
			u := m.User(id)
			team.UserList = append(team.UserList, users.User{ID: u.ID, Name: u.Name, TeamID: u.TeamID, AccessMode: u.AccessMode, Active: u.Active})
		}
		out = append(out, team)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepository) Get(_ context.Context, teamID int64) (Team, error) {
	t, ok := m.teams[teamID]
	if !ok {
		return Team{}, fmt.Errorf("%w %d", ErrTeamNotFound, teamID)
	}
	return *t, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{m})
}

type mockTxRepo struct {
	*mockRepository
}

func (t *mockTxRepo) CreateTeam(_ context.Context, name string) (Team, error) {
	for _, existing := range t.teams {
		if strings.EqualFold(existing.Name, name) {
			return Team{}, ErrDuplicateName
		}
	}
	team := &Team{ID: t.nextID, Name: name, Active: true}
	t.nextID++
	t.teams[team.ID] = team
	return *team, nil
}

func (t *mockTxRepo) SeedTeam(_ context.Context, teamID int64, granted []int64) error {
	grant := map[int64]bool{}
	for _, id := range granted {
		grant[id] = true
	}
	for id, name := range t.features {
		t.PutTeamEntry(access.TeamAccessEntry{TeamID: teamID, TeamName: t.teams[teamID].Name, FeatureID: id, FeatureName: name, HasAccess: grant[id]})
	}
	return nil
}

func (t *mockTxRepo) LockTeam(ctx context.Context, teamID int64) (Team, error) {
	return t.Get(ctx, teamID)
}

func (t *mockTxRepo) Deactivate(_ context.Context, teamID int64) error {
	t.teams[teamID].Active = false
	return nil
}

func (t *mockTxRepo) MemberIDs(_ context.Context, teamID int64) ([]int64, error) {
	return t.members[teamID], nil
}

func (t *mockTxRepo) CancelPending(_ context.Context, teamID int64, actor string, at time.Time) ([]CancelledRequest, error) {
	var out []CancelledRequest
	ids := make([]int64, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		req := t.pending[id]
		if !req.Pending() || t.User(req.UserID).TeamID != teamID {
			continue
		}
		req.Status = access.StatusCancelled
		req.DecidedBy = actor
		req.DecidedOn = &at
		t.pending[id] = req
		out = append(out, CancelledRequest{ID: req.ID, UserID: req.UserID, FeatureName: req.FeatureName})
	}
	return out, nil
}

func (t *mockTxRepo) RecordAudit(_ context.Context, entries ...shared.AuditEntry) error {
	t.audit = append(t.audit, entries...)
	return nil
}

type stubAudit struct {
	entries []shared.AuditEntry
}

func (s stubAudit) TeamLog(_ context.Context, teamID int64) ([]shared.AuditEntry, error) {
	var out []shared.AuditEntry
	for _, e := range s.entries {
		if e.TeamID == teamID {
			out = append(out, e)
		}
	}
	return out, nil
}

var (
	admin = shared.Principal{UserID: 1, Name: "Root", Role: shared.RolePlatformAdmin}
	now   = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newTestService(repo *mockRepository) *Service {
	svc := NewService(repo, stubAudit{}, nil)
	svc.now = func() time.Time { return now }
	return svc
}

// ============================================================================
// SERVICE TESTS
// ============================================================================

func TestCreateSeedsDefaults(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	team, err := svc.Create(context.Background(), admin, CreateTeamRequest{
		Name:       " Platform ",
		AccessList: []FeatureAccess{{FeatureID: 10, HasAccess: true}, {FeatureID: 11, HasAccess: false}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Platform", team.Name)

	entries, err := repo.TeamEntries(context.Background(), team.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	granted := map[int64]bool{}
	for _, e := range entries {
		granted[e.FeatureID] = e.HasAccess
	}
	assert.Equal(t, map[int64]bool{10: true, 11: false, 12: false}, granted)
	require.Len(t, repo.audit, 1)
	assert.Equal(t, "Team Platform created with access to Reports", repo.audit[0].Description)
}

func TestCreateRejectsDuplicatesAndUnknownFeatures(t *testing.T) {
	repo := newMockRepository()
	repo.addTeam("Platform")
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), admin, CreateTeamRequest{Name: "platform"})
	assert.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = svc.Create(context.Background(), admin, CreateTeamRequest{Name: "Ops", AccessList: []FeatureAccess{{FeatureID: 99, HasAccess: true}}})
	assert.ErrorIs(t, err, access.ErrUnknownFeature)
}

func TestDeleteRevokesEveryMember(t *testing.T) {
	repo := newMockRepository()
	team := repo.addTeam("Platform", 10, 11)
	repo.addMember(team.ID, 20, access.InheritTeamAccess)
	repo.addMember(team.ID, 21, access.OverrideTeamAccess)
	repo.PutUserEntry(access.UserAccessEntry{UserID: 21, FeatureID: 12, HasAccess: true})
	svc := newTestService(repo)

	require.NoError(t, svc.Delete(context.Background(), admin, team.ID))

	assert.False(t, repo.teams[team.ID].Active)
	for _, id := range []int64{20, 21} {
		assert.Equal(t, access.OverrideTeamAccess, repo.User(id).AccessMode)
		assert.Equal(t, map[int64]bool{10: false, 11: false, 12: false}, repo.Effective(id))
	}
	require.NotEmpty(t, repo.audit)
	assert.Equal(t, "Team Platform deleted", repo.audit[0].Description)
	assert.Equal(t, "Root", repo.audit[0].Actor)

	err := svc.Delete(context.Background(), admin, team.ID)
	assert.ErrorIs(t, err, access.ErrInvalidState)
	assert.ErrorIs(t, svc.Delete(context.Background(), admin, 999), access.ErrNotFound)
}

func TestDeleteCancelsMembersPendingRequests(t *testing.T) {
	repo := newMockRepository()
	team := repo.addTeam("Platform", 10)
	other := repo.addTeam("Ops")
	repo.addMember(team.ID, 20, access.InheritTeamAccess)
	repo.addMember(other.ID, 30, access.InheritTeamAccess)
	repo.pending[1] = access.AccessRequest{ID: 1, UserID: 20, FeatureID: 11, FeatureName: "Exports", Type: access.RequestGrant, Status: access.StatusPending}
	repo.pending[2] = access.AccessRequest{ID: 2, UserID: 30, FeatureID: 11, FeatureName: "Exports", Type: access.RequestGrant, Status: access.StatusPending}
	svc := newTestService(repo)

	require.NoError(t, svc.Delete(context.Background(), admin, team.ID))

	assert.Equal(t, access.StatusCancelled, repo.pending[1].Status)
	assert.Equal(t, "Root", repo.pending[1].DecidedBy)
	assert.Equal(t, access.StatusPending, repo.pending[2].Status, "other teams are untouched")

	last := repo.audit[len(repo.audit)-1]
	assert.Equal(t, int64(20), last.UserID)
	assert.Equal(t, team.ID, last.TeamID)
	assert.Equal(t, "Pending request for Exports cancelled because team Platform was deleted", last.Description)
}

func TestUpdateAccessWritesOnlyChangedRows(t *testing.T) {
	repo := newMockRepository()
	team := repo.addTeam("Platform", 10)
	svc := newTestService(repo)

	changed, err := svc.UpdateAccess(context.Background(), admin, []AccessUpdate{
		{TeamID: team.ID, FeatureID: 10, HasAccess: true},
		{TeamID: team.ID, FeatureID: 11, HasAccess: true},
	})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, int64(11), changed[0].FeatureID)
	assert.True(t, changed[0].HasAccess)
	require.Len(t, repo.audit, 1)
	assert.Equal(t, "Team access to Exports changed from Not Granted to Granted", repo.audit[0].Description)

	_, err = svc.UpdateAccess(context.Background(), admin, []AccessUpdate{{TeamID: team.ID, FeatureID: 99}})
	assert.ErrorIs(t, err, access.ErrUnknownFeature)
}

func TestTeamAdminScope(t *testing.T) {
	repo := newMockRepository()
	mine := repo.addTeam("Mine")
	other := repo.addTeam("Other")
	svc := newTestService(repo)
	lead := shared.Principal{UserID: 5, Role: shared.RoleTeamAdmin, TeamID: mine.ID}

	teams, err := svc.List(context.Background(), lead)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "Mine", teams[0].Name)

	_, err = svc.Permissions(context.Background(), lead, other.ID)
	assert.ErrorIs(t, err, access.ErrForbidden)
	_, err = svc.UpdateAccess(context.Background(), lead, []AccessUpdate{{TeamID: other.ID, FeatureID: 10, HasAccess: true}})
	assert.ErrorIs(t, err, access.ErrForbidden)

	perms, err := svc.Permissions(context.Background(), lead, mine.ID)
	require.NoError(t, err)
	assert.Len(t, perms, 3)
}

// ============================================================================
// HANDLER TESTS
// ============================================================================

func TestHandlerRoutes(t *testing.T) {
	repo := newMockRepository()
	team := repo.addTeam("Platform")
	h := NewHandler(nil, newTestService(repo), rbac.Middleware{})
	r := chi.NewRouter()
	r.Route("/team", h.MountRoutes)

	send := func(p shared.Principal, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}
	lead := shared.Principal{UserID: 5, Role: shared.RoleTeamAdmin, TeamID: team.ID}
	member := shared.Principal{UserID: 6, Role: shared.RoleUser, TeamID: team.ID}

	assert.Equal(t, http.StatusOK, send(lead, http.MethodGet, "/team/getAll", "").Code)
	assert.Equal(t, http.StatusForbidden, send(member, http.MethodGet, "/team/getAll", "").Code)
	assert.Equal(t, http.StatusForbidden, send(lead, http.MethodPost, "/team/addNew", `{"name":"X"}`).Code)
	assert.Equal(t, http.StatusCreated, send(admin, http.MethodPost, "/team/addNew", `{"name":"X","accessList":[{"featureId":10,"hasAccess":true}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(admin, http.MethodPost, "/team/delete", "").Code)

	rec := send(lead, http.MethodGet, fmt.Sprintf("/team/team-permissions?teamId=%d", team.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "teamAccessControlDTOS")

	body := fmt.Sprintf(`[{"teamId":%d,"featureId":12,"hasAccess":true}]`, team.ID)
	rec = send(lead, http.MethodPost, "/team/updateAccess", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"featureName":"Billing"`)

	assert.Equal(t, http.StatusOK, send(lead, http.MethodGet, fmt.Sprintf("/team/auditLog?teamId=%d", team.ID), "").Code)
	assert.Equal(t, http.StatusNoContent, send(admin, http.MethodPost, fmt.Sprintf("/team/delete?teamId=%d", team.ID), "").Code)
}
