package users

import (
	"context"
	"errors"
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
	"github.com/teamaccess/team-access-manager/internal/entitlements"
	"github.com/teamaccess/team-access-manager/internal/entitlements/entitlementstest"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	*entitlementstest.Memory
	profiles  map[int64]*User
	teams     map[int64]string
	pending   map[int64]int64
	audit     []shared.AuditEntry
	nextID    int64
	failWrite error
}

func newMockRepository() *mockRepository {
	m := &mockRepository{
		Memory:   entitlementstest.NewMemory(),
		profiles: make(map[int64]*User),
		teams:    map[int64]string{1: "Platform", 2: "Growth"},
		pending:  make(map[int64]int64),
		nextID:   10,
	}
	for teamID, name := range m.teams {
		m.PutTeamEntry(access.TeamAccessEntry{TeamID: teamID, TeamName: name, FeatureID: 100, FeatureName: "Reports", HasAccess: true})
		m.PutTeamEntry(access.TeamAccessEntry{TeamID: teamID, TeamName: name, FeatureID: 101, FeatureName: "Exports"})
	}
	return m
}

func (m *mockRepository) addUser(name string, teamID int64) *User {
	u := &User{ID: m.nextID, Name: name, Email: strings.ToLower(name) + "@example.com", TeamID: teamID, TeamName: m.teams[teamID], AccessMode: access.InheritTeamAccess, Active: true, PlatformRole: shared.RoleUser}
	m.nextID++
	m.profiles[u.ID] = u
	m.PutUser(access.User{ID: u.ID, Name: u.Name, TeamID: teamID, AccessMode: u.AccessMode, Active: true})
	return u
}

func (m *mockRepository) profile(id int64) (User, error) {
	u, ok := m.profiles[id]
	if !ok {
		return User{}, fmt.Errorf("%w %d", ErrUserNotFound, id)
	}
	out := *u
	out.AccessMode = m.User(id).AccessMode
	return out, nil
}

func (m *mockRepository) List(_ context.Context, teamID int64) ([]User, error) {
	out := []User{}
	for id, u := range m.profiles {
		if u.Active && (teamID == 0 || u.TeamID == teamID) {
			p, _ := m.profile(id)
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepository) Get(_ context.Context, userID int64) (User, error) {
	return m.profile(userID)
}

func (m *mockRepository) Snapshot(ctx context.Context, userID int64) (access.Snapshot, error) {
	return entitlements.LoadSnapshot(ctx, m.Memory, userID, false)
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{m})
}

type mockTxRepo struct {
	*mockRepository
}

func (t *mockTxRepo) Create(_ context.Context, nu NewUser) (User, error) {
	for _, u := range t.profiles {
		if strings.EqualFold(u.Email, nu.Email) || u.EmpID == nu.EmpID {
			return User{}, ErrDuplicateUser
		}
	}
	u := &User{ID: t.nextID, Name: nu.Name, EmpID: nu.EmpID, Email: strings.ToLower(nu.Email), Role: nu.Role, TeamID: nu.TeamID, TeamName: t.teams[nu.TeamID], AccessMode: access.InheritTeamAccess, Active: true, PlatformRole: shared.RoleUser}
	t.nextID++
	t.profiles[u.ID] = u
	t.PutUser(access.User{ID: u.ID, Name: u.Name, TeamID: u.TeamID, AccessMode: u.AccessMode, Active: true})
	return *u, nil
}

func (t *mockTxRepo) LockProfile(_ context.Context, userID int64) (User, error) {
	return t.profile(userID)
}

func (t *mockTxRepo) Update(_ context.Context, req UpdateUserRequest) error {
	if t.failWrite != nil {
		return t.failWrite
	}
	u := t.profiles[req.ID]
	u.Name, u.Email, u.Role, u.TeamID, u.TeamName = req.Name, strings.ToLower(req.Email), req.Role, req.TeamID, t.teams[req.TeamID]
	stored := t.User(req.ID)
	stored.TeamID = req.TeamID
	t.PutUser(stored)
	return nil
}

func (t *mockTxRepo) ActiveTeam(_ context.Context, teamID int64) (string, error) {
	name, ok := t.teams[teamID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrTeamUnavailable, teamID)
	}
	return name, nil
}

func (t *mockTxRepo) Deactivate(_ context.Context, userID int64) error {
	t.profiles[userID].Active = false
	stored := t.User(userID)
	stored.Active = false
	t.PutUser(stored)
	return nil
}

func (t *mockTxRepo) CancelPending(_ context.Context, userID int64, _ string, _ time.Time) (int64, error) {
	n := t.pending[userID]
	delete(t.pending, userID)
	return n, nil
}

func (t *mockTxRepo) RecordAudit(_ context.Context, entries ...shared.AuditEntry) error {
	t.audit = append(t.audit, entries...)
	return nil
}

type stubMailer struct {
	sent []string
}

func (s *stubMailer) SendMail(_ context.Context, to, _, body string) error {
	s.sent = append(s.sent, to+"|"+body)
	return nil
}

type stubSessions struct {
	revoked []int64
}

func (s *stubSessions) DestroyUser(_ context.Context, userID int64) error {
	s.revoked = append(s.revoked, userID)
	return nil
}

type stubAudit struct{}

func (stubAudit) UserLog(_ context.Context, userID int64) ([]shared.AuditEntry, error) {
	return []shared.AuditEntry{{UserID: userID, Description: "seen", Actor: "system"}}, nil
}

var (
	admin = shared.Principal{UserID: 1, Name: "Root", Role: shared.RolePlatformAdmin}
	lead  = shared.Principal{UserID: 2, Name: "Lead", Role: shared.RoleTeamAdmin, TeamID: 1}
	now   = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	repo     *mockRepository
	mailer   *stubMailer
	sessions *stubSessions
	svc      *Service
}

func newFixture() fixture {
	f := fixture{repo: newMockRepository(), mailer: &stubMailer{}, sessions: &stubSessions{}}
	password := func() (string, string, error) { return "Temp-Pass-123", "hashed", nil }
	f.svc = NewService(f.repo, stubAudit{}, f.sessions, f.mailer, password, nil)
	f.svc.now = func() time.Time { return now }
	return f
}

func boolPtr(b bool) *bool { return &b }

// ============================================================================
// SERVICE TESTS
// ============================================================================

func TestCreateInheritsByDefault(t *testing.T) {
	f := newFixture()
	u, err := f.svc.Create(context.Background(), admin, CreateUserRequest{Name: "Ada", EmpID: "E1", Email: "Ada@Example.com", TeamID: 1})
	require.NoError(t, err)

	assert.Equal(t, access.InheritTeamAccess, u.AccessMode)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, map[int64]bool{100: true, 101: false}, f.repo.Effective(u.ID))
	require.Len(t, f.mailer.sent, 1)
	assert.Contains(t, f.mailer.sent[0], "Temp-Pass-123")
	require.Len(t, f.repo.audit, 1)
	assert.Equal(t, "User Ada added to team Platform", f.repo.audit[0].Description)
}

func TestCreateWithOverrideCopiesTeamDefaults(t *testing.T) {
	f := newFixture()
	u, err := f.svc.Create(context.Background(), admin, CreateUserRequest{Name: "Ada", EmpID: "E1", Email: "ada@example.com", TeamID: 1, InheritTeamAccess: boolPtr(false)})
	require.NoError(t, err)

	assert.Equal(t, access.OverrideTeamAccess, u.AccessMode)
	entries, err := f.repo.UserEntries(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, map[int64]bool{100: true, 101: false}, f.repo.Effective(u.ID))
}

func TestCreateRejections(t *testing.T) {
	f := newFixture()
	f.repo.addUser("Ada", 1)

	_, err := f.svc.Create(context.Background(), lead, CreateUserRequest{Name: "Bo", EmpID: "E2", Email: "bo@example.com", TeamID: 2})
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = f.svc.Create(context.Background(), admin, CreateUserRequest{Name: "Bo", EmpID: "E2", Email: "bo@example.com", TeamID: 9})
	assert.ErrorIs(t, err, access.ErrInvalidState)

	_, err = f.svc.Create(context.Background(), admin, CreateUserRequest{Name: "Ada", EmpID: "E3", Email: "ADA@example.com", TeamID: 1})
	assert.ErrorIs(t, err, shared.ErrDuplicate)
	assert.Empty(t, f.mailer.sent)
}

func TestUpdateMovesTeamWithAudit(t *testing.T) {
	f := newFixture()
	u := f.repo.addUser("Ada", 1)

	updated, err := f.svc.Update(context.Background(), admin, UpdateUserRequest{ID: u.ID, Name: "Ada", Email: u.Email, TeamID: 2})
	require.NoError(t, err)
	assert.Equal(t, "Growth", updated.TeamName)
	require.Len(t, f.repo.audit, 2)
	assert.Equal(t, "User Ada moved from team Platform to team Growth", f.repo.audit[0].Description)
	assert.Equal(t, int64(1), f.repo.audit[0].TeamID)
	assert.Equal(t, int64(2), f.repo.audit[1].TeamID)

	_, err = f.svc.Update(context.Background(), lead, UpdateUserRequest{ID: u.ID, Name: "Ada", Email: u.Email, TeamID: 1})
	assert.ErrorIs(t, err, access.ErrForbidden)
}

func TestUpdateWriteFailureSkipsAudit(t *testing.T) {
	f := newFixture()
	u := f.repo.addUser("Ada", 1)
	f.repo.failWrite = errors.New("boom")

	_, err := f.svc.Update(context.Background(), admin, UpdateUserRequest{ID: u.ID, Name: "Ada L", Email: u.Email, TeamID: 1})
	require.Error(t, err)
	assert.Empty(t, f.repo.audit)
}

func TestDeleteCancelsPendingAndRevokesSessions(t *testing.T) {
	f := newFixture()
	u := f.repo.addUser("Ada", 1)
	f.repo.pending[u.ID] = 2

	require.NoError(t, f.svc.Delete(context.Background(), lead, u.ID))
	assert.False(t, f.repo.profiles[u.ID].Active)
	assert.Equal(t, []int64{u.ID}, f.sessions.revoked)
	require.Len(t, f.repo.audit, 1)
	assert.Equal(t, "User Ada deleted, 2 pending request(s) cancelled", f.repo.audit[0].Description)

	assert.ErrorIs(t, f.svc.Delete(context.Background(), lead, u.ID), access.ErrInvalidState)
	assert.ErrorIs(t, f.svc.Delete(context.Background(), admin, admin.UserID), access.ErrInvalidState)
	assert.ErrorIs(t, f.svc.Delete(context.Background(), admin, 999), access.ErrNotFound)
}

func TestUpdateAccessModeRoundTrip(t *testing.T) {
	f := newFixture()
	u := f.repo.addUser("Ada", 1)

	view, err := f.svc.UpdateAccessMode(context.Background(), lead, UpdateAccessModeRequest{
		UserID:     u.ID,
		AccessMode: "OVERRIDE_TEAM_ACCESS",
		FeatureAccessDetailsWrapper: &FeatureAccessDetails{FeatureAccessWrapperList: []FeatureChoice{
			{FeatureID: 101, Access: true},
		}},
	})
	require.NoError(t, err)
	assert.Len(t, view.UserAccessControlDTOS, 2)
	assert.Equal(t, map[int64]bool{100: false, 101: true}, f.repo.Effective(u.ID))
	require.Len(t, f.repo.audit, 1)
	assert.Equal(t, "Access mode changed from Inherit to Override", f.repo.audit[0].Description)

	_, err = f.svc.UpdateAccessMode(context.Background(), lead, UpdateAccessModeRequest{UserID: u.ID, AccessMode: "INHERIT_TEAM_ACCESS"})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{100: true, 101: false}, f.repo.Effective(u.ID))

	_, err = f.svc.UpdateAccessMode(context.Background(), lead, UpdateAccessModeRequest{UserID: u.ID, AccessMode: "SOMETIMES"})
	assert.ErrorIs(t, err, access.ErrInvalidMode)
}

func TestUpdateAccessModeUnknownFeatureLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	u := f.repo.addUser("Ada", 1)
	before, _ := f.repo.Memory.Snapshot()

	_, err := f.svc.UpdateAccessMode(context.Background(), admin, UpdateAccessModeRequest{
		UserID:                      u.ID,
		AccessMode:                  "OVERRIDE_TEAM_ACCESS",
		FeatureAccessDetailsWrapper: &FeatureAccessDetails{FeatureAccessWrapperList: []FeatureChoice{{FeatureID: 999, Access: true}}},
	})
	assert.ErrorIs(t, err, access.ErrUnknownFeature)
	after, _ := f.repo.Memory.Snapshot()
	assert.Equal(t, before, after)
	assert.Empty(t, f.repo.audit)
}

func TestVisibilityRules(t *testing.T) {
	f := newFixture()
	mine := f.repo.addUser("Ada", 1)
	other := f.repo.addUser("Bo", 2)
	self := shared.Principal{UserID: other.ID, Role: shared.RoleUser, TeamID: 2}

	list, err := f.svc.List(context.Background(), lead)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	_, err = f.svc.Get(context.Background(), lead, other.ID)
	assert.ErrorIs(t, err, access.ErrForbidden)
	_, err = f.svc.Get(context.Background(), self, other.ID)
	assert.NoError(t, err)
	_, err = f.svc.Permissions(context.Background(), self, mine.ID)
	assert.ErrorIs(t, err, access.ErrForbidden)
	_, err = f.svc.DashboardAuditLog(context.Background(), self, other.ID)
	assert.NoError(t, err)
	_, err = f.svc.DashboardAuditLog(context.Background(), self, mine.ID)
	assert.ErrorIs(t, err, access.ErrForbidden)
}

// ============================================================================
// HANDLER TESTS
// ============================================================================

func TestHandlerRoutes(t *testing.T) {
	f := newFixture()
	u := f.repo.addUser("Ada", 1)
	r := chi.NewRouter()
	r.Route("/user", NewHandler(nil, f.svc, rbac.Middleware{}).MountRoutes)

	send := func(p shared.Principal, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}
	member := shared.Principal{UserID: u.ID, Role: shared.RoleUser, TeamID: 1}

	assert.Equal(t, http.StatusOK, send(lead, http.MethodGet, "/user/getAll", "").Code)
	assert.Equal(t, http.StatusOK, send(lead, http.MethodGet, "/user/teamId/?teamId=1", "").Code)
	assert.Equal(t, http.StatusForbidden, send(lead, http.MethodGet, "/user/teamId/?teamId=2", "").Code)
	assert.Equal(t, http.StatusForbidden, send(member, http.MethodGet, "/user/getAll", "").Code)
	assert.Equal(t, http.StatusOK, send(member, http.MethodGet, fmt.Sprintf("/user/getUser?userId=%d", u.ID), "").Code)
	assert.Equal(t, http.StatusBadRequest, send(admin, http.MethodPost, "/user/addNew", `{"name":"Bo"}`).Code)

	rec := send(admin, http.MethodPost, "/user/addNew", `{"name":"Bo","empId":"E9","email":"bo@example.com","teamId":2,"inheritTeamAccess":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accessMode":"INHERIT_TEAM_ACCESS"`)

	rec = send(lead, http.MethodPost, "/user/updateAccessMode",
		fmt.Sprintf(`{"userId":%d,"accessMode":"OVERRIDE_TEAM_ACCESS","featureAccessDetailsWrapper":{"featureAccessWrapperList":[{"featureId":100,"access":true}]}}`, u.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "userAccessControlDTOS")

	rec = send(member, http.MethodGet, fmt.Sprintf("/user/user-permissions?userId=%d", u.ID), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusForbidden, send(member, http.MethodPost, "/user/updateAccessMode", "{}").Code)
	assert.Equal(t, http.StatusOK, send(member, http.MethodGet, "/user/userDashboard/auditLog", "").Code)
	assert.Equal(t, http.StatusNoContent, send(lead, http.MethodPost, fmt.Sprintf("/user/deleteUser?userId=%d", u.ID), "").Code)
}
