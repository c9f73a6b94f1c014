package requests

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamaccess/team-access-manager/internal/access"
	"github.com/teamaccess/team-access-manager/internal/entitlements"
	"github.com/teamaccess/team-access-manager/internal/entitlements/entitlementstest"
	"github.com/teamaccess/team-access-manager/internal/platform/db"
	"github.com/teamaccess/team-access-manager/internal/rbac"
	"github.com/teamaccess/team-access-manager/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	*entitlementstest.Memory
	requests  map[int64]*access.AccessRequest
	people    map[int64]Requester
	approvers map[int64][]string
	inactive  map[int64]bool
	keys      map[string]bool
	approvals []shared.ApprovalLog
	audit     []shared.AuditEntry
	nextID    int64
}

func newMockRepository() *mockRepository {
	m := &mockRepository{
		Memory:    entitlementstest.NewMemory(),
		requests:  make(map[int64]*access.AccessRequest),
		people:    make(map[int64]Requester),
		approvers: map[int64][]string{1: {"Lead"}},
		inactive:  make(map[int64]bool),
		keys:      make(map[string]bool),
		nextID:    500,
	}
	for _, teamID := range []int64{1, 2} {
		m.PutTeamEntry(access.TeamAccessEntry{TeamID: teamID, FeatureID: 100, FeatureName: "Reports", HasAccess: true})
		m.PutTeamEntry(access.TeamAccessEntry{TeamID: teamID, FeatureID: 101, FeatureName: "Exports"})
	}
	m.addUser(10, "Ada", 1)
	m.addUser(11, "Bo", 2)
	m.addUser(2, "Lead", 1)
	return m
}

func (m *mockRepository) addUser(id int64, name string, teamID int64) {
	m.PutUser(access.User{ID: id, Name: name, TeamID: teamID, AccessMode: access.InheritTeamAccess, Active: true})
	m.people[id] = Requester{ID: id, Name: name, Email: strings.ToLower(name) + "@example.com", TeamID: teamID, TeamName: fmt.Sprintf("team-%d", teamID)}
}

func (m *mockRepository) ListPending(_ context.Context, teamID int64) ([]access.AccessRequest, error) {
	out := []access.AccessRequest{}
	for _, req := range m.requests {
		if req.Pending() && (teamID == 0 || m.people[req.UserID].TeamID == teamID) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) PendingForUser(_ context.Context, userID int64) ([]access.AccessRequest, error) {
	out := []access.AccessRequest{}
	for _, req := range m.requests {
		if req.Pending() && req.UserID == userID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (m *mockRepository) Requester(_ context.Context, userID int64) (Requester, error) {
	who, ok := m.people[userID]
	if !ok {
		return Requester{}, fmt.Errorf("%w: user %d", access.ErrNotFound, userID)
	}
	who.AccessMode = m.User(userID).AccessMode
	return who, nil
}

func (m *mockRepository) Snapshot(ctx context.Context, userID int64) (access.Snapshot, error) {
	return entitlements.LoadSnapshot(ctx, m.Memory, userID, false)
}

func (m *mockRepository) Request(_ context.Context, requestID int64) (access.AccessRequest, error) {
	req, ok := m.requests[requestID]
	if !ok {
		return access.AccessRequest{}, fmt.Errorf("%w %d", ErrRequestNotFound, requestID)
	}
	return *req, nil
}

func (m *mockRepository) History(_ context.Context, requestID int64) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, log := range m.approvals {
		if log.Module == shared.ModuleAccessRequest && log.RefID == requestID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{m})
}

type mockTxRepo struct {
	*mockRepository
}

func (t *mockTxRepo) LockRequest(_ context.Context, requestID int64) (access.AccessRequest, error) {
	req, ok := t.requests[requestID]
	if !ok {
		return access.AccessRequest{}, fmt.Errorf("%w %d", ErrRequestNotFound, requestID)
	}
	return *req, nil
}

func (t *mockTxRepo) LockPendingForUser(ctx context.Context, userID int64) ([]access.AccessRequest, error) {
	return t.PendingForUser(ctx, userID)
}

func (t *mockTxRepo) Approvers(_ context.Context, teamID int64) ([]string, error) {
	return t.approvers[teamID], nil
}

func (t *mockTxRepo) TeamActive(_ context.Context, teamID int64) (bool, error) {
	return !t.inactive[teamID], nil
}

func (t *mockTxRepo) Insert(_ context.Context, req access.AccessRequest) (access.AccessRequest, error) {
	t.nextID++
	req.ID = t.nextID
	req.Version = 1
	stored := req
	t.requests[req.ID] = &stored
	return req, nil
}

func (t *mockTxRepo) SaveStatus(_ context.Context, req access.AccessRequest, version int64) error {
	stored := t.requests[req.ID]
	if stored.Version != version {
		return db.ErrConflict
	}
	updated := req
	updated.Version = version + 1
	t.requests[req.ID] = &updated
	return nil
}

func (t *mockTxRepo) ClaimKey(_ context.Context, key string) error {
	if t.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	t.keys[key] = true
	return nil
}

func (t *mockTxRepo) RecordApproval(_ context.Context, log shared.ApprovalLog) error {
	t.approvals = append(t.approvals, log)
	return nil
}

func (t *mockTxRepo) RecordAudit(_ context.Context, entries ...shared.AuditEntry) error {
	t.audit = append(t.audit, entries...)
	return nil
}

type stubMailer struct {
	to       []string
	subjects []string
}

func (s *stubMailer) SendMail(_ context.Context, to, subject, _ string) error {
	s.to = append(s.to, to)
	s.subjects = append(s.subjects, subject)
	return nil
}

var (
	ada   = shared.Principal{UserID: 10, Name: "Ada", Role: shared.RoleUser, TeamID: 1}
	bo    = shared.Principal{UserID: 11, Name: "Bo", Role: shared.RoleUser, TeamID: 2}
	lead  = shared.Principal{UserID: 2, Name: "Lead", Role: shared.RoleTeamAdmin, TeamID: 1}
	admin = shared.Principal{UserID: 1, Name: "Root", Role: shared.RolePlatformAdmin}
	now   = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	repo   *mockRepository
	mailer *stubMailer
	svc    *Service
}

func newFixture(locker Locker) fixture {
	f := fixture{repo: newMockRepository(), mailer: &stubMailer{}}
	f.svc = NewService(f.repo, locker, f.mailer, nil)
	f.svc.now = func() time.Time { return now }
	return f
}

func grant(featureID int64) SubmitRequest {
	return SubmitRequest{UserID: ada.UserID, FeatureID: featureID, RequestType: "GRANT", RequestStatus: "PENDING"}
}

// ============================================================================
// SERVICE TESTS
// ============================================================================

func TestOpenRequest(t *testing.T) {
	f := newFixture(nil)
	view, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)

	assert.Equal(t, access.StatusPending, view.RequestStatus)
	assert.Equal(t, "Exports", view.FeatureName)
	assert.Equal(t, "Lead", view.PendingWith)
	assert.Equal(t, "ada@example.com", view.Email)
	require.Len(t, f.repo.audit, 1)
	assert.Equal(t, "Grant request raised for Exports", f.repo.audit[0].Description)
	require.Len(t, f.repo.approvals, 1)
	assert.Equal(t, shared.ApprovalSubmit, f.repo.approvals[0].Action)
}

func TestOpenRequestRejections(t *testing.T) {
	f := newFixture(nil)
	_, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), ada, grant(101))
	assert.ErrorIs(t, err, access.ErrDuplicatePending)

	_, err = f.svc.Submit(context.Background(), ada, grant(100))
	assert.ErrorIs(t, err, access.ErrRedundantRequest)

	_, err = f.svc.Submit(context.Background(), ada, grant(999))
	assert.ErrorIs(t, err, access.ErrUnknownFeature)

	_, err = f.svc.Submit(context.Background(), bo, grant(101))
	assert.ErrorIs(t, err, access.ErrForbidden)

	pending, _ := f.repo.PendingForUser(context.Background(), ada.UserID)
	assert.Len(t, pending, 1)
}

func TestApproveMovesRequesterToOverride(t *testing.T) {
	f := newFixture(nil)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)

	decided, err := f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, Version: opened.Version, RequestDecision: "APPROVED"}, "")
	require.NoError(t, err)

	assert.Equal(t, access.StatusApproved, decided.RequestStatus)
	assert.Equal(t, "Lead", decided.DecidedBy)
	assert.Equal(t, int64(2), decided.Version)
	assert.Equal(t, access.OverrideTeamAccess, f.repo.User(ada.UserID).AccessMode)
	assert.Equal(t, map[int64]bool{100: true, 101: true}, f.repo.Effective(ada.UserID))

	last := f.repo.audit[len(f.repo.audit)-1]
	assert.Equal(t, "Grant request for Exports approved by Lead; access mode changed from Inherit to Override; Exports changed from Not Granted to Granted", last.Description)
	assert.Equal(t, shared.ApprovalApprove, f.repo.approvals[len(f.repo.approvals)-1].Action)
	assert.Equal(t, []string{"ada@example.com"}, f.mailer.to)

	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, RequestDecision: "REJECTED"}, "")
	assert.ErrorIs(t, err, access.ErrRequestNotPending)
}

func TestRejectLeavesAccessAlone(t *testing.T) {
	f := newFixture(nil)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)
	before := f.repo.Effective(ada.UserID)

	decided, err := f.svc.Decide(context.Background(), admin, DecisionRequest{ID: opened.ID, RequestDecision: "REJECTED"}, "")
	require.NoError(t, err)
	assert.Equal(t, access.StatusRejected, decided.RequestStatus)
	assert.Equal(t, access.InheritTeamAccess, f.repo.User(ada.UserID).AccessMode)
	assert.Equal(t, before, f.repo.Effective(ada.UserID))
	assert.Equal(t, shared.ApprovalReject, f.repo.approvals[len(f.repo.approvals)-1].Action)
}

func TestDecideGuards(t *testing.T) {
	f := newFixture(nil)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)
	outsider := shared.Principal{UserID: 3, Role: shared.RoleTeamAdmin, TeamID: 2}

	_, err = f.svc.Decide(context.Background(), outsider, DecisionRequest{ID: opened.ID, RequestDecision: "APPROVED"}, "")
	assert.ErrorIs(t, err, access.ErrForbidden)

	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, Version: 7, RequestDecision: "APPROVED"}, "")
	assert.ErrorIs(t, err, db.ErrConflict)

	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, RequestDecision: "MAYBE"}, "")
	assert.ErrorIs(t, err, access.ErrInvalidDecision)

	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: 999, RequestDecision: "APPROVED"}, "")
	assert.ErrorIs(t, err, access.ErrNotFound)

	leadReq, err := f.svc.Submit(context.Background(), lead, SubmitRequest{UserID: lead.UserID, FeatureID: 101, RequestType: "GRANT", RequestStatus: "PENDING"})
	require.NoError(t, err)
	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: leadReq.ID, RequestDecision: "APPROVED"}, "")
	assert.ErrorIs(t, err, access.ErrForbidden)
}

func TestDecideIsIdempotentPerKey(t *testing.T) {
	f := newFixture(nil)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, RequestDecision: "APPROVED"}, "k-1")
	require.NoError(t, err)
	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, RequestDecision: "APPROVED"}, "k-1")
	assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Len(t, f.mailer.to, 1)
}

func TestDecideRespectsLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewLocker(client, time.Minute)
	f := newFixture(locker)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)

	release, err := locker.Acquire(context.Background(), shared.DecisionLockKey(opened.ID))
	require.NoError(t, err)
	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, RequestDecision: "APPROVED"}, "")
	assert.ErrorIs(t, err, shared.ErrLockHeld)
	release()

	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, RequestDecision: "APPROVED"}, "")
	require.NoError(t, err)
	assert.False(t, mr.Exists(shared.DecisionLockKey(opened.ID)))
}

func TestDecideFailureKeepsRequestPending(t *testing.T) {
	f := newFixture(nil)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)
	f.repo.FailUpsert = errors.New("disk full")

	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, RequestDecision: "APPROVED"}, "")
	require.Error(t, err)
	assert.True(t, f.repo.requests[opened.ID].Pending())
	assert.Empty(t, f.mailer.to)
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(nil)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), bo, SubmitRequest{ID: opened.ID, UserID: bo.UserID, FeatureID: 101, RequestType: "GRANT", RequestStatus: "CANCELLED"})
	assert.ErrorIs(t, err, access.ErrNotRequester)

	cancel := SubmitRequest{ID: opened.ID, UserID: ada.UserID, FeatureID: 101, RequestType: "GRANT", RequestStatus: "CANCELLED"}
	view, err := f.svc.Submit(context.Background(), ada, cancel)
	require.NoError(t, err)
	assert.Equal(t, access.StatusCancelled, view.RequestStatus)
	audits := len(f.repo.audit)
	assert.Equal(t, "Grant request for Exports cancelled by requester", f.repo.audit[audits-1].Description)

	again, err := f.svc.Submit(context.Background(), ada, cancel)
	require.NoError(t, err)
	assert.Equal(t, access.StatusCancelled, again.RequestStatus)
	assert.Len(t, f.repo.audit, audits)

	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, RequestDecision: "APPROVED"}, "")
	assert.ErrorIs(t, err, access.ErrRequestNotPending)
}

func TestListPendingScopesAndAttachesAccess(t *testing.T) {
	f := newFixture(nil)
	_, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), bo, SubmitRequest{UserID: bo.UserID, FeatureID: 100, RequestType: "REVOKE", RequestStatus: "PENDING"})
	require.NoError(t, err)

	all, err := f.svc.ListPending(context.Background(), admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.ListPending(context.Background(), lead)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, ada.UserID, mine[0].UserID)
	require.NotNil(t, mine[0].OtherFeatures)
	assert.Len(t, mine[0].OtherFeatures.TeamAccessControlDTOS, 2)
}

func TestDashboard(t *testing.T) {
	f := newFixture(nil)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)

	lines, err := f.svc.Dashboard(context.Background(), ada, ada.UserID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "Exports", lines[0].FeatureName)
	assert.False(t, lines[0].HasAccess)
	require.NotNil(t, lines[0].PendingRequestDTO)
	assert.Equal(t, opened.ID, lines[0].PendingRequestDTO.ID)
	assert.Equal(t, "Reports", lines[1].FeatureName)
	assert.Nil(t, lines[1].PendingRequestDTO)

	_, err = f.svc.Dashboard(context.Background(), bo, ada.UserID)
	assert.ErrorIs(t, err, access.ErrForbidden)
	_, err = f.svc.Dashboard(context.Background(), lead, ada.UserID)
	assert.NoError(t, err)
}

func TestInactiveTeamBlocksOpenAndDecide(t *testing.T) {
	f := newFixture(nil)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)
	f.repo.inactive[1] = true

	_, err = f.svc.Decide(context.Background(), admin, DecisionRequest{ID: opened.ID, RequestDecision: "APPROVED"}, "")
	assert.ErrorIs(t, err, ErrTeamInactive)
	assert.ErrorIs(t, err, access.ErrInvalidState)
	assert.False(t, f.repo.Effective(ada.UserID)[101], "no grant through a deleted team")
	assert.True(t, f.repo.requests[opened.ID].Pending())

	_, err = f.svc.Submit(context.Background(), ada, SubmitRequest{UserID: ada.UserID, FeatureID: 100, RequestType: "REVOKE", RequestStatus: "PENDING"})
	assert.ErrorIs(t, err, ErrTeamInactive)

	_, err = f.svc.Submit(context.Background(), bo, SubmitRequest{UserID: bo.UserID, FeatureID: 101, RequestType: "GRANT", RequestStatus: "PENDING"})
	assert.NoError(t, err, "other teams keep working")
}

func TestHistoryVisibility(t *testing.T) {
	f := newFixture(nil)
	opened, err := f.svc.Submit(context.Background(), ada, grant(101))
	require.NoError(t, err)
	_, err = f.svc.Decide(context.Background(), lead, DecisionRequest{ID: opened.ID, RequestDecision: "REJECTED"}, "")
	require.NoError(t, err)

	trail, err := f.svc.History(context.Background(), ada, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, opened.ID, trail.Request.ID)
	require.Len(t, trail.Approvals, 2)
	assert.Equal(t, shared.ApprovalSubmit, trail.Approvals[0].Action)

	_, err = f.svc.History(context.Background(), lead, opened.ID)
	assert.NoError(t, err)
	_, err = f.svc.History(context.Background(), bo, opened.ID)
	assert.ErrorIs(t, err, access.ErrForbidden)
	_, err = f.svc.History(context.Background(), ada, 9999)
	assert.ErrorIs(t, err, access.ErrNotFound)
}

// ============================================================================
// HANDLER TESTS
// ============================================================================

func TestHandlerRoutes(t *testing.T) {
	f := newFixture(nil)
	h := NewHandler(nil, f.svc, rbac.Middleware{})
	r := chi.NewRouter()
	r.Route("/team", h.MountTeamRoutes)
	r.Route("/user", h.MountUserRoutes)

	send := func(p shared.Principal, method, path, body string, headers ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := send(ada, http.MethodPost, "/user/access-request", `{"id":0,"userId":10,"featureId":101,"featureName":"Exports","requestType":"GRANT","requestStatus":"PENDING"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"requestStatus":"PENDING"`)
	assert.Equal(t, http.StatusConflict, send(ada, http.MethodPost, "/user/access-request", `{"userId":10,"featureId":101,"requestType":"GRANT","requestStatus":"PENDING"}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(ada, http.MethodPost, "/user/access-request", `{"userId":10,"featureId":101,"requestType":"MAYBE","requestStatus":"PENDING"}`).Code)

	assert.Equal(t, http.StatusForbidden, send(ada, http.MethodGet, "/team/pending-request", "").Code)
	rec = send(lead, http.MethodGet, "/team/pending-request", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "otherFeatures")

	pending, _ := f.repo.PendingForUser(context.Background(), ada.UserID)
	require.Len(t, pending, 1)
	body := fmt.Sprintf(`{"id":%d,"userId":10,"featureName":"Exports","otherFeatures":{},"requestDecision":"APPROVED"}`, pending[0].ID)
	assert.Equal(t, http.StatusOK, send(lead, http.MethodPost, "/team/request-decision", body, IdempotencyHeader, "abc").Code)
	assert.Equal(t, http.StatusConflict, send(lead, http.MethodPost, "/team/request-decision", body, IdempotencyHeader, "abc").Code)

	rec = send(ada, http.MethodGet, fmt.Sprintf("/user/access-request/history?requestId=%d", pending[0].ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"action":"APPROVE"`)
	assert.Equal(t, http.StatusForbidden, send(bo, http.MethodGet, fmt.Sprintf("/user/access-request/history?requestId=%d", pending[0].ID), "").Code)
	assert.Equal(t, http.StatusBadRequest, send(ada, http.MethodGet, "/user/access-request/history", "").Code)

	rec = send(ada, http.MethodGet, "/user/userDashboard/accessData?userId=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hasAccess":true`)
}
