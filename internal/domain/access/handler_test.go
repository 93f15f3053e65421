package access

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/caresafe/caresafe/internal/platform/auth"
)

func newTestHandler(t *testing.T, repo RelationshipRepository) (*Handler, *Workflow) {
	t.Helper()
	sink := newAuditSink()
	wf := NewWorkflow(&mockEmergencyLogs{}, sink.Ledger, zerolog.Nop(), 10*time.Minute)
	gate := NewGate(repo, wf, zerolog.Nop())
	// subject-1 is the only subject, and it is self-owned.
	owners := func(ctx context.Context, tenantID, subjectID string) (string, error) {
		if subjectID != "subject-1" {
			return "", ErrNotFound
		}
		return subjectID, nil
	}
	return NewHandler(gate, wf, owners), wf
}

func seedEmergencyDelegation(t *testing.T, repo RelationshipRepository, actorID string) {
	t.Helper()
	if err := repo.Set(context.Background(), &Relationship{
		TenantID: "tenant_a", ActorID: actorID, SubjectID: "subject-1", Permission: EmergencyOnly,
	}); err != nil {
		t.Fatalf("seed delegation: %v", err)
	}
}

func doRequest(h *Handler, method, target, body string, p auth.Principal) *httptest.ResponseRecorder {
	e := echo.New()
	g := e.Group("/api/v1")
	h.RegisterRoutes(g)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_SetPermission(t *testing.T) {
	repo := newMockRelRepo()
	h, _ := newTestHandler(t, repo)

	owner := auth.Principal{ActorID: "subject-1", TenantID: "tenant_a", Roles: []string{auth.RolePatient}}
	rec := doRequest(h, http.MethodPut, "/api/v1/subjects/subject-1/permissions",
		`{"actor_id":"fam-1","permission":"limited","can_view_health_data":true}`, owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	stored, err := repo.Get(context.Background(), "tenant_a", "fam-1", "subject-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Permission != Limited {
		t.Errorf("Permission = %s, want limited", stored.Permission)
	}
	if !stored.CanViewHealthData {
		t.Error("CanViewHealthData not stored")
	}
}

func TestHandler_SetPermission_OnlyOwner(t *testing.T) {
	h, _ := newTestHandler(t, newMockRelRepo())

	other := auth.Principal{ActorID: "someone-else", TenantID: "tenant_a", Roles: []string{auth.RolePatient}}
	rec := doRequest(h, http.MethodPut, "/api/v1/subjects/subject-1/permissions",
		`{"actor_id":"fam-1","permission":"full"}`, other)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHandler_SetPermission_RejectsUnknownLevel(t *testing.T) {
	h, _ := newTestHandler(t, newMockRelRepo())

	owner := auth.Principal{ActorID: "subject-1", TenantID: "tenant_a", Roles: []string{auth.RolePatient}}
	rec := doRequest(h, http.MethodPut, "/api/v1/subjects/subject-1/permissions",
		`{"actor_id":"fam-1","permission":"superpowers"}`, owner)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_ListPermissions(t *testing.T) {
	repo := newMockRelRepo()
	repo.Set(context.Background(), &Relationship{
		TenantID: "tenant_a", ActorID: "fam-1", SubjectID: "subject-1", Permission: ViewOnly,
	})
	h, _ := newTestHandler(t, repo)

	owner := auth.Principal{ActorID: "subject-1", TenantID: "tenant_a", Roles: []string{auth.RolePatient}}
	rec := doRequest(h, http.MethodGet, "/api/v1/subjects/subject-1/permissions", "", owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var rels []*Relationship
	if err := json.Unmarshal(rec.Body.Bytes(), &rels); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("len = %d, want 1", len(rels))
	}

	stranger := auth.Principal{ActorID: "stranger", TenantID: "tenant_a", Roles: []string{auth.RolePatient}}
	rec = doRequest(h, http.MethodGet, "/api/v1/subjects/subject-1/permissions", "", stranger)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for non-owner non-clinical", rec.Code)
	}
}

func TestHandler_EmergencyAccess(t *testing.T) {
	repo := newMockRelRepo()
	seedEmergencyDelegation(t, repo, "fam-em")
	h, wf := newTestHandler(t, repo)

	fam := auth.Principal{ActorID: "fam-em", TenantID: "tenant_a", Roles: []string{auth.RoleFamilyMember}}
	rec := doRequest(h, http.MethodPost, "/api/v1/emergency-access",
		`{"subject_id":"subject-1","reason":"subject unresponsive"}`, fam)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body: %s", rec.Code, rec.Body.String())
	}

	var grant EmergencyGrant
	if err := json.Unmarshal(rec.Body.Bytes(), &grant); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if grant.Scope != ScopeCriticalInfoOnly {
		t.Errorf("Scope = %s, want critical_info_only", grant.Scope)
	}
	if wf.ActiveGrant("fam-em", "subject-1") == nil {
		t.Error("grant not active after request")
	}
}

func TestHandler_EmergencyAccess_ReasonRequired(t *testing.T) {
	repo := newMockRelRepo()
	seedEmergencyDelegation(t, repo, "fam-em")
	h, _ := newTestHandler(t, repo)

	fam := auth.Principal{ActorID: "fam-em", TenantID: "tenant_a", Roles: []string{auth.RoleFamilyMember}}
	rec := doRequest(h, http.MethodPost, "/api/v1/emergency-access",
		`{"subject_id":"subject-1"}`, fam)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without reason", rec.Code)
	}
}

func TestHandler_EmergencyAccess_RequiresDelegation(t *testing.T) {
	repo := newMockRelRepo()
	// A non-emergency delegation does not qualify either.
	repo.Set(context.Background(), &Relationship{
		TenantID: "tenant_a", ActorID: "fam-view", SubjectID: "subject-1",
		Permission: ViewOnly, CanViewHealthData: true,
	})
	h, wf := newTestHandler(t, repo)

	for _, actor := range []string{"stranger", "fam-view"} {
		p := auth.Principal{ActorID: actor, TenantID: "tenant_a", Roles: []string{auth.RoleFamilyMember}}
		rec := doRequest(h, http.MethodPost, "/api/v1/emergency-access",
			`{"subject_id":"subject-1","reason":"subject unresponsive"}`, p)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("actor %s: status = %d, want 403", actor, rec.Code)
		}
	}

	logs, total, err := wf.Logs(context.Background(), "tenant_a", "subject-1", 10, 0)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if total != 0 || len(logs) != 0 {
		t.Errorf("refused requests left %d log rows", len(logs))
	}
}

func TestHandler_EmergencyAccess_UnknownSubject(t *testing.T) {
	repo := newMockRelRepo()
	// A delegation that outlived its subject must not open a window.
	repo.Set(context.Background(), &Relationship{
		TenantID: "tenant_a", ActorID: "fam-em", SubjectID: "gone-subject", Permission: EmergencyOnly,
	})
	h, wf := newTestHandler(t, repo)

	fam := auth.Principal{ActorID: "fam-em", TenantID: "tenant_a", Roles: []string{auth.RoleFamilyMember}}
	rec := doRequest(h, http.MethodPost, "/api/v1/emergency-access",
		`{"subject_id":"gone-subject","reason":"subject unresponsive"}`, fam)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	logs, total, err := wf.Logs(context.Background(), "tenant_a", "gone-subject", 10, 0)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if total != 0 || len(logs) != 0 {
		t.Errorf("refused request left %d log rows", len(logs))
	}
}

func TestHandler_EmergencyAccess_RateLimited(t *testing.T) {
	repo := newMockRelRepo()
	seedEmergencyDelegation(t, repo, "fam-em")
	h, _ := newTestHandler(t, repo)

	fam := auth.Principal{ActorID: "fam-em", TenantID: "tenant_a", Roles: []string{auth.RoleFamilyMember}}
	for i := 0; i < 10; i++ {
		rec := doRequest(h, http.MethodPost, "/api/v1/emergency-access",
			`{"subject_id":"subject-1","reason":"subject unresponsive"}`, fam)
		if rec.Code != http.StatusCreated {
			t.Fatalf("request %d: status = %d, want 201", i, rec.Code)
		}
	}

	rec := doRequest(h, http.MethodPost, "/api/v1/emergency-access",
		`{"subject_id":"subject-1","reason":"subject unresponsive"}`, fam)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 past the hourly limit", rec.Code)
	}
}

func TestHandler_EmergencyLogs(t *testing.T) {
	h, wf := newTestHandler(t, newMockRelRepo())

	if _, err := wf.RequestAccess(context.Background(), "tenant_a", "fam-em", "family_member", "subject-1", "subject unresponsive"); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}

	reviewer := auth.Principal{ActorID: "dr-1", TenantID: "tenant_a", Roles: []string{auth.RoleClinicalAdvisor}}
	rec := doRequest(h, http.MethodGet, "/api/v1/emergency-access/logs?subject_id=subject-1", "", reviewer)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 {
		t.Errorf("total = %d, want 1", body.Total)
	}

	rec = doRequest(h, http.MethodGet, "/api/v1/emergency-access/logs", "", reviewer)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without subject_id", rec.Code)
	}

	fam := auth.Principal{ActorID: "fam-em", TenantID: "tenant_a", Roles: []string{auth.RoleFamilyMember}}
	rec = doRequest(h, http.MethodGet, "/api/v1/emergency-access/logs?subject_id=subject-1", "", fam)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for non-clinical", rec.Code)
	}
}
