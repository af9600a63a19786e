package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/evidentry/evidentry/internal/approval"
	"github.com/evidentry/evidentry/internal/council"
	"github.com/evidentry/evidentry/internal/identity"
	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/evidentry/evidentry/internal/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var ctx = context.Background()

type testEnv struct {
	router   *gin.Engine
	registry *council.Registry
	entries  *ledger.MemoryStore
	council  *council.Council
	partnerA *council.Membership
	partnerB *council.Membership
	observer *council.Membership
}

// setupEnv builds the full v1 router over memory stores: a quorum-2 council
// with two PARTNER members and one OBSERVER, plus static bearer tokens.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	entries := ledger.NewMemoryStore()
	store := approval.NewMemoryStore(entries)
	registry := council.NewRegistry(council.NewMemoryRepository(), store, entries, zap.NewNop())
	recorder := approval.NewRecorder(registry, store, entries, zap.NewNop())

	c, err := registry.CreateCouncil(ctx, "credit risk council", 2, false, council.ApprovalPolicy{})
	if err != nil {
		t.Fatal(err)
	}
	admin := identity.Principal{UserID: "admin_1", Role: identity.RoleAdmin}
	partnerA, err := registry.AddOrReactivate(ctx, c.ID, "user_a", council.RolePartner, "", admin)
	if err != nil {
		t.Fatal(err)
	}
	partnerB, err := registry.AddOrReactivate(ctx, c.ID, "user_b", council.RolePartner, "", admin)
	if err != nil {
		t.Fatal(err)
	}
	observer, err := registry.AddOrReactivate(ctx, c.ID, "observer_1", council.RoleObserver, "", admin)
	if err != nil {
		t.Fatal(err)
	}

	auth := identity.NewStaticAuthenticator(map[string]identity.Principal{
		"admin-token": admin,
		"token-a":     {UserID: "user_a", Role: identity.RoleReviewer},
		"token-b":     {UserID: "user_b", Role: identity.RoleReviewer},
		"token-obs":   {UserID: "observer_1", Role: identity.RoleReviewer},
	})

	router := gin.New()
	v1 := router.Group("/api/v1", identity.RequirePrincipal(auth))
	server.NewCouncilHandler(registry, zap.NewNop()).Register(v1)
	server.NewDecisionHandler(recorder, zap.NewNop()).Register(v1)
	server.NewLedgerHandler(entries, ledger.NewVerifier(entries), recorder, zap.NewNop()).Register(v1)

	return &testEnv{
		router:   router,
		registry: registry,
		entries:  entries,
		council:  c,
		partnerA: partnerA,
		partnerB: partnerB,
		observer: observer,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("malformed response body: %s", w.Body.String())
	}
	return resp
}

func TestCreateCouncil_requiresAdmin(t *testing.T) {
	env := setupEnv(t)
	body := gin.H{"name": "new council", "quorum": 1}

	if w := env.do(t, http.MethodPost, "/api/v1/councils", "", body); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/councils", "token-a", body); w.Code != http.StatusForbidden {
		t.Errorf("reviewer token: expected 403, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/councils", "admin-token", body); w.Code != http.StatusCreated {
		t.Errorf("admin token: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetCouncil_notFound(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/councils/00000000-0000-0000-0000-000000000001", "token-a", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["code"] != "not_found" || resp["statusCode"] != float64(http.StatusNotFound) {
		t.Errorf("unexpected error body: %v", resp)
	}
}

func TestSubmitDecision_endpoint(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/assessments/asmt_1/council/decision", "token-a", gin.H{
		"council_id":    env.council.ID,
		"membership_id": env.partnerA.ID,
		"step":          approval.StepFinalReview,
		"status":        "APPROVED",
		"notes":         "within appetite",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decode(t, w)
	for _, key := range []string{"decision", "ledger_entry", "quorum"} {
		if resp[key] == nil {
			t.Errorf("response missing %q", key)
		}
	}
	quorum := resp["quorum"].(map[string]any)
	if quorum["approved"] != false || quorum["total_approvals"] != float64(1) {
		t.Errorf("unexpected quorum: %v", quorum)
	}

	w = env.do(t, http.MethodPost, "/api/v1/assessments/asmt_1/council/decision", "token-b", gin.H{
		"council_id":    env.council.ID,
		"membership_id": env.partnerB.ID,
		"step":          approval.StepFinalReview,
		"status":        "APPROVED",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	quorum = decode(t, w)["quorum"].(map[string]any)
	if quorum["approved"] != true {
		t.Errorf("second approval should meet quorum 2: %v", quorum)
	}
}

func TestSubmitDecision_validationBody(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/assessments/asmt_1/council/decision", "token-a", gin.H{
		"council_id":    env.council.ID,
		"membership_id": env.partnerA.ID,
		"step":          approval.StepFinalReview,
		"status":        "MAYBE",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["code"] != "validation_error" {
		t.Errorf("unexpected error body: %v", resp)
	}
}

func TestSubmitDecision_observerForbidden(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/assessments/asmt_1/council/decision", "token-obs", gin.H{
		"council_id":    env.council.ID,
		"membership_id": env.observer.ID,
		"step":          approval.StepFinalReview,
		"status":        "APPROVED",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["code"] != "authorization_error" {
		t.Errorf("unexpected error body: %v", resp)
	}
}

func TestGetQuorum_requiresCouncilID(t *testing.T) {
	env := setupEnv(t)

	if w := env.do(t, http.MethodGet, "/api/v1/assessments/asmt_1/quorum", "token-a", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without council_id, got %d", w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/v1/assessments/asmt_1/quorum?council_id="+env.council.ID.String(), "token-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	quorum := decode(t, w)["quorum"].(map[string]any)
	if quorum["required_quorum"] != float64(2) || quorum["evaluated"] != float64(2) {
		t.Errorf("unexpected quorum: %v", quorum)
	}
}

func TestLedgerList_paginationAndFilter(t *testing.T) {
	env := setupEnv(t)
	admin := identity.Principal{UserID: "admin_1", Role: identity.RoleAdmin}
	for i := 0; i < 5; i++ {
		payload, _ := ledger.MarshalPayload(&ledger.CommentPayload{Text: "note"})
		_, err := env.entries.Append(ctx, ledger.AppendRequest{
			AssessmentID: "asmt_1",
			Type:         ledger.EntryTypeComment,
			Payload:      payload,
			ActorID:      admin.UserID,
			ActorRole:    admin.Role,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/assessments/asmt_1/ledger?limit=3", "token-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["count"] != float64(3) || resp["next_cursor"] == nil {
		t.Fatalf("unexpected first page: %v", resp)
	}

	cursor := resp["next_cursor"].(string)
	w = env.do(t, http.MethodGet, "/api/v1/assessments/asmt_1/ledger?limit=3&cursor="+cursor, "token-a", nil)
	resp = decode(t, w)
	if resp["count"] != float64(2) {
		t.Errorf("unexpected second page: %v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/v1/assessments/asmt_1/ledger?entryType=APPROVAL", "token-a", nil)
	if resp = decode(t, w); resp["count"] != float64(0) {
		t.Errorf("filter should exclude comments: %v", resp)
	}

	if w = env.do(t, http.MethodGet, "/api/v1/assessments/asmt_1/ledger?entryType=BOGUS", "token-a", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown filter: expected 400, got %d", w.Code)
	}
	if w = env.do(t, http.MethodGet, "/api/v1/assessments/asmt_1/ledger?cursor=%25%25", "token-a", nil); w.Code != http.StatusBadRequest {
		t.Errorf("malformed cursor: expected 400, got %d", w.Code)
	}
}

func TestAdminAppend_rejectsDecisionTypes(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/assessments/asmt_1/ledger", "admin-token", gin.H{
		"entry_type": "APPROVAL",
		"payload":    gin.H{"step": approval.StepFinalReview, "status": "APPROVED"},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAdminAppend_escalation(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/assessments/asmt_1/ledger", "admin-token", gin.H{
		"entry_type": "ESCALATION",
		"payload":    gin.H{"reason": "exposure above mandate"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	entry := decode(t, w)["entry"].(map[string]any)
	if entry["entry_type"] != "ESCALATION" || entry["hash"] == "" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestVerify_reportsTamper(t *testing.T) {
	env := setupEnv(t)
	payload, _ := ledger.MarshalPayload(&ledger.CommentPayload{Text: "note"})
	for i := 0; i < 3; i++ {
		if _, err := env.entries.Append(ctx, ledger.AppendRequest{
			AssessmentID: "asmt_1",
			Type:         ledger.EntryTypeComment,
			Payload:      payload,
			ActorID:      "admin_1",
			ActorRole:    identity.RoleAdmin,
		}); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodPost, "/api/v1/assessments/asmt_1/ledger/verify", "token-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["verified"] != true {
		t.Fatalf("fresh chain should verify: %v", resp)
	}

	stored, err := env.entries.Entries(ctx, "asmt_1")
	if err != nil {
		t.Fatal(err)
	}
	stored[1].ActorID = "intruder"

	w = env.do(t, http.MethodPost, "/api/v1/assessments/asmt_1/ledger/verify", "token-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("broken chain is still a 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["verified"] != false || resp["failure_index"] != float64(1) {
		t.Errorf("expected failure at index 1: %v", resp)
	}
}
