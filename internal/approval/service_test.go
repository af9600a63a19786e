package approval_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/evidentry/evidentry/internal/approval"
	"github.com/evidentry/evidentry/internal/council"
	"github.com/evidentry/evidentry/internal/identity"
	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ctx = context.Background()

const assessmentID = "asmt_1"

type fixture struct {
	registry *council.Registry
	recorder *approval.Recorder
	entries  *ledger.MemoryStore
	council  *council.Council
	members  []*council.Membership
}

// newFixture builds a council with n PARTNER members and a fully wired
// recorder over the memory stores.
func newFixture(t *testing.T, quorum, n int, unanimous bool, policy council.ApprovalPolicy) *fixture {
	t.Helper()

	entries := ledger.NewMemoryStore()
	store := approval.NewMemoryStore(entries)
	registry := council.NewRegistry(council.NewMemoryRepository(), store, entries, zap.NewNop())
	recorder := approval.NewRecorder(registry, store, entries, zap.NewNop())

	c, err := registry.CreateCouncil(ctx, "credit risk council", quorum, unanimous, policy)
	if err != nil {
		t.Fatal(err)
	}
	admin := identity.Principal{UserID: "admin_1", Role: identity.RoleAdmin}
	members := make([]*council.Membership, n)
	for i := range members {
		m, err := registry.AddOrReactivate(ctx, c.ID, "user_"+string(rune('a'+i)), council.RolePartner, "", admin)
		if err != nil {
			t.Fatal(err)
		}
		members[i] = m
	}
	return &fixture{registry: registry, recorder: recorder, entries: entries, council: c, members: members}
}

func principalFor(m *council.Membership) identity.Principal {
	return identity.Principal{UserID: m.UserID, Role: identity.RoleReviewer}
}

func (f *fixture) submit(t *testing.T, m *council.Membership, step string, status approval.Status) *approval.QuorumResult {
	t.Helper()
	_, _, quorum, err := f.recorder.SubmitDecision(ctx, approval.SubmitRequest{
		AssessmentID: assessmentID,
		CouncilID:    f.council.ID,
		MembershipID: m.ID,
		Step:         step,
		Status:       status,
	}, principalFor(m))
	if err != nil {
		t.Fatal(err)
	}
	return quorum
}

func TestSubmitDecision_writesDecisionAndChainedEntry(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})

	d, entry, quorum, err := f.recorder.SubmitDecision(ctx, approval.SubmitRequest{
		AssessmentID: assessmentID,
		CouncilID:    f.council.ID,
		MembershipID: f.members[0].ID,
		Step:         approval.StepFinalReview,
		Status:       approval.StatusApproved,
		Notes:        "exposure within appetite",
	}, principalFor(f.members[0]))
	if err != nil {
		t.Fatal(err)
	}

	if d.ID == uuid.Nil {
		t.Error("decision id not assigned")
	}
	if d.ReasonCodes == nil {
		t.Error("reason codes should default to empty, not nil")
	}
	if entry.Type != ledger.EntryTypeApproval {
		t.Errorf("expected APPROVAL entry, got %s", entry.Type)
	}
	if entry.ApprovalID == nil || *entry.ApprovalID != d.ID {
		t.Error("entry does not reference the decision")
	}
	if entry.ActorID != f.members[0].UserID || entry.ActorRole != string(council.RolePartner) {
		t.Errorf("unexpected actor on entry: %s/%s", entry.ActorID, entry.ActorRole)
	}
	if !quorum.Approved || quorum.TotalApprovals != 1 {
		t.Errorf("unexpected quorum result: %+v", quorum)
	}

	payload, err := ledger.DecodePayload(entry.Type, entry.Payload)
	if err != nil {
		t.Fatal(err)
	}
	ap := payload.(*ledger.ApprovalPayload)
	if ap.Status != string(approval.StatusApproved) || ap.Step != approval.StepFinalReview {
		t.Errorf("unexpected payload: %+v", ap)
	}
}

func TestSubmitDecision_rejectedBecomesRejectionEntry(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})

	_, entry, _, err := f.recorder.SubmitDecision(ctx, approval.SubmitRequest{
		AssessmentID: assessmentID,
		CouncilID:    f.council.ID,
		MembershipID: f.members[0].ID,
		Step:         approval.StepFinalReview,
		Status:       approval.StatusRejected,
		ReasonCodes:  []string{"COLLATERAL_SHORTFALL"},
	}, principalFor(f.members[0]))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Type != ledger.EntryTypeRejection {
		t.Errorf("expected REJECTION entry, got %s", entry.Type)
	}
}

func TestSubmitDecision_validation(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})
	base := approval.SubmitRequest{
		AssessmentID: assessmentID,
		CouncilID:    f.council.ID,
		MembershipID: f.members[0].ID,
		Step:         approval.StepFinalReview,
		Status:       approval.StatusApproved,
	}
	actor := principalFor(f.members[0])

	var verr *approval.ErrValidation
	req := base
	req.Status = "MAYBE"
	if _, _, _, err := f.recorder.SubmitDecision(ctx, req, actor); !errors.As(err, &verr) {
		t.Errorf("invalid status: expected validation error, got %v", err)
	}
	req = base
	req.Step = ""
	if _, _, _, err := f.recorder.SubmitDecision(ctx, req, actor); !errors.As(err, &verr) {
		t.Errorf("empty step: expected validation error, got %v", err)
	}
	req = base
	req.AssessmentID = ""
	if _, _, _, err := f.recorder.SubmitDecision(ctx, req, actor); !errors.As(err, &verr) {
		t.Errorf("empty assessment: expected validation error, got %v", err)
	}
}

func TestSubmitDecision_observerForbidden(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})
	admin := identity.Principal{UserID: "admin_1", Role: identity.RoleAdmin}
	obs, err := f.registry.AddOrReactivate(ctx, f.council.ID, "observer_1", council.RoleObserver, "", admin)
	if err != nil {
		t.Fatal(err)
	}

	_, _, _, err = f.recorder.SubmitDecision(ctx, approval.SubmitRequest{
		AssessmentID: assessmentID,
		CouncilID:    f.council.ID,
		MembershipID: obs.ID,
		Step:         approval.StepFinalReview,
		Status:       approval.StatusApproved,
	}, principalFor(obs))
	if !errors.Is(err, approval.ErrForbidden) {
		t.Errorf("expected ErrForbidden for observer, got %v", err)
	}
}

func TestSubmitDecision_revokedMembershipForbidden(t *testing.T) {
	f := newFixture(t, 1, 2, false, council.ApprovalPolicy{})
	admin := identity.Principal{UserID: "admin_1", Role: identity.RoleAdmin}
	if _, err := f.registry.Revoke(ctx, f.members[0].ID, "", admin); err != nil {
		t.Fatal(err)
	}

	_, _, _, err := f.recorder.SubmitDecision(ctx, approval.SubmitRequest{
		AssessmentID: assessmentID,
		CouncilID:    f.council.ID,
		MembershipID: f.members[0].ID,
		Step:         approval.StepFinalReview,
		Status:       approval.StatusApproved,
	}, principalFor(f.members[0]))
	if !errors.Is(err, approval.ErrForbidden) {
		t.Errorf("expected ErrForbidden for revoked membership, got %v", err)
	}
}

func TestSubmitDecision_membershipOfOtherCouncil(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})
	other, err := f.registry.CreateCouncil(ctx, "other council", 1, false, council.ApprovalPolicy{})
	if err != nil {
		t.Fatal(err)
	}

	_, _, _, err = f.recorder.SubmitDecision(ctx, approval.SubmitRequest{
		AssessmentID: assessmentID,
		CouncilID:    other.ID,
		MembershipID: f.members[0].ID,
		Step:         approval.StepFinalReview,
		Status:       approval.StatusApproved,
	}, principalFor(f.members[0]))
	if !errors.Is(err, council.ErrMembershipNotFound) {
		t.Errorf("expected ErrMembershipNotFound, got %v", err)
	}
}

func TestSubmitDecision_archivedCouncil(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})
	if _, err := f.registry.ArchiveCouncil(ctx, f.council.ID); err != nil {
		t.Fatal(err)
	}

	_, _, _, err := f.recorder.SubmitDecision(ctx, approval.SubmitRequest{
		AssessmentID: assessmentID,
		CouncilID:    f.council.ID,
		MembershipID: f.members[0].ID,
		Step:         approval.StepFinalReview,
		Status:       approval.StatusApproved,
	}, principalFor(f.members[0]))
	if !errors.Is(err, council.ErrCouncilArchived) {
		t.Errorf("expected ErrCouncilArchived, got %v", err)
	}
}

func TestSubmitDecision_actorMustOwnMembership(t *testing.T) {
	f := newFixture(t, 1, 2, false, council.ApprovalPolicy{})

	_, _, _, err := f.recorder.SubmitDecision(ctx, approval.SubmitRequest{
		AssessmentID: assessmentID,
		CouncilID:    f.council.ID,
		MembershipID: f.members[0].ID,
		Step:         approval.StepFinalReview,
		Status:       approval.StatusApproved,
	}, principalFor(f.members[1]))
	if !errors.Is(err, approval.ErrForbidden) {
		t.Errorf("expected ErrForbidden for foreign membership, got %v", err)
	}
}

func TestQuorum_twoOfThree(t *testing.T) {
	f := newFixture(t, 2, 3, false, council.ApprovalPolicy{})

	q := f.submit(t, f.members[0], approval.StepFinalReview, approval.StatusApproved)
	if q.Approved || q.TotalApprovals != 1 {
		t.Errorf("one approval should not meet quorum 2: %+v", q)
	}

	f.submit(t, f.members[2], approval.StepFinalReview, approval.StatusPending)
	q = f.submit(t, f.members[1], approval.StepFinalReview, approval.StatusApproved)
	if !q.Approved || !q.QuorumMet || q.TotalApprovals != 2 || q.RequiredQuorum != 2 {
		t.Errorf("2 APPROVED + 1 PENDING should meet quorum 2: %+v", q)
	}
}

func TestQuorum_unanimityOverridesCount(t *testing.T) {
	f := newFixture(t, 2, 3, true, council.ApprovalPolicy{})

	f.submit(t, f.members[0], approval.StepFinalReview, approval.StatusApproved)
	f.submit(t, f.members[2], approval.StepFinalReview, approval.StatusPending)
	q := f.submit(t, f.members[1], approval.StepFinalReview, approval.StatusApproved)

	if q.Approved {
		t.Errorf("unanimity with a PENDING voter should not approve: %+v", q)
	}
	if !q.QuorumMet || q.TotalApprovals != 2 {
		t.Errorf("quorumMet should still report the raw count: %+v", q)
	}

	f.submit(t, f.members[2], approval.StepFinalReview, approval.StatusApproved)
	q2, err := f.recorder.Evaluator().Evaluate(ctx, assessmentID, f.council.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !q2.Approved || q2.TotalApprovals != 3 {
		t.Errorf("all approved should satisfy unanimity: %+v", q2)
	}
}

func TestQuorum_rejectionVetoPolicy(t *testing.T) {
	veto := newFixture(t, 2, 3, false, council.ApprovalPolicy{RejectionVeto: true})
	veto.submit(t, veto.members[0], approval.StepFinalReview, approval.StatusApproved)
	veto.submit(t, veto.members[1], approval.StepFinalReview, approval.StatusApproved)
	q := veto.submit(t, veto.members[2], approval.StepFinalReview, approval.StatusRejected)
	if q.Approved {
		t.Errorf("veto policy should defeat a met quorum: %+v", q)
	}
	if !q.QuorumMet || q.TotalApprovals != 2 {
		t.Errorf("quorumMet should still report the raw count: %+v", q)
	}

	noVeto := newFixture(t, 2, 3, false, council.ApprovalPolicy{})
	noVeto.submit(t, noVeto.members[0], approval.StepFinalReview, approval.StatusApproved)
	noVeto.submit(t, noVeto.members[1], approval.StepFinalReview, approval.StatusApproved)
	q = noVeto.submit(t, noVeto.members[2], approval.StepFinalReview, approval.StatusRejected)
	if !q.Approved {
		t.Errorf("without the veto policy a rejection is simply not counted: %+v", q)
	}
}

func TestQuorum_advisoryStepsIgnored(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})

	q := f.submit(t, f.members[0], "initial_review", approval.StatusApproved)
	if q.Approved || q.TotalApprovals != 0 {
		t.Errorf("advisory-step approval must not enter quorum math: %+v", q)
	}

	q = f.submit(t, f.members[0], approval.StepFinalReview, approval.StatusApproved)
	if !q.Approved || q.TotalApprovals != 1 {
		t.Errorf("final-step approval should count: %+v", q)
	}
}

func TestQuorum_revisionCountsLatestOnly(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})

	q := f.submit(t, f.members[0], approval.StepFinalReview, approval.StatusRejected)
	if q.Approved {
		t.Errorf("rejected decision should not approve: %+v", q)
	}

	q = f.submit(t, f.members[0], approval.StepFinalReview, approval.StatusApproved)
	if !q.Approved || q.TotalApprovals != 1 {
		t.Errorf("revised decision should govern: %+v", q)
	}

	decisions, err := f.recorder.ListDecisions(ctx, assessmentID, f.council.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 2 {
		t.Errorf("revision must preserve the prior row, got %d rows", len(decisions))
	}
	if decisions[0].ID == decisions[1].ID {
		t.Error("revision must insert a new row")
	}

	entries, err := f.entries.Entries(ctx, assessmentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("each revision needs its own ledger entry, got %d", len(entries))
	}
}

func TestSubmitDecision_concurrentSubmissionsNeverFork(t *testing.T) {
	f := newFixture(t, 2, 4, false, council.ApprovalPolicy{})

	var wg sync.WaitGroup
	for _, m := range f.members {
		wg.Add(1)
		go func(m *council.Membership) {
			defer wg.Done()
			_, _, _, err := f.recorder.SubmitDecision(ctx, approval.SubmitRequest{
				AssessmentID: assessmentID,
				CouncilID:    f.council.ID,
				MembershipID: m.ID,
				Step:         approval.StepFinalReview,
				Status:       approval.StatusApproved,
			}, principalFor(m))
			if err != nil {
				t.Error(err)
			}
		}(m)
	}
	wg.Wait()

	res, err := ledger.NewVerifier(f.entries).Verify(ctx, assessmentID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Verified || res.Entries != len(f.members) {
		t.Errorf("concurrent submissions broke the chain: %+v", res)
	}
}

func TestAppendAdminEntry(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})
	admin := identity.Principal{UserID: "admin_1", Role: identity.RoleAdmin}

	payload, err := ledger.MarshalPayload(&ledger.EscalationPayload{
		Reason: "exposure above council mandate", EscalatedTo: "group risk committee",
	})
	if err != nil {
		t.Fatal(err)
	}
	entry, err := f.recorder.AppendAdminEntry(ctx, approval.AdminEntryRequest{
		AssessmentID: assessmentID,
		Type:         ledger.EntryTypeEscalation,
		Payload:      payload,
	}, admin)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Type != ledger.EntryTypeEscalation || entry.ActorID != "admin_1" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestAppendAdminEntry_rejectsDecisionTypes(t *testing.T) {
	f := newFixture(t, 1, 1, false, council.ApprovalPolicy{})
	admin := identity.Principal{UserID: "admin_1", Role: identity.RoleAdmin}

	var verr *approval.ErrValidation
	for _, typ := range []ledger.EntryType{ledger.EntryTypeApproval, ledger.EntryTypeRejection} {
		_, err := f.recorder.AppendAdminEntry(ctx, approval.AdminEntryRequest{
			AssessmentID: assessmentID,
			Type:         typ,
		}, admin)
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected validation error, got %v", typ, err)
		}
	}
}

func TestAppendAdminEntry_observerCommentPolicy(t *testing.T) {
	admin := identity.Principal{UserID: "admin_1", Role: identity.RoleAdmin}
	payload, err := ledger.MarshalPayload(&ledger.CommentPayload{Text: "covenant waiver expires in Q4"})
	if err != nil {
		t.Fatal(err)
	}

	closed := newFixture(t, 1, 1, false, council.ApprovalPolicy{})
	obs, err := closed.registry.AddOrReactivate(ctx, closed.council.ID, "observer_1", council.RoleObserver, "", admin)
	if err != nil {
		t.Fatal(err)
	}
	_, err = closed.recorder.AppendAdminEntry(ctx, approval.AdminEntryRequest{
		AssessmentID: assessmentID,
		Type:         ledger.EntryTypeComment,
		Payload:      payload,
		MembershipID: &obs.ID,
	}, principalFor(obs))
	if !errors.Is(err, approval.ErrForbidden) {
		t.Errorf("observer comment without policy: expected ErrForbidden, got %v", err)
	}

	open := newFixture(t, 1, 1, false, council.ApprovalPolicy{LedgerObserverComments: true})
	obs2, err := open.registry.AddOrReactivate(ctx, open.council.ID, "observer_1", council.RoleObserver, "", admin)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := open.recorder.AppendAdminEntry(ctx, approval.AdminEntryRequest{
		AssessmentID: assessmentID,
		Type:         ledger.EntryTypeComment,
		Payload:      payload,
		MembershipID: &obs2.ID,
	}, principalFor(obs2))
	if err != nil {
		t.Fatal(err)
	}
	if entry.ActorRole != string(council.RoleObserver) {
		t.Errorf("expected observer actor role, got %s", entry.ActorRole)
	}

	_, err = open.recorder.AppendAdminEntry(ctx, approval.AdminEntryRequest{
		AssessmentID: assessmentID,
		Type:         ledger.EntryTypeEscalation,
		MembershipID: &obs2.ID,
	}, principalFor(obs2))
	if !errors.Is(err, approval.ErrForbidden) {
		t.Errorf("observer escalation: expected ErrForbidden, got %v", err)
	}
}

func TestAssessmentsForMembership_distinct(t *testing.T) {
	store := approval.NewMemoryStore(ledger.NewMemoryStore())

	m := uuid.New()
	for _, asmt := range []string{"asmt_1", "asmt_1", "asmt_2"} {
		_, err := store.SubmitDecision(ctx, &approval.Decision{
			AssessmentID: asmt,
			CouncilID:    uuid.New(),
			MembershipID: m,
			Step:         approval.StepFinalReview,
			Status:       approval.StatusApproved,
		}, ledger.AppendRequest{
			AssessmentID: asmt,
			Type:         ledger.EntryTypeApproval,
			ActorID:      "user_a",
			ActorRole:    string(council.RolePartner),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.AssessmentsForMembership(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 distinct assessments, got %v", got)
	}
}
