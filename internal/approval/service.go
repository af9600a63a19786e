// Package approval records reviewer decisions and computes quorum verdicts.
// A decision submission is the single human-originated write path into the
// evidence ledger: the decision row and its chained ledger entry are written
// as one atomic unit, so a decision without its audit record is never
// visible. Every other entry type arrives through the narrower
// administrative append path.
package approval

import (
	"context"
	"fmt"

	"github.com/evidentry/evidentry/internal/council"
	"github.com/evidentry/evidentry/internal/identity"
	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// councilRegistry is the slice of the membership registry the recorder
// needs. *council.Registry satisfies it.
type councilRegistry interface {
	GetCouncil(ctx context.Context, id uuid.UUID) (*council.Council, error)
	GetMembership(ctx context.Context, id uuid.UUID) (*council.Membership, error)
	ListActive(ctx context.Context, councilID uuid.UUID) ([]*council.Membership, error)
}

// store is the persistence interface for decisions. *PostgresStore and
// *MemoryStore satisfy it.
type store interface {
	// SubmitDecision assigns d's id and timestamp, then persists d and its
	// ledger entry atomically. req.ApprovalID is set to d's id by the store.
	SubmitDecision(ctx context.Context, d *Decision, req ledger.AppendRequest) (*ledger.Entry, error)
	// LatestForStep returns each membership's most recent decision for the
	// given (assessment, council, step), keyed by membership id.
	LatestForStep(ctx context.Context, assessmentID string, councilID uuid.UUID, step string) (map[uuid.UUID]*Decision, error)
	ListDecisions(ctx context.Context, assessmentID string, councilID uuid.UUID) ([]*Decision, error)
}

// Recorder contains the business logic for decision submission and
// administrative ledger appends.
type Recorder struct {
	councils  councilRegistry
	store     store
	entries   ledger.Store
	evaluator *Evaluator
	logger    *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(councils councilRegistry, s store, entries ledger.Store, logger *zap.Logger) *Recorder {
	return &Recorder{
		councils:  councils,
		store:     s,
		entries:   entries,
		evaluator: NewEvaluator(councils, s),
		logger:    logger,
	}
}

// Evaluator returns the quorum evaluator wired to this recorder's stores.
func (r *Recorder) Evaluator() *Evaluator { return r.evaluator }

// SubmitDecision authorizes, validates, and persists one reviewer decision
// together with its chained ledger entry, then returns the fresh quorum
// verdict for the assessment.
//
// Authorization: the membership must be ACTIVE in the named council with a
// voting role; OBSERVER is rejected. A non-admin caller may only act under
// their own membership. Archived councils accept no decisions.
func (r *Recorder) SubmitDecision(ctx context.Context, req SubmitRequest, actor identity.Principal) (*Decision, *ledger.Entry, *QuorumResult, error) {
	if req.AssessmentID == "" {
		return nil, nil, nil, &ErrValidation{Msg: "assessment id is required"}
	}
	if req.Step == "" {
		return nil, nil, nil, &ErrValidation{Msg: "step is required"}
	}
	if !ValidStatus(req.Status) {
		return nil, nil, nil, &ErrValidation{Msg: fmt.Sprintf("invalid decision status %q", req.Status)}
	}
	if req.CouncilID == uuid.Nil || req.MembershipID == uuid.Nil {
		return nil, nil, nil, &ErrValidation{Msg: "council id and membership id are required"}
	}

	m, err := r.councils.GetMembership(ctx, req.MembershipID)
	if err != nil {
		return nil, nil, nil, err
	}
	if m.CouncilID != req.CouncilID {
		return nil, nil, nil, council.ErrMembershipNotFound
	}
	if m.Status != council.MembershipStatusActive {
		return nil, nil, nil, fmt.Errorf("%w: membership is %s", ErrForbidden, m.Status)
	}
	if !council.VotingRole(m.Role) {
		return nil, nil, nil, fmt.Errorf("%w: role %s cannot submit decisions", ErrForbidden, m.Role)
	}
	if actor.Role != identity.RoleAdmin && actor.UserID != m.UserID {
		return nil, nil, nil, fmt.Errorf("%w: membership belongs to another user", ErrForbidden)
	}

	c, err := r.councils.GetCouncil(ctx, req.CouncilID)
	if err != nil {
		return nil, nil, nil, err
	}
	if c.Status == council.CouncilStatusArchived {
		return nil, nil, nil, council.ErrCouncilArchived
	}

	reasonCodes := req.ReasonCodes
	if reasonCodes == nil {
		reasonCodes = []string{}
	}
	d := &Decision{
		AssessmentID:       req.AssessmentID,
		CouncilID:          req.CouncilID,
		MembershipID:       req.MembershipID,
		Step:               req.Step,
		Status:             req.Status,
		Notes:              req.Notes,
		ReasonCodes:        reasonCodes,
		EvidenceSnapshotID: req.EvidenceSnapshotID,
		Attachments:        req.Attachments,
	}

	entryType, payload, err := decisionEntry(d)
	if err != nil {
		return nil, nil, nil, err
	}
	entry, err := r.store.SubmitDecision(ctx, d, ledger.AppendRequest{
		AssessmentID: d.AssessmentID,
		Type:         entryType,
		Payload:      payload,
		ActorID:      m.UserID,
		ActorRole:    string(m.Role),
		CouncilID:    &d.CouncilID,
		MembershipID: &d.MembershipID,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("submit decision: %w", err)
	}

	r.logger.Info("decision recorded",
		zap.String("decision_id", d.ID.String()),
		zap.String("assessment_id", d.AssessmentID),
		zap.String("membership_id", d.MembershipID.String()),
		zap.String("step", d.Step),
		zap.String("status", string(d.Status)),
		zap.String("entry_hash", entry.Hash),
	)

	quorum, err := r.evaluator.Evaluate(ctx, d.AssessmentID, d.CouncilID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("evaluate quorum: %w", err)
	}
	return d, entry, quorum, nil
}

// decisionEntry maps a decision to its ledger entry type and payload.
// REJECTED becomes a REJECTION entry; every other status, including PENDING,
// becomes an APPROVAL entry whose payload carries the exact status.
func decisionEntry(d *Decision) (ledger.EntryType, []byte, error) {
	if d.Status == StatusRejected {
		payload, err := ledger.MarshalPayload(&ledger.RejectionPayload{
			Step:               d.Step,
			Notes:              d.Notes,
			ReasonCodes:        d.ReasonCodes,
			EvidenceSnapshotID: d.EvidenceSnapshotID,
			Attachments:        d.Attachments,
		})
		return ledger.EntryTypeRejection, payload, err
	}
	payload, err := ledger.MarshalPayload(&ledger.ApprovalPayload{
		Step:               d.Step,
		Status:             string(d.Status),
		Notes:              d.Notes,
		ReasonCodes:        d.ReasonCodes,
		EvidenceSnapshotID: d.EvidenceSnapshotID,
		Attachments:        d.Attachments,
	})
	return ledger.EntryTypeApproval, payload, err
}

// AppendAdminEntry writes one non-decision entry to an assessment's ledger.
// APPROVAL and REJECTION are rejected: decision semantics only enter the
// ledger through SubmitDecision.
//
// Admins may append on any assessment. A non-admin caller must name their
// own membership; an OBSERVER membership may append only COMMENT entries,
// and only when the council's policy enables ledgered observer comments.
func (r *Recorder) AppendAdminEntry(ctx context.Context, req AdminEntryRequest, actor identity.Principal) (*ledger.Entry, error) {
	if req.AssessmentID == "" {
		return nil, &ErrValidation{Msg: "assessment id is required"}
	}
	if !ledger.ValidEntryType(req.Type) {
		return nil, &ErrValidation{Msg: fmt.Sprintf("invalid entry type %q", req.Type)}
	}
	if ledger.DecisionEntryType(req.Type) {
		return nil, &ErrValidation{Msg: fmt.Sprintf(
			"entry type %s must be submitted as a decision", req.Type)}
	}

	actorRole := actor.Role
	if actor.Role != identity.RoleAdmin {
		if req.MembershipID == nil {
			return nil, fmt.Errorf("%w: membership id is required for non-admin appends", ErrForbidden)
		}
		m, err := r.councils.GetMembership(ctx, *req.MembershipID)
		if err != nil {
			return nil, err
		}
		if m.UserID != actor.UserID || m.Status != council.MembershipStatusActive {
			return nil, fmt.Errorf("%w: no active membership for caller", ErrForbidden)
		}
		if m.Role == council.RoleObserver {
			if req.Type != ledger.EntryTypeComment {
				return nil, fmt.Errorf("%w: observers may only append comments", ErrForbidden)
			}
			c, err := r.councils.GetCouncil(ctx, m.CouncilID)
			if err != nil {
				return nil, err
			}
			if !c.Policy.LedgerObserverComments {
				return nil, fmt.Errorf("%w: observer comments are not ledgered for this council", ErrForbidden)
			}
		}
		actorRole = string(m.Role)
	}

	entry, err := r.entries.Append(ctx, ledger.AppendRequest{
		AssessmentID: req.AssessmentID,
		Type:         req.Type,
		Payload:      req.Payload,
		ActorID:      actor.UserID,
		ActorRole:    actorRole,
		CouncilID:    req.CouncilID,
		MembershipID: req.MembershipID,
	})
	if err != nil {
		return nil, fmt.Errorf("append admin entry: %w", err)
	}

	r.logger.Info("admin entry appended",
		zap.String("assessment_id", req.AssessmentID),
		zap.String("entry_type", string(req.Type)),
		zap.String("actor_id", actor.UserID),
	)
	return entry, nil
}

// ListDecisions returns every decision for an assessment within a council in
// creation order, including superseded revisions.
func (r *Recorder) ListDecisions(ctx context.Context, assessmentID string, councilID uuid.UUID) ([]*Decision, error) {
	return r.store.ListDecisions(ctx, assessmentID, councilID)
}
