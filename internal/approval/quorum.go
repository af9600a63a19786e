package approval

import (
	"context"
	"fmt"

	"github.com/evidentry/evidentry/internal/council"
	"github.com/google/uuid"
)

// decisionSource is the read slice of the decision store the evaluator needs.
type decisionSource interface {
	LatestForStep(ctx context.Context, assessmentID string, councilID uuid.UUID, step string) (map[uuid.UUID]*Decision, error)
}

// Evaluator computes the aggregate quorum verdict for an assessment from the
// council's active voter roster and each voter's latest binding-step decision.
type Evaluator struct {
	councils  councilRegistry
	decisions decisionSource
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(councils councilRegistry, decisions decisionSource) *Evaluator {
	return &Evaluator{councils: councils, decisions: decisions}
}

// Evaluate computes the verdict for one (assessment, council) pair.
//
// The roster is the council's ACTIVE memberships with a voting role; each
// voter contributes their latest decision at the final_review step. Earlier
// steps are advisory and never enter the math. With requireUnanimous, every
// voter's latest decision must be APPROVED; otherwise the approval count
// against the council quorum governs. A RejectionVeto policy, when enabled,
// defeats an otherwise met quorum on any voter's latest REJECTED decision.
func (e *Evaluator) Evaluate(ctx context.Context, assessmentID string, councilID uuid.UUID) (*QuorumResult, error) {
	c, err := e.councils.GetCouncil(ctx, councilID)
	if err != nil {
		return nil, err
	}
	active, err := e.councils.ListActive(ctx, councilID)
	if err != nil {
		return nil, fmt.Errorf("list active memberships: %w", err)
	}
	latest, err := e.decisions.LatestForStep(ctx, assessmentID, councilID, StepFinalReview)
	if err != nil {
		return nil, fmt.Errorf("load latest decisions: %w", err)
	}

	voters := 0
	total := 0
	rejected := false
	allApproved := true
	for _, m := range active {
		if !council.VotingRole(m.Role) {
			continue
		}
		voters++
		d := latest[m.ID]
		switch {
		case d == nil:
			allApproved = false
		case d.Status == StatusApproved:
			total++
		case d.Status == StatusRejected:
			rejected = true
			allApproved = false
		default:
			allApproved = false
		}
	}

	quorumMet := total >= c.Quorum
	approved := quorumMet
	if c.RequireUnanimous {
		approved = voters > 0 && allApproved
	}
	if c.Policy.RejectionVeto && rejected {
		approved = false
	}

	return &QuorumResult{
		Approved:          approved,
		QuorumMet:         quorumMet,
		TotalApprovals:    total,
		RequiredQuorum:    c.Quorum,
		RequiresUnanimous: c.RequireUnanimous,
		Evaluated:         voters,
	}, nil
}
