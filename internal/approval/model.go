package approval

import (
	"errors"
	"time"

	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/google/uuid"
)

// Status is a reviewer's verdict for one workflow step.
type Status string

const (
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusPending     Status = "PENDING"
	StatusConditional Status = "CONDITIONAL"
)

// ValidStatus reports whether s is one of the enumerated decision statuses.
func ValidStatus(s Status) bool {
	return s == StatusApproved || s == StatusRejected ||
		s == StatusPending || s == StatusConditional
}

// StepFinalReview is the binding workflow step. Decisions at earlier steps
// are advisory: they are preserved on the ledger but never enter quorum math.
const StepFinalReview = "final_review"

// Decision is one reviewer's verdict for one (assessment, step) pair.
// Decisions are insert-only: a resubmission for the same (membership,
// assessment, step) inserts a new row, and the current decision is the
// latest by creation order.
type Decision struct {
	ID                 uuid.UUID              `json:"id"                             db:"id"`
	AssessmentID       string                 `json:"assessment_id"                  db:"assessment_id"`
	CouncilID          uuid.UUID              `json:"council_id"                     db:"council_id"`
	MembershipID       uuid.UUID              `json:"membership_id"                  db:"membership_id"`
	Step               string                 `json:"step"                           db:"step"`
	Status             Status                 `json:"status"                         db:"status"`
	Notes              string                 `json:"notes,omitempty"                db:"notes"`
	ReasonCodes        []string               `json:"reason_codes"                   db:"reason_codes"`
	EvidenceSnapshotID *uuid.UUID             `json:"evidence_snapshot_id,omitempty" db:"evidence_snapshot_id"`
	Attachments        []ledger.AttachmentRef `json:"attachments,omitempty"          db:"attachments"`
	CreatedAt          time.Time              `json:"created_at"                     db:"created_at"`
}

// SubmitRequest carries one reviewer decision submission.
type SubmitRequest struct {
	AssessmentID       string                 `json:"assessment_id"`
	CouncilID          uuid.UUID              `json:"council_id"`
	MembershipID       uuid.UUID              `json:"membership_id"`
	Step               string                 `json:"step"`
	Status             Status                 `json:"status"`
	Notes              string                 `json:"notes"`
	ReasonCodes        []string               `json:"reason_codes"`
	EvidenceSnapshotID *uuid.UUID             `json:"evidence_snapshot_id,omitempty"`
	Attachments        []ledger.AttachmentRef `json:"attachments,omitempty"`
}

// AdminEntryRequest is the administrative append path for non-decision entry
// types. APPROVAL and REJECTION are rejected here; those must carry decision
// semantics and go through SubmitDecision.
type AdminEntryRequest struct {
	AssessmentID string           `json:"assessment_id"`
	Type         ledger.EntryType `json:"entry_type"`
	Payload      []byte           `json:"payload"`
	CouncilID    *uuid.UUID       `json:"council_id,omitempty"`
	MembershipID *uuid.UUID       `json:"membership_id,omitempty"`
}

// QuorumResult is the aggregate verdict for one (assessment, council) pair.
// QuorumMet always reports the raw count comparison, even when a unanimity
// or veto policy governs the Approved verdict, so callers can observe how
// close the roster is to sign-off.
type QuorumResult struct {
	Approved          bool `json:"approved"`
	QuorumMet         bool `json:"quorum_met"`
	TotalApprovals    int  `json:"total_approvals"`
	RequiredQuorum    int  `json:"required_quorum"`
	RequiresUnanimous bool `json:"requires_unanimous"`
	// Evaluated is the number of active voting members considered.
	Evaluated int `json:"evaluated"`
}

// ErrForbidden is returned when the caller is not entitled to the operation:
// an inactive membership, an OBSERVER submitting a decision, or a reviewer
// acting under someone else's membership.
var ErrForbidden = errors.New("forbidden")

// ErrValidation is returned when the caller supplies invalid input.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }
