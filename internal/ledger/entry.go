package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntryType discriminates the payload shape of a ledger entry.
type EntryType string

const (
	EntryTypeApproval      EntryType = "APPROVAL"
	EntryTypeRejection     EntryType = "REJECTION"
	EntryTypeStatusChange  EntryType = "STATUS_CHANGE"
	EntryTypeEscalation    EntryType = "ESCALATION"
	EntryTypeEvidenceAdded EntryType = "EVIDENCE_ADDED"
	EntryTypeComment       EntryType = "COMMENT"
	EntryTypePolicyUpdate  EntryType = "POLICY_UPDATE"
)

// EntryTypes lists every valid entry type in declaration order.
var EntryTypes = []EntryType{
	EntryTypeApproval,
	EntryTypeRejection,
	EntryTypeStatusChange,
	EntryTypeEscalation,
	EntryTypeEvidenceAdded,
	EntryTypeComment,
	EntryTypePolicyUpdate,
}

// ValidEntryType reports whether t is one of the enumerated entry types.
func ValidEntryType(t EntryType) bool {
	for _, v := range EntryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// DecisionEntryType reports whether t is one of the two types that may only
// originate from a reviewer decision (never from the admin append path).
func DecisionEntryType(t EntryType) bool {
	return t == EntryTypeApproval || t == EntryTypeRejection
}

// Entry is one immutable, hash-chained audit record for an assessment.
// Entries are append-only: there is no update or delete path. Corrections
// are new entries that reference the corrected one by id in their payload.
type Entry struct {
	ID           uuid.UUID       `json:"id"                      db:"id"`
	AssessmentID string          `json:"assessment_id"           db:"assessment_id"`
	// Seq is the 0-based position of the entry in its assessment's chain.
	// It is a storage-level ordering aid and does not enter the hash.
	Seq          int             `json:"seq"                     db:"seq"`
	CouncilID    *uuid.UUID      `json:"council_id,omitempty"    db:"council_id"`
	MembershipID *uuid.UUID      `json:"membership_id,omitempty" db:"membership_id"`
	ApprovalID   *uuid.UUID      `json:"approval_id,omitempty"   db:"approval_id"`
	ActorID      string          `json:"actor_id"                db:"actor_id"`
	ActorRole    string          `json:"actor_role"              db:"actor_role"`
	Type         EntryType       `json:"entry_type"              db:"entry_type"`
	Payload      json.RawMessage `json:"payload"                 db:"payload"`
	PrevHash     *string         `json:"prev_hash"               db:"prev_hash"`
	Hash         string          `json:"hash"                    db:"hash"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
}

// AppendRequest carries everything needed to append one chained entry.
// Seq, PrevHash, Hash, and CreatedAt are assigned by the store.
type AppendRequest struct {
	AssessmentID string
	Type         EntryType
	Payload      json.RawMessage
	ActorID      string
	ActorRole    string
	CouncilID    *uuid.UUID
	MembershipID *uuid.UUID
	ApprovalID   *uuid.UUID
}
