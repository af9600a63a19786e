package council

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// CouncilStatus is the lifecycle state of a reviewing body. Councils are
// archived, never deleted.
type CouncilStatus string

const (
	CouncilStatusActive    CouncilStatus = "ACTIVE"
	CouncilStatusArchived  CouncilStatus = "ARCHIVED"
	CouncilStatusSuspended CouncilStatus = "SUSPENDED"
)

// Role is a member's function within a council. Only CHAIR and PARTNER
// decisions carry voting weight; OBSERVER is read-only.
type Role string

const (
	RoleChair    Role = "CHAIR"
	RolePartner  Role = "PARTNER"
	RoleObserver Role = "OBSERVER"
)

// ValidRole reports whether r is one of the enumerated roles.
func ValidRole(r Role) bool {
	return r == RoleChair || r == RolePartner || r == RoleObserver
}

// VotingRole reports whether r may submit decisions.
func VotingRole(r Role) bool {
	return r == RoleChair || r == RolePartner
}

// MembershipStatus is the lifecycle state of a membership row. Rows are
// status-transitioned, never deleted, so past ledger entries stay
// referenceable.
type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "ACTIVE"
	MembershipStatusRevoked   MembershipStatus = "REVOKED"
	MembershipStatusSuspended MembershipStatus = "SUSPENDED"
)

// ApprovalPolicy is the council's structured approval configuration. The
// two flags surface veto and observer-comment semantics as explicit
// configuration rather than implicit behavior; both default to false.
type ApprovalPolicy struct {
	// RejectionVeto, when true, makes a single REJECTED decision from any
	// active member defeat an otherwise quorum-met approval.
	RejectionVeto bool `json:"rejection_veto"`
	// LedgerObserverComments, when true, allows OBSERVER members to have
	// COMMENT entries written to assessment ledgers.
	LedgerObserverComments bool `json:"ledger_observer_comments"`
	// Extra carries forward-compatible policy keys this service does not
	// interpret.
	Extra map[string]any `json:"extra,omitempty"`
}

// Council is a named reviewing body with a quorum policy.
type Council struct {
	ID               uuid.UUID      `json:"id"                db:"id"`
	Name             string         `json:"name"              db:"name"`
	Status           CouncilStatus  `json:"status"            db:"status"`
	Quorum           int            `json:"quorum"            db:"quorum"`
	RequireUnanimous bool           `json:"require_unanimous" db:"require_unanimous"`
	Policy           ApprovalPolicy `json:"policy"            db:"policy"`
	CreatedAt        time.Time      `json:"created_at"        db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"        db:"updated_at"`
}

// Membership binds one user to one council. At most one row exists per
// (council, user) pair; re-adding a revoked user reactivates the row.
type Membership struct {
	ID        uuid.UUID        `json:"id"                   db:"id"`
	CouncilID uuid.UUID        `json:"council_id"           db:"council_id"`
	UserID    string           `json:"user_id"              db:"user_id"`
	Role      Role             `json:"role"                 db:"role"`
	Status    MembershipStatus `json:"status"               db:"status"`
	Notes     string           `json:"notes,omitempty"      db:"notes"`
	RevokedAt *time.Time       `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt time.Time        `json:"created_at"           db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"           db:"updated_at"`
}

// ErrNotFound is returned when a council lookup finds no matching row.
var ErrNotFound = errors.New("council not found")

// ErrMembershipNotFound is returned when a membership lookup finds no
// matching row.
var ErrMembershipNotFound = errors.New("membership not found")

// ErrCouncilArchived is returned when a write targets an archived council.
var ErrCouncilArchived = errors.New("council is archived")

// ErrValidation is returned when the caller supplies invalid input.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// UpdateCouncilRequest is a partial update of a council's configuration.
// Nil fields are left unchanged.
type UpdateCouncilRequest struct {
	Name             *string         `json:"name,omitempty"`
	Quorum           *int            `json:"quorum,omitempty"`
	RequireUnanimous *bool           `json:"require_unanimous,omitempty"`
	Policy           *ApprovalPolicy `json:"policy,omitempty"`
}
