// Package council owns council and membership lifecycle: roles, activation,
// and revocation. Membership transitions that touch assessments already on
// the evidence ledger are themselves recorded as STATUS_CHANGE entries.
package council

import (
	"context"
	"fmt"
	"time"

	"github.com/evidentry/evidentry/internal/identity"
	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// repo is the persistence interface for the registry.
// *PostgresRepository and *MemoryRepository satisfy it.
type repo interface {
	CreateCouncil(ctx context.Context, c *Council) error
	GetCouncil(ctx context.Context, id uuid.UUID) (*Council, error)
	UpdateCouncil(ctx context.Context, c *Council) error
	// UpsertMembership inserts a membership or updates the existing row for
	// its (council_id, user_id) pair. prior is the row's status before the
	// write, or "" when no row existed.
	UpsertMembership(ctx context.Context, m *Membership) (out *Membership, prior MembershipStatus, err error)
	GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error)
	UpdateMembership(ctx context.Context, m *Membership) error
	ListMemberships(ctx context.Context, councilID uuid.UUID, onlyActive bool) ([]*Membership, error)
}

// AssessmentLister reports which assessments carry decisions from a
// membership. *approval.MemoryStore and *approval.PostgresStore satisfy it.
type AssessmentLister interface {
	AssessmentsForMembership(ctx context.Context, membershipID uuid.UUID) ([]string, error)
}

// entryAppender is the narrow slice of ledger.Store the registry needs.
type entryAppender interface {
	Append(ctx context.Context, req ledger.AppendRequest) (*ledger.Entry, error)
}

// Registry contains the business logic for council and membership lifecycle.
type Registry struct {
	repo        repo
	assessments AssessmentLister // nil = membership transitions are never ledgered
	entries     entryAppender    // nil = membership transitions are never ledgered
	logger      *zap.Logger
}

// NewRegistry creates a Registry. assessments and entries may be nil to
// disable the ledgering side effect (useful in narrow tests).
func NewRegistry(r repo, assessments AssessmentLister, entries entryAppender, logger *zap.Logger) *Registry {
	return &Registry{repo: r, assessments: assessments, entries: entries, logger: logger}
}

// CreateCouncil creates an ACTIVE council. Quorum must be at least 1; the
// quorum-vs-roster invariant is checked on later quorum raises, since a new
// council necessarily starts with an empty roster.
func (s *Registry) CreateCouncil(ctx context.Context, name string, quorum int, requireUnanimous bool, policy ApprovalPolicy) (*Council, error) {
	if name == "" {
		return nil, &ErrValidation{Msg: "council name is required"}
	}
	if quorum < 1 {
		return nil, &ErrValidation{Msg: "quorum must be at least 1"}
	}

	c := &Council{
		Name:             name,
		Status:           CouncilStatusActive,
		Quorum:           quorum,
		RequireUnanimous: requireUnanimous,
		Policy:           policy,
	}
	if err := s.repo.CreateCouncil(ctx, c); err != nil {
		return nil, fmt.Errorf("create council: %w", err)
	}

	s.logger.Info("council created",
		zap.String("council_id", c.ID.String()),
		zap.String("name", c.Name),
		zap.Int("quorum", c.Quorum),
		zap.Bool("require_unanimous", c.RequireUnanimous),
	)
	return c, nil
}

// GetCouncil retrieves a council by id.
func (s *Registry) GetCouncil(ctx context.Context, id uuid.UUID) (*Council, error) {
	return s.repo.GetCouncil(ctx, id)
}

// UpdateCouncil applies a partial configuration update. Raising the quorum
// above the current ACTIVE roster size is rejected.
func (s *Registry) UpdateCouncil(ctx context.Context, id uuid.UUID, req *UpdateCouncilRequest) (*Council, error) {
	c, err := s.repo.GetCouncil(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == CouncilStatusArchived {
		return nil, ErrCouncilArchived
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, &ErrValidation{Msg: "council name cannot be empty"}
		}
		c.Name = *req.Name
	}
	if req.Quorum != nil {
		if *req.Quorum < 1 {
			return nil, &ErrValidation{Msg: "quorum must be at least 1"}
		}
		active, err := s.repo.ListMemberships(ctx, id, true)
		if err != nil {
			return nil, fmt.Errorf("list active memberships: %w", err)
		}
		if *req.Quorum > len(active) {
			return nil, &ErrValidation{Msg: fmt.Sprintf(
				"quorum %d exceeds the %d active memberships", *req.Quorum, len(active))}
		}
		c.Quorum = *req.Quorum
	}
	if req.RequireUnanimous != nil {
		c.RequireUnanimous = *req.RequireUnanimous
	}
	if req.Policy != nil {
		c.Policy = *req.Policy
	}

	if err := s.repo.UpdateCouncil(ctx, c); err != nil {
		return nil, fmt.Errorf("update council: %w", err)
	}

	s.logger.Info("council updated", zap.String("council_id", id.String()))
	return c, nil
}

// ArchiveCouncil transitions a council to ARCHIVED. Archived councils accept
// no new assignments or decisions. Idempotent.
func (s *Registry) ArchiveCouncil(ctx context.Context, id uuid.UUID) (*Council, error) {
	c, err := s.repo.GetCouncil(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == CouncilStatusArchived {
		return c, nil
	}
	c.Status = CouncilStatusArchived
	if err := s.repo.UpdateCouncil(ctx, c); err != nil {
		return nil, fmt.Errorf("archive council: %w", err)
	}
	s.logger.Info("council archived", zap.String("council_id", id.String()))
	return c, nil
}

// AddOrReactivate assigns a user to a council, or reactivates the existing
// membership row for the (council, user) pair. Calling it twice never
// produces two rows. Fails with ErrNotFound for an unknown council and
// ErrCouncilArchived for an archived one.
func (s *Registry) AddOrReactivate(ctx context.Context, councilID uuid.UUID, userID string, role Role, notes string, actor identity.Principal) (*Membership, error) {
	if userID == "" {
		return nil, &ErrValidation{Msg: "user id is required"}
	}
	if !ValidRole(role) {
		return nil, &ErrValidation{Msg: fmt.Sprintf("invalid role %q", role)}
	}

	c, err := s.repo.GetCouncil(ctx, councilID)
	if err != nil {
		return nil, err
	}
	if c.Status == CouncilStatusArchived {
		return nil, ErrCouncilArchived
	}

	m, prior, err := s.repo.UpsertMembership(ctx, &Membership{
		CouncilID: councilID,
		UserID:    userID,
		Role:      role,
		Status:    MembershipStatusActive,
		Notes:     notes,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert membership: %w", err)
	}

	s.logger.Info("membership active",
		zap.String("membership_id", m.ID.String()),
		zap.String("council_id", councilID.String()),
		zap.String("user_id", userID),
		zap.String("role", string(role)),
	)

	// A reactivation of a membership that already voted somewhere is an
	// assessment-relevant transition, recorded with the status the row
	// actually held (REVOKED or SUSPENDED). Fresh assignments and idempotent
	// repeats are pure council-admin changes and are not ledgered.
	if prior != "" && prior != MembershipStatusActive {
		s.ledgerStatusChange(ctx, m, string(prior), string(MembershipStatusActive), notes, actor)
	}
	return m, nil
}

// Revoke sets a membership to REVOKED. Revoking an already-revoked
// membership is a no-op returning the current state.
func (s *Registry) Revoke(ctx context.Context, membershipID uuid.UUID, notes string, actor identity.Principal) (*Membership, error) {
	m, err := s.repo.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if m.Status == MembershipStatusRevoked {
		return m, nil
	}

	from := m.Status
	now := time.Now().UTC()
	m.Status = MembershipStatusRevoked
	m.RevokedAt = &now
	if notes != "" {
		m.Notes = notes
	}
	if err := s.repo.UpdateMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("revoke membership: %w", err)
	}

	s.logger.Info("membership revoked",
		zap.String("membership_id", m.ID.String()),
		zap.String("council_id", m.CouncilID.String()),
		zap.String("user_id", m.UserID),
	)

	s.ledgerStatusChange(ctx, m, string(from), string(MembershipStatusRevoked), notes, actor)
	return m, nil
}

// Reinstate sets a revoked or suspended membership back to ACTIVE on the
// same row, preserving history. Idempotent.
func (s *Registry) Reinstate(ctx context.Context, membershipID uuid.UUID, actor identity.Principal) (*Membership, error) {
	m, err := s.repo.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if m.Status == MembershipStatusActive {
		return m, nil
	}

	from := m.Status
	m.Status = MembershipStatusActive
	m.RevokedAt = nil
	if err := s.repo.UpdateMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("reinstate membership: %w", err)
	}

	s.logger.Info("membership reinstated",
		zap.String("membership_id", m.ID.String()),
		zap.String("user_id", m.UserID),
	)

	s.ledgerStatusChange(ctx, m, string(from), string(MembershipStatusActive), "", actor)
	return m, nil
}

// GetMembership retrieves a membership by id.
func (s *Registry) GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error) {
	return s.repo.GetMembership(ctx, id)
}

// ListActive returns the council's current voter roster.
func (s *Registry) ListActive(ctx context.Context, councilID uuid.UUID) ([]*Membership, error) {
	return s.repo.ListMemberships(ctx, councilID, true)
}

// ListMembers returns every membership of a council regardless of status.
func (s *Registry) ListMembers(ctx context.Context, councilID uuid.UUID) ([]*Membership, error) {
	return s.repo.ListMemberships(ctx, councilID, false)
}

// ledgerStatusChange appends a STATUS_CHANGE entry to every assessment that
// carries decisions from this membership. Pure council-admin changes with no
// assessment context produce nothing. Append failures are logged, not fatal:
// the registry transition has already committed.
func (s *Registry) ledgerStatusChange(ctx context.Context, m *Membership, from, to, notes string, actor identity.Principal) {
	if s.assessments == nil || s.entries == nil {
		return
	}

	assessments, err := s.assessments.AssessmentsForMembership(ctx, m.ID)
	if err != nil {
		s.logger.Error("list assessments for membership (non-fatal)",
			zap.String("membership_id", m.ID.String()),
			zap.Error(err),
		)
		return
	}

	payload, err := ledger.MarshalPayload(&ledger.StatusChangePayload{
		Subject: "membership",
		From:    from,
		To:      to,
		Notes:   notes,
	})
	if err != nil {
		s.logger.Error("marshal status change payload (non-fatal)", zap.Error(err))
		return
	}

	for _, assessmentID := range assessments {
		_, err := s.entries.Append(ctx, ledger.AppendRequest{
			AssessmentID: assessmentID,
			Type:         ledger.EntryTypeStatusChange,
			Payload:      payload,
			ActorID:      actor.UserID,
			ActorRole:    actor.Role,
			CouncilID:    &m.CouncilID,
			MembershipID: &m.ID,
		})
		if err != nil {
			s.logger.Error("ledger status change append failed (non-fatal)",
				zap.String("assessment_id", assessmentID),
				zap.String("membership_id", m.ID.String()),
				zap.Error(err),
			)
		}
	}
}
