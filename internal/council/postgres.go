package council

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists councils and memberships to PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateCouncil implements repo.
func (r *PostgresRepository) CreateCouncil(ctx context.Context, c *Council) error {
	policy, err := json.Marshal(c.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	c.ID = uuid.New()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = r.db.Exec(ctx,
		`INSERT INTO councils (id, name, status, quorum, require_unanimous, policy, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.Status, c.Quorum, c.RequireUnanimous, policy,
		c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetCouncil implements repo.
func (r *PostgresRepository) GetCouncil(ctx context.Context, id uuid.UUID) (*Council, error) {
	c := &Council{}
	var policy []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, name, status, quorum, require_unanimous, policy, created_at, updated_at
		 FROM councils WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Status, &c.Quorum, &c.RequireUnanimous, &policy,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get council: %w", err)
	}
	if err := json.Unmarshal(policy, &c.Policy); err != nil {
		return nil, fmt.Errorf("decode council policy: %w", err)
	}
	return c, nil
}

// UpdateCouncil implements repo.
func (r *PostgresRepository) UpdateCouncil(ctx context.Context, c *Council) error {
	policy, err := json.Marshal(c.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	c.UpdatedAt = time.Now().UTC()

	tag, err := r.db.Exec(ctx,
		`UPDATE councils
		 SET name = $1, status = $2, quorum = $3, require_unanimous = $4,
		     policy = $5, updated_at = $6
		 WHERE id = $7`,
		c.Name, c.Status, c.Quorum, c.RequireUnanimous, policy, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update council: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertMembership implements repo. The (council_id, user_id) unique
// constraint makes re-adding a user reactivate the existing row instead of
// creating a duplicate. prior is the row's status before the write, "" for
// a fresh insert.
func (r *PostgresRepository) UpsertMembership(ctx context.Context, m *Membership) (*Membership, MembershipStatus, error) {
	now := time.Now().UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the existing row (if any) so the prior-status report cannot race
	// with a concurrent revoke of the same pair.
	var prior MembershipStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM memberships
		 WHERE council_id = $1 AND user_id = $2
		 FOR UPDATE`,
		m.CouncilID, m.UserID,
	).Scan(&prior)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", fmt.Errorf("read membership pair: %w", err)
	}

	out := &Membership{}
	err = tx.QueryRow(ctx,
		`INSERT INTO memberships (id, council_id, user_id, role, status, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (council_id, user_id) DO UPDATE SET
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			notes = CASE WHEN EXCLUDED.notes <> '' THEN EXCLUDED.notes ELSE memberships.notes END,
			revoked_at = NULL,
			updated_at = EXCLUDED.updated_at
		 RETURNING id, council_id, user_id, role, status, notes, revoked_at, created_at, updated_at`,
		uuid.New(), m.CouncilID, m.UserID, m.Role, MembershipStatusActive, m.Notes, now,
	).Scan(&out.ID, &out.CouncilID, &out.UserID, &out.Role, &out.Status,
		&out.Notes, &out.RevokedAt, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("upsert membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit membership upsert: %w", err)
	}

	return out, prior, nil
}

// GetMembership implements repo.
func (r *PostgresRepository) GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error) {
	m := &Membership{}
	err := r.db.QueryRow(ctx,
		`SELECT id, council_id, user_id, role, status, notes, revoked_at, created_at, updated_at
		 FROM memberships WHERE id = $1`, id,
	).Scan(&m.ID, &m.CouncilID, &m.UserID, &m.Role, &m.Status, &m.Notes,
		&m.RevokedAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// UpdateMembership implements repo.
func (r *PostgresRepository) UpdateMembership(ctx context.Context, m *Membership) error {
	m.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE memberships
		 SET role = $1, status = $2, notes = $3, revoked_at = $4, updated_at = $5
		 WHERE id = $6`,
		m.Role, m.Status, m.Notes, m.RevokedAt, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// ListMemberships implements repo.
func (r *PostgresRepository) ListMemberships(ctx context.Context, councilID uuid.UUID, onlyActive bool) ([]*Membership, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, council_id, user_id, role, status, notes, revoked_at, created_at, updated_at
		 FROM memberships
		 WHERE council_id = $1
		   AND (NOT $2 OR status = 'ACTIVE')
		 ORDER BY created_at ASC`,
		councilID, onlyActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.ID, &m.CouncilID, &m.UserID, &m.Role, &m.Status,
			&m.Notes, &m.RevokedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
