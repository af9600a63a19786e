package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evidentry/evidentry/internal/hashchain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultAppendRetries bounds how many times a contested append is retried
// before ErrTailConflict surfaces. Contention is human-paced, so a small
// budget is plenty.
const DefaultAppendRetries = 5

// PostgresStore persists the evidence ledger to PostgreSQL.
//
// The chain tail for each assessment is materialized as a row in
// ledger_tails and advanced with a compare-and-set on the stored tail hash.
// The CAS is the only contested write in the subsystem and is scoped
// per-assessment, so unrelated assessments never serialize against each
// other. Unique indexes on (assessment_id, seq) and (assessment_id,
// prev_hash) make a fork impossible even if the tails table were damaged.
type PostgresStore struct {
	pool    *pgxpool.Pool
	retries int
	logger  *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
// retries <= 0 selects DefaultAppendRetries.
func NewPostgresStore(pool *pgxpool.Pool, retries int, logger *zap.Logger) *PostgresStore {
	if retries <= 0 {
		retries = DefaultAppendRetries
	}
	return &PostgresStore{pool: pool, retries: retries, logger: logger}
}

// Append implements Store. Each attempt runs in its own transaction; a
// tail-moved race rolls the attempt back and retries from scratch.
func (s *PostgresStore) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	if err := normalizeAppend(&req); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		entry, err := s.appendOnce(ctx, req)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrTailMoved) {
			return nil, err
		}
		s.logger.Debug("ledger tail moved, retrying append",
			zap.String("assessment_id", req.AssessmentID),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("%w (assessment %s, %d attempts)",
		ErrTailConflict, req.AssessmentID, s.retries)
}

func (s *PostgresStore) appendOnce(ctx context.Context, req AppendRequest) (*Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entry, err := s.AppendInTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}
	return entry, nil
}

// AppendInTx appends one entry inside the caller's transaction. It is used
// by the approval store to make a decision insert and its ledger entry one
// atomic unit. The caller owns commit/rollback and must retry the whole
// transaction when ErrTailMoved is returned.
func (s *PostgresStore) AppendInTx(ctx context.Context, tx pgx.Tx, req AppendRequest) (*Entry, error) {
	if err := normalizeAppend(&req); err != nil {
		return nil, err
	}

	// Read the current tail. No row means the chain is empty.
	var tailHash string
	var tailSeq int
	hasTail := true
	err := tx.QueryRow(ctx,
		`SELECT tail_hash, tail_seq FROM ledger_tails WHERE assessment_id = $1`,
		req.AssessmentID,
	).Scan(&tailHash, &tailSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		hasTail = false
	} else if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	var prevHash *string
	seq := 0
	if hasTail {
		prevHash = &tailHash
		seq = tailSeq + 1
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:           uuid.New(),
		AssessmentID: req.AssessmentID,
		Seq:          seq,
		CouncilID:    req.CouncilID,
		MembershipID: req.MembershipID,
		ApprovalID:   req.ApprovalID,
		ActorID:      req.ActorID,
		ActorRole:    req.ActorRole,
		Type:         req.Type,
		Payload:      req.Payload,
		PrevHash:     prevHash,
		CreatedAt:    now,
	}
	entry.Hash = hashchain.Compute(hashchain.Input{
		AssessmentID: entry.AssessmentID,
		EntryType:    string(entry.Type),
		Payload:      entry.Payload,
		ActorID:      entry.ActorID,
		ActorRole:    entry.ActorRole,
		PrevHash:     entry.PrevHash,
		CreatedAt:    entry.CreatedAt,
	})

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (
			id, assessment_id, seq, council_id, membership_id, approval_id,
			actor_id, actor_role, entry_type, payload, prev_hash, hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.AssessmentID, entry.Seq, entry.CouncilID,
		entry.MembershipID, entry.ApprovalID, entry.ActorID, entry.ActorRole,
		entry.Type, string(entry.Payload), entry.PrevHash, entry.Hash,
		entry.CreatedAt,
	); err != nil {
		// A concurrent writer advanced the chain between our tail read and
		// this insert: the (assessment_id, seq) and (assessment_id, prev_hash)
		// unique indexes reject the stale write before the CAS ever runs, so
		// a unique violation here is a lost race, not a fault.
		if isUniqueViolation(err) {
			return nil, ErrTailMoved
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	// Advance the tail with a compare-and-set. Zero rows affected means a
	// concurrent writer won the race since our tail read.
	if hasTail {
		tag, err := tx.Exec(ctx,
			`UPDATE ledger_tails
			 SET tail_hash = $1, tail_seq = $2
			 WHERE assessment_id = $3 AND tail_hash = $4`,
			entry.Hash, entry.Seq, entry.AssessmentID, tailHash,
		)
		if err != nil {
			return nil, fmt.Errorf("advance ledger tail: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrTailMoved
		}
	} else {
		tag, err := tx.Exec(ctx,
			`INSERT INTO ledger_tails (assessment_id, tail_hash, tail_seq)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (assessment_id) DO NOTHING`,
			entry.AssessmentID, entry.Hash, entry.Seq,
		)
		if err != nil {
			return nil, fmt.Errorf("create ledger tail: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrTailMoved
		}
	}

	return entry, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AssessmentIDs returns the ID of every assessment with at least one entry.
func (s *PostgresStore) AssessmentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT assessment_id FROM ledger_tails ORDER BY assessment_id`)
	if err != nil {
		return nil, fmt.Errorf("query assessment ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan assessment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Tail implements Store.
func (s *PostgresStore) Tail(ctx context.Context, assessmentID string) (*Entry, error) {
	entry, err := s.scanOne(ctx,
		`SELECT id, assessment_id, seq, council_id, membership_id, approval_id,
		        actor_id, actor_role, entry_type, payload, prev_hash, hash, created_at
		 FROM ledger_entries
		 WHERE assessment_id = $1
		 ORDER BY seq DESC LIMIT 1`,
		assessmentID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// Entries implements Store.
func (s *PostgresStore) Entries(ctx context.Context, assessmentID string) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, assessment_id, seq, council_id, membership_id, approval_id,
		        actor_id, actor_role, entry_type, payload, prev_hash, hash, created_at
		 FROM ledger_entries
		 WHERE assessment_id = $1
		 ORDER BY seq ASC`,
		assessmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, assessmentID string, opt ListOptions) ([]*Entry, error) {
	limit := opt.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, assessment_id, seq, council_id, membership_id, approval_id,
		        actor_id, actor_role, entry_type, payload, prev_hash, hash, created_at
		 FROM ledger_entries
		 WHERE assessment_id = $1
		   AND seq > $2
		   AND ($3 = '' OR entry_type = $3)
		 ORDER BY seq ASC
		 LIMIT $4`,
		assessmentID, opt.AfterSeq, string(opt.Type), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*Entry, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	return scanEntry(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var payload string
	if err := row.Scan(
		&e.ID, &e.AssessmentID, &e.Seq, &e.CouncilID, &e.MembershipID,
		&e.ApprovalID, &e.ActorID, &e.ActorRole, &e.Type, &payload,
		&e.PrevHash, &e.Hash, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	return e, nil
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
