package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists decisions to PostgreSQL. A decision insert and its
// ledger entry run in one transaction through ledger.PostgresStore.AppendInTx,
// with the tail compare-and-set retry owned here so both writes restart
// together on a lost race.
type PostgresStore struct {
	pool    *pgxpool.Pool
	entries *ledger.PostgresStore
	retries int
	logger  *zap.Logger
}

// NewPostgresStore creates a PostgresStore. retries <= 0 selects
// ledger.DefaultAppendRetries.
func NewPostgresStore(pool *pgxpool.Pool, entries *ledger.PostgresStore, retries int, logger *zap.Logger) *PostgresStore {
	if retries <= 0 {
		retries = ledger.DefaultAppendRetries
	}
	return &PostgresStore{pool: pool, entries: entries, retries: retries, logger: logger}
}

// SubmitDecision implements store.
func (s *PostgresStore) SubmitDecision(ctx context.Context, d *Decision, req ledger.AppendRequest) (*ledger.Entry, error) {
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	req.ApprovalID = &d.ID

	for attempt := 0; attempt < s.retries; attempt++ {
		entry, err := s.submitOnce(ctx, d, req)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ledger.ErrTailMoved) {
			return nil, err
		}
		s.logger.Debug("ledger tail moved, retrying decision submit",
			zap.String("assessment_id", d.AssessmentID),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("%w (assessment %s, %d attempts)",
		ledger.ErrTailConflict, d.AssessmentID, s.retries)
}

func (s *PostgresStore) submitOnce(ctx context.Context, d *Decision, req ledger.AppendRequest) (*ledger.Entry, error) {
	attachments := d.Attachments
	if attachments == nil {
		attachments = []ledger.AttachmentRef{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO decisions (
			id, assessment_id, council_id, membership_id, step, status,
			notes, reason_codes, evidence_snapshot_id, attachments, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.AssessmentID, d.CouncilID, d.MembershipID, d.Step, d.Status,
		d.Notes, d.ReasonCodes, d.EvidenceSnapshotID, attachmentsJSON, d.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}

	entry, err := s.entries.AppendInTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit decision tx: %w", err)
	}
	return entry, nil
}

// LatestForStep implements store. row_seq orders revisions: DISTINCT ON
// keeps only each membership's most recent decision for the step.
func (s *PostgresStore) LatestForStep(ctx context.Context, assessmentID string, councilID uuid.UUID, step string) (map[uuid.UUID]*Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (membership_id)
		        id, assessment_id, council_id, membership_id, step, status,
		        notes, reason_codes, evidence_snapshot_id, attachments, created_at
		 FROM decisions
		 WHERE assessment_id = $1 AND council_id = $2 AND step = $3
		 ORDER BY membership_id, row_seq DESC`,
		assessmentID, councilID, step,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest decisions: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*Decision)
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out[d.MembershipID] = d
	}
	return out, rows.Err()
}

// ListDecisions implements store.
func (s *PostgresStore) ListDecisions(ctx context.Context, assessmentID string, councilID uuid.UUID) ([]*Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, assessment_id, council_id, membership_id, step, status,
		        notes, reason_codes, evidence_snapshot_id, attachments, created_at
		 FROM decisions
		 WHERE assessment_id = $1 AND council_id = $2
		 ORDER BY row_seq ASC`,
		assessmentID, councilID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AssessmentsForMembership implements council.AssessmentLister.
func (s *PostgresStore) AssessmentsForMembership(ctx context.Context, membershipID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT assessment_id FROM decisions WHERE membership_id = $1`,
		membershipID,
	)
	if err != nil {
		return nil, fmt.Errorf("query assessments for membership: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan assessment id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanDecision(rows pgx.Rows) (*Decision, error) {
	d := &Decision{}
	var attachments []byte
	if err := rows.Scan(
		&d.ID, &d.AssessmentID, &d.CouncilID, &d.MembershipID, &d.Step,
		&d.Status, &d.Notes, &d.ReasonCodes, &d.EvidenceSnapshotID,
		&attachments, &d.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan decision row: %w", err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &d.Attachments); err != nil {
			return nil, fmt.Errorf("decode decision attachments: %w", err)
		}
	}
	return d, nil
}
