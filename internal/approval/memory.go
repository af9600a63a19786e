package approval

import (
	"context"
	"sync"
	"time"

	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe decision store for tests and
// single-process development deployments. Insertion order stands in for the
// row sequence that orders revisions in the Postgres store.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   ledger.Store
	decisions []*Decision
}

// NewMemoryStore creates an empty MemoryStore writing ledger entries to
// entries.
func NewMemoryStore(entries ledger.Store) *MemoryStore {
	return &MemoryStore{entries: entries}
}

// SubmitDecision implements store. The store mutex serializes submissions,
// which keeps the decision insert and its ledger append one atomic unit.
func (s *MemoryStore) SubmitDecision(ctx context.Context, d *Decision, req ledger.AppendRequest) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	req.ApprovalID = &d.ID

	entry, err := s.entries.Append(ctx, req)
	if err != nil {
		return nil, err
	}

	cp := *d
	s.decisions = append(s.decisions, &cp)
	return entry, nil
}

// LatestForStep implements store. Later insertions overwrite earlier ones,
// so each membership maps to its most recent decision.
func (s *MemoryStore) LatestForStep(_ context.Context, assessmentID string, councilID uuid.UUID, step string) (map[uuid.UUID]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]*Decision)
	for _, d := range s.decisions {
		if d.AssessmentID != assessmentID || d.CouncilID != councilID || d.Step != step {
			continue
		}
		cp := *d
		out[d.MembershipID] = &cp
	}
	return out, nil
}

// ListDecisions implements store.
func (s *MemoryStore) ListDecisions(_ context.Context, assessmentID string, councilID uuid.UUID) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Decision
	for _, d := range s.decisions {
		if d.AssessmentID != assessmentID || d.CouncilID != councilID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

// AssessmentsForMembership implements council.AssessmentLister.
func (s *MemoryStore) AssessmentsForMembership(_ context.Context, membershipID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, d := range s.decisions {
		if d.MembershipID != membershipID || seen[d.AssessmentID] {
			continue
		}
		seen[d.AssessmentID] = true
		out = append(out, d.AssessmentID)
	}
	return out, nil
}
