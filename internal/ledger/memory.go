package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/evidentry/evidentry/internal/hashchain"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for tests and single-process development deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]*Entry)}
}

// Append implements Store. The store mutex serializes all appends, which
// trivially satisfies the per-assessment tail CAS contract.
func (s *MemoryStore) Append(_ context.Context, req AppendRequest) (*Entry, error) {
	if err := normalizeAppend(&req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[req.AssessmentID]
	var prevHash *string
	seq := 0
	if n := len(chain); n > 0 {
		h := chain[n-1].Hash
		prevHash = &h
		seq = n
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

	s.chains[req.AssessmentID] = append(chain, entry)
	return entry, nil
}

// AssessmentIDs returns the ID of every assessment with at least one entry.
func (s *MemoryStore) AssessmentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.chains))
	for id := range s.chains {
		ids = append(ids, id)
	}
	return ids, nil
}

// Tail implements Store.
func (s *MemoryStore) Tail(_ context.Context, assessmentID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[assessmentID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

// Entries implements Store.
func (s *MemoryStore) Entries(_ context.Context, assessmentID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[assessmentID]
	out := make([]*Entry, len(chain))
	copy(out, chain)
	return out, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, assessmentID string, opt ListOptions) ([]*Entry, error) {
	limit := opt.Limit
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, e := range s.chains[assessmentID] {
		if e.Seq <= opt.AfterSeq {
			continue
		}
		if opt.Type != "" && e.Type != opt.Type {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
