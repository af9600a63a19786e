package council

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory, thread-safe repository implementation
// for tests and single-process development deployments.
type MemoryRepository struct {
	mu          sync.RWMutex
	councils    map[uuid.UUID]*Council
	memberships map[uuid.UUID]*Membership
	byPair      map[pairKey]uuid.UUID
	order       []uuid.UUID // membership ids in creation order
}

type pairKey struct {
	councilID uuid.UUID
	userID    string
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		councils:    make(map[uuid.UUID]*Council),
		memberships: make(map[uuid.UUID]*Membership),
		byPair:      make(map[pairKey]uuid.UUID),
	}
}

// CreateCouncil implements repo.
func (r *MemoryRepository) CreateCouncil(_ context.Context, c *Council) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = uuid.New()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	r.councils[c.ID] = &cp
	return nil
}

// GetCouncil implements repo.
func (r *MemoryRepository) GetCouncil(_ context.Context, id uuid.UUID) (*Council, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.councils[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// UpdateCouncil implements repo.
func (r *MemoryRepository) UpdateCouncil(_ context.Context, c *Council) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.councils[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	r.councils[c.ID] = &cp
	return nil
}

// UpsertMembership implements repo. prior is the row's status before the
// write, "" for a fresh insert.
func (r *MemoryRepository) UpsertMembership(_ context.Context, m *Membership) (*Membership, MembershipStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{councilID: m.CouncilID, userID: m.UserID}
	now := time.Now().UTC()

	if id, ok := r.byPair[key]; ok {
		existing := r.memberships[id]
		prior := existing.Status
		existing.Role = m.Role
		existing.Status = MembershipStatusActive
		existing.RevokedAt = nil
		if m.Notes != "" {
			existing.Notes = m.Notes
		}
		existing.UpdatedAt = now
		cp := *existing
		return &cp, prior, nil
	}

	m.ID = uuid.New()
	m.CreatedAt = now
	m.UpdatedAt = now
	cp := *m
	r.memberships[m.ID] = &cp
	r.byPair[key] = m.ID
	r.order = append(r.order, m.ID)
	out := cp
	return &out, "", nil
}

// GetMembership implements repo.
func (r *MemoryRepository) GetMembership(_ context.Context, id uuid.UUID) (*Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.memberships[id]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

// UpdateMembership implements repo.
func (r *MemoryRepository) UpdateMembership(_ context.Context, m *Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.memberships[m.ID]; !ok {
		return ErrMembershipNotFound
	}
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	r.memberships[m.ID] = &cp
	return nil
}

// ListMemberships implements repo. Results come back in creation order,
// matching the Postgres repository's created_at ordering.
func (r *MemoryRepository) ListMemberships(_ context.Context, councilID uuid.UUID, onlyActive bool) ([]*Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Membership
	for _, id := range r.order {
		m := r.memberships[id]
		if m.CouncilID != councilID {
			continue
		}
		if onlyActive && m.Status != MembershipStatusActive {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}
