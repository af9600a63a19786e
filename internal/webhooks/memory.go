package webhooks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory store implementation for tests and
// single-process development deployments.
type MemoryRepository struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]*Subscription
	deliveries []*Delivery
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{subs: make(map[uuid.UUID]*Subscription)}
}

// Create implements store.
func (r *MemoryRepository) Create(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub.ID = uuid.New()
	sub.CreatedAt = time.Now().UTC()
	sub.Active = true
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

// GetByID implements store.
func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// ListByUser implements store.
func (r *MemoryRepository) ListByUser(_ context.Context, userID string) ([]*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListByEvent implements store.
func (r *MemoryRepository) ListByEvent(_ context.Context, eventType string) ([]*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Subscription
	for _, sub := range r.subs {
		if sub.Active && slices.Contains(sub.Events, eventType) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Delete implements store.
func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

// RecordDelivery implements store.
func (r *MemoryRepository) RecordDelivery(_ context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()
	cp := *d
	r.deliveries = append(r.deliveries, &cp)
	return nil
}

// Deliveries returns a snapshot of recorded delivery attempts.
func (r *MemoryRepository) Deliveries() []*Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}
