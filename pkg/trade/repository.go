package trade

import (
	"context"
	"sync"
	"time"
)

// Repository provides access to trade transactions. List with an empty
// userID returns all transactions.
type Repository interface {
	Get(ctx context.Context, id string) (*Transaction, error)
	List(ctx context.Context, userID string) ([]*Transaction, error)
	Create(ctx context.Context, tx *Transaction) error
	UpdateStatus(ctx context.Context, id string, next Status) error
}

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	txs   map[string]*Transaction
	order []string
	clock func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		txs:   make(map[string]*Transaction),
		clock: time.Now,
	}
}

// WithClock overrides the clock for testing.
func (r *MemoryRepository) WithClock(clock func() time.Time) *MemoryRepository {
	r.clock = clock
	return r
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *MemoryRepository) List(_ context.Context, userID string) ([]*Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Transaction, 0)
	for _, id := range r.order {
		tx := r.txs[id]
		if userID == "" || tx.Involves(userID) {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Create(_ context.Context, tx *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock().UTC()
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	cp := *tx
	r.txs[tx.ID] = &cp
	r.order = append(r.order, tx.ID)
	return nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return ErrNotFound
	}
	if !tx.Status.CanTransition(next) {
		return transitionError(tx.Status, next)
	}
	tx.Status = next
	tx.UpdatedAt = r.clock().UTC()
	return nil
}
