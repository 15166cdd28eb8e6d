package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veritrade-labs/tradecore/pkg/canonical"
	"github.com/veritrade-labs/tradecore/pkg/directory"
)

// EntryHandler is notified after an entry is durably appended. The process
// subscribes one at startup to feed the telemetry counters; tests use it to
// observe appends without polling.
type EntryHandler func(entry *Entry)

// MemoryStore is the in-process LedgerStore. The single mutex makes
// "read tip, compute hash, append" one atomic critical section, so two
// writers can never claim the same previous_hash.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []*Entry
	entryByID map[string]*Entry
	sequence  uint64
	chainHead string
	handlers  []EntryHandler

	dir    directory.Directory
	clock  func() time.Time
	logger *slog.Logger
}

// NewMemoryStore creates an empty ledger whose chain head is the Genesis
// sentinel. The directory is consulted on every append; a nil directory
// disables the known-actor precondition (tests only).
func NewMemoryStore(dir directory.Directory) *MemoryStore {
	return &MemoryStore{
		entryByID: make(map[string]*Entry),
		chainHead: Genesis,
		dir:       dir,
		clock:     time.Now,
		logger:    slog.Default(),
	}
}

// WithClock overrides the clock for testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// WithLogger overrides the default logger.
func (s *MemoryStore) WithLogger(l *slog.Logger) *MemoryStore {
	s.logger = l
	return s
}

// AddHandler registers a handler invoked for each appended entry.
// Handlers run synchronously inside the append critical section and must
// not call back into the store.
func (s *MemoryStore) AddHandler(h EntryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Append records a new immutable entry at the chain tip.
func (s *MemoryStore) Append(ctx context.Context, in Input) (*Entry, error) {
	if !in.Action.Valid() {
		return nil, fmt.Errorf("ledger: unknown action %q", in.Action)
	}
	if in.ActorID == "" {
		return nil, ErrUnknownActor
	}
	if s.dir != nil {
		if _, err := s.dir.Resolve(ctx, in.ActorID); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownActor, in.ActorID)
		}
	}
	if err := in.Metadata.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	// Entry timestamps are monotonic within the chain.
	if n := len(s.entries); n > 0 && !now.After(s.entries[n-1].CreatedAt) {
		now = s.entries[n-1].CreatedAt.Add(time.Nanosecond)
	}

	entry := &Entry{
		ID:           uuid.New().String(),
		Sequence:     s.sequence + 1,
		DocumentID:   in.DocumentID,
		TradeID:      in.TradeID,
		Action:       in.Action,
		ActorID:      in.ActorID,
		Metadata:     in.Metadata,
		CreatedAt:    now,
		PreviousHash: s.chainHead,
	}

	hash, err := computeEntryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("ledger: entry hash: %w", err)
	}
	entry.EntryHash = hash

	s.sequence++
	s.chainHead = entry.EntryHash
	s.entries = append(s.entries, entry)
	s.entryByID[entry.ID] = entry

	s.logger.Debug("ledger entry appended",
		"sequence", entry.Sequence,
		"action", string(entry.Action),
		"actor_id", entry.ActorID,
		"document_id", entry.DocumentID,
	)

	for _, h := range s.handlers {
		h(entry)
	}
	return entry, nil
}

// computeEntryHash hashes the canonical form of the entry's chained fields.
// The EntryHash field itself is excluded; PreviousHash is included, which is
// what links the chain.
func computeEntryHash(e *Entry) (string, error) {
	hashable := struct {
		Sequence     uint64   `json:"sequence"`
		DocumentID   string   `json:"document_id"`
		TradeID      string   `json:"trade_id"`
		Action       Action   `json:"action"`
		ActorID      string   `json:"actor_id"`
		Metadata     Metadata `json:"metadata"`
		CreatedAt    string   `json:"created_at"`
		PreviousHash string   `json:"previous_hash"`
	}{
		Sequence:     e.Sequence,
		DocumentID:   e.DocumentID,
		TradeID:      e.TradeID,
		Action:       e.Action,
		ActorID:      e.ActorID,
		Metadata:     e.Metadata,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339Nano),
		PreviousHash: e.PreviousHash,
	}
	return canonical.Hash(hashable)
}

// VerifyChain walks the whole chain recomputing every hash. A break is
// reported, never repaired; entries are never reordered or deleted to "fix"
// the chain.
func (s *MemoryStore) VerifyChain(_ context.Context) (VerifyResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return verifyEntries(s.entries)
}

func verifyEntries(entries []*Entry) (VerifyResult, error) {
	expectedPrev := Genesis
	for i, e := range entries {
		if e.PreviousHash != expectedPrev {
			return VerifyResult{
				Valid:       false,
				Checked:     i + 1,
				BrokenIndex: i,
				Reason:      fmt.Sprintf("previous_hash %s, expected %s", e.PreviousHash, expectedPrev),
			}, fmt.Errorf("%w: entry %d link mismatch", ErrChainBroken, i)
		}
		computed, err := computeEntryHash(e)
		if err != nil {
			return VerifyResult{Valid: false, Checked: i + 1, BrokenIndex: i, Reason: err.Error()},
				fmt.Errorf("%w: entry %d hash recomputation failed: %w", ErrChainBroken, i, err)
		}
		if computed != e.EntryHash {
			return VerifyResult{
				Valid:       false,
				Checked:     i + 1,
				BrokenIndex: i,
				Reason:      fmt.Sprintf("stored hash %s, recomputed %s", e.EntryHash, computed),
			}, fmt.Errorf("%w: entry %d content mismatch", ErrChainBroken, i)
		}
		expectedPrev = e.EntryHash
	}
	return VerifyResult{Valid: true, Checked: len(entries), BrokenIndex: -1}, nil
}

// Query returns entries matching the filter in chain order.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Entry, 0)
	for _, e := range s.entries {
		if f.matches(e) {
			results = append(results, e)
			if f.Limit > 0 && len(results) >= f.Limit {
				break
			}
		}
	}
	return results, nil
}

// Get retrieves a single entry by ID.
func (s *MemoryStore) Get(_ context.Context, entryID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entryByID[entryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// ChainHead returns the current tip hash (Genesis when empty).
func (s *MemoryStore) ChainHead() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainHead
}

// Size returns the number of entries.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
