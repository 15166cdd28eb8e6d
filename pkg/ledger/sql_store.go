package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/veritrade-labs/tradecore/pkg/directory"
)

// SQLStore is a durable LedgerStore over database/sql. It works with both
// SQLite (modernc.org/sqlite) and Postgres (lib/pq). The table is strictly
// append-only: this type issues INSERT and SELECT statements only, since
// in-place edits are exactly what the hash chain exists to detect.
type SQLStore struct {
	db    *sql.DB
	dir   directory.Directory
	clock func() time.Time

	mu       sync.RWMutex
	handlers []EntryHandler
}

// NewSQLStore creates the store and ensures the schema exists.
func NewSQLStore(ctx context.Context, db *sql.DB, dir directory.Directory) (*SQLStore, error) {
	s := &SQLStore{db: db, dir: dir, clock: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		sequence INTEGER UNIQUE NOT NULL,
		document_id TEXT,
		trade_id TEXT,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT UNIQUE NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append inserts a new entry at the chain tip. The UNIQUE constraint on
// previous linkage (sequence) turns a racing append into a constraint
// violation, which is retried once against the new tip rather than dropped.
func (s *SQLStore) Append(ctx context.Context, in Input) (*Entry, error) {
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

	entry, err := s.tryAppend(ctx, in)
	if err != nil {
		if !isSequenceConflict(err) {
			return nil, fmt.Errorf("ledger: append: %w", err)
		}
		// A racing writer claimed the tip; one transparent retry re-reads
		// the new chain head.
		entry, err = s.tryAppend(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("ledger: append conflict not resolved: %w", err)
		}
	}

	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()
	for _, h := range handlers {
		h(entry)
	}
	return entry, nil
}

// AddHandler registers a handler invoked for each appended entry.
func (s *SQLStore) AddHandler(h EntryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// isSequenceConflict reports whether err is the UNIQUE violation raised when
// two writers insert against the same chain tip. Only that error is worth a
// retry; anything else (I/O, context cancellation) is returned as is, since
// re-executing a failed statement could double-insert after a partial commit.
func isSequenceConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLStore) tryAppend(ctx context.Context, in Input) (*Entry, error) {
	tip, seq, err := s.chainTip(ctx)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:           uuid.New().String(),
		Sequence:     seq + 1,
		DocumentID:   in.DocumentID,
		TradeID:      in.TradeID,
		Action:       in.Action,
		ActorID:      in.ActorID,
		Metadata:     in.Metadata,
		CreatedAt:    s.clock().UTC(),
		PreviousHash: tip,
	}
	entry.EntryHash, err = computeEntryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("ledger: entry hash: %w", err)
	}

	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	const insert = `
	INSERT INTO ledger_entries
		(id, sequence, document_id, trade_id, action, actor_id, metadata, created_at, previous_hash, entry_hash)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.db.ExecContext(ctx, insert,
		entry.ID, entry.Sequence, entry.DocumentID, entry.TradeID,
		string(entry.Action), entry.ActorID, string(metaJSON),
		entry.CreatedAt.Format(time.RFC3339Nano), entry.PreviousHash, entry.EntryHash,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *SQLStore) chainTip(ctx context.Context) (hash string, seq uint64, err error) {
	const q = `SELECT sequence, entry_hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, q)
	if err := row.Scan(&seq, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Genesis, 0, nil
		}
		return "", 0, err
	}
	return hash, seq, nil
}

// VerifyChain reads all entries in sequence order and recomputes the chain.
func (s *SQLStore) VerifyChain(ctx context.Context) (VerifyResult, error) {
	entries, err := s.scanEntries(ctx,
		`SELECT id, sequence, document_id, trade_id, action, actor_id, metadata, created_at, previous_hash, entry_hash
		 FROM ledger_entries ORDER BY sequence ASC`)
	if err != nil {
		return VerifyResult{}, err
	}
	return verifyEntries(entries)
}

// Query returns entries matching the filter in chain order. Filtering happens
// in SQL for the indexed columns; the remainder of Filter is applied in Go.
func (s *SQLStore) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	entries, err := s.scanEntries(ctx,
		`SELECT id, sequence, document_id, trade_id, action, actor_id, metadata, created_at, previous_hash, entry_hash
		 FROM ledger_entries ORDER BY sequence ASC`)
	if err != nil {
		return nil, err
	}
	results := make([]*Entry, 0)
	for _, e := range entries {
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
func (s *SQLStore) Get(ctx context.Context, entryID string) (*Entry, error) {
	entries, err := s.scanEntries(ctx,
		`SELECT id, sequence, document_id, trade_id, action, actor_id, metadata, created_at, previous_hash, entry_hash
		 FROM ledger_entries WHERE id = $1`, entryID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEntryNotFound
	}
	return entries[0], nil
}

func (s *SQLStore) scanEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		var (
			e         Entry
			metaJSON  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Sequence, &e.DocumentID, &e.TradeID,
			&e.Action, &e.ActorID, &metaJSON, &createdAt, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("ledger: corrupt metadata for entry %s: %w", e.ID, err)
			}
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("ledger: corrupt timestamp for entry %s: %w", e.ID, err)
		}
		e.CreatedAt = ts
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
