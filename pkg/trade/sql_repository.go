package trade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLRepository implements Repository over database/sql; it works with both
// SQLite and Postgres drivers.
type SQLRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLRepository creates the repository and ensures the schema exists.
func NewSQLRepository(ctx context.Context, db *sql.DB) (*SQLRepository, error) {
	r := &SQLRepository{db: db, clock: time.Now}
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_transactions (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("trade: migrate: %w", err)
	}
	return r, nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*Transaction, error) {
	const q = `SELECT id, buyer_id, seller_id, amount, currency, status, created_at, updated_at
		FROM trade_transactions WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLRepository) List(ctx context.Context, userID string) ([]*Transaction, error) {
	query := `SELECT id, buyer_id, seller_id, amount, currency, status, created_at, updated_at
		FROM trade_transactions ORDER BY created_at ASC`
	args := []any{}
	if userID != "" {
		query = `SELECT id, buyer_id, seller_id, amount, currency, status, created_at, updated_at
			FROM trade_transactions WHERE buyer_id = $1 OR seller_id = $2 ORDER BY created_at ASC`
		args = []any{userID, userID}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Transaction
	for rows.Next() {
		tx, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLRepository) Create(ctx context.Context, tx *Transaction) error {
	now := r.clock().UTC()
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	const q = `INSERT INTO trade_transactions
		(id, buyer_id, seller_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, q,
		tx.ID, tx.BuyerID, tx.SellerID, tx.Amount, tx.Currency, string(tx.Status),
		tx.CreatedAt.Format(time.RFC3339Nano), tx.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// UpdateStatus applies a validated transition. The WHERE clause re-checks the
// current status so a concurrent transition cannot slip past the table.
func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, next Status) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransition(next) {
		return transitionError(current.Status, next)
	}

	const q = `UPDATE trade_transactions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, q,
		string(next), r.clock().UTC().Format(time.RFC3339Nano), id, string(current.Status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return transitionError(current.Status, next)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanOne(row *sql.Row) (*Transaction, error) {
	tx, err := r.scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (r *SQLRepository) scanRow(row rowScanner) (*Transaction, error) {
	var (
		tx                   Transaction
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&tx.ID, &tx.BuyerID, &tx.SellerID, &tx.Amount, &tx.Currency,
		&status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	tx.Status = Status(status)

	var err error
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("trade: corrupt created_at for %s: %w", tx.ID, err)
	}
	if tx.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("trade: corrupt updated_at for %s: %w", tx.ID, err)
	}
	return &tx, nil
}
