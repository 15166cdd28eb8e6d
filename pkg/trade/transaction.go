// Package trade models trade transactions and their monotonic status
// state machine. Status comparisons use a closed enum and an explicit
// transition table, never ad hoc string matching.
package trade

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("trade: transaction not found")
	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("trade: invalid status transition")
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPaid       Status = "paid"
	StatusDisputed   Status = "disputed"
)

// transitions is the monotonic state machine: completed, paid, and disputed
// are terminal for normal flow.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusDisputed},
	StatusInProgress: {StatusCompleted, StatusPaid, StatusDisputed},
	StatusCompleted:  {},
	StatusPaid:       {},
	StatusDisputed:   {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transaction is a trade between a buyer and a seller.
type Transaction struct {
	ID        string    `json:"id"`
	BuyerID   string    `json:"buyer_id"`
	SellerID  string    `json:"seller_id"`
	Amount    int64     `json:"amount"` // minor currency units
	Currency  string    `json:"currency"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Involves reports whether userID is a party to the transaction.
func (t *Transaction) Involves(userID string) bool {
	return t.BuyerID == userID || t.SellerID == userID
}

// transitionError builds the rejection carrying the current status.
func transitionError(current, next Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}
