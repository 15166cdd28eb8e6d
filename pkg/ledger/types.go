// Package ledger implements the append-only, tamper-evident action ledger.
// Every action taken on a trade document or transaction is recorded as an
// immutable hash-chained entry; any out-of-band edit to a historical entry
// invalidates the chain from that point on and is detectable via VerifyChain.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Genesis is the sentinel previous_hash of the first entry in a chain.
// It is a fixed marker, never a real hash.
const Genesis = "GENESIS"

var (
	// ErrChainBroken reports a recomputed hash mismatch. Fatal for trust in
	// the chain; the store never repairs a break.
	ErrChainBroken = errors.New("ledger: hash chain is broken")
	// ErrEntryNotFound is returned when an entry lookup misses.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrUnknownActor is returned when an append names an unresolvable actor.
	ErrUnknownActor = errors.New("ledger: unknown actor")
	// ErrInvalidMetadata is returned when entry metadata fails schema validation.
	ErrInvalidMetadata = errors.New("ledger: invalid metadata")
)

// Action categorizes what a ledger entry records. Closed enum; free-form
// action strings are rejected at append time.
type Action string

const (
	ActionDocumentUploaded   Action = "DOCUMENT_UPLOADED"
	ActionIssued             Action = "ISSUED"
	ActionVerified           Action = "VERIFIED"
	ActionVerificationFailed Action = "VERIFICATION_FAILED"
	ActionAmended            Action = "AMENDED"
	ActionShipped            Action = "SHIPPED"
	ActionReceived           Action = "RECEIVED"
	ActionPaid               Action = "PAID"
	ActionDisputed           Action = "DISPUTED"
	ActionInvestigated       Action = "INVESTIGATED"
	ActionAlertRaised        Action = "ALERT_RAISED"
	ActionAlertResolved      Action = "ALERT_RESOLVED"
	ActionAlertDismissed     Action = "ALERT_DISMISSED"
)

var knownActions = map[Action]bool{
	ActionDocumentUploaded:   true,
	ActionIssued:             true,
	ActionVerified:           true,
	ActionVerificationFailed: true,
	ActionAmended:            true,
	ActionShipped:            true,
	ActionReceived:           true,
	ActionPaid:               true,
	ActionDisputed:           true,
	ActionInvestigated:       true,
	ActionAlertRaised:        true,
	ActionAlertResolved:      true,
	ActionAlertDismissed:     true,
}

// Valid reports whether a is a member of the closed action set.
func (a Action) Valid() bool { return knownActions[a] }

// Entry is a single immutable record in the ledger. Entries are never
// updated or deleted after creation; corrections are new entries.
type Entry struct {
	ID           string    `json:"id"`
	Sequence     uint64    `json:"sequence"`
	DocumentID   string    `json:"document_id,omitempty"`
	TradeID      string    `json:"trade_id,omitempty"`
	Action       Action    `json:"action"`
	ActorID      string    `json:"actor_id"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	PreviousHash string    `json:"previous_hash"`
	EntryHash    string    `json:"entry_hash"`
}

// Input carries the caller-supplied fields of an append.
type Input struct {
	Action     Action
	ActorID    string
	DocumentID string
	TradeID    string
	Metadata   Metadata
}

// VerifyResult is the outcome of a chain verification walk.
type VerifyResult struct {
	Valid       bool   `json:"valid"`
	Checked     int    `json:"checked"`
	BrokenIndex int    `json:"broken_index"` // -1 when valid
	Reason      string `json:"reason,omitempty"`
}

// Filter selects a read-only view of the global chain.
type Filter struct {
	DocumentID string
	TradeID    string
	ActorID    string
	Action     Action
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

func (f Filter) matches(e *Entry) bool {
	if f.DocumentID != "" && e.DocumentID != f.DocumentID {
		return false
	}
	if f.TradeID != "" && e.TradeID != f.TradeID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// Store is the ledger contract consumed by the analysis engines. All methods
// are safe for concurrent use; Append is a single atomic write.
type Store interface {
	Append(ctx context.Context, in Input) (*Entry, error)
	VerifyChain(ctx context.Context) (VerifyResult, error)
	Query(ctx context.Context, f Filter) ([]*Entry, error)
	Get(ctx context.Context, entryID string) (*Entry, error)
}
