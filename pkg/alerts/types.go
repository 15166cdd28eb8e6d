// Package alerts scans ledger, verification, risk, and trade state for
// suspicious patterns and tracks the resulting compliance alerts. Alerts are
// never silently deleted; they leave only through an explicit, audited
// resolve or dismiss transition.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrAlertNotFound = errors.New("alerts: alert not found")
	// ErrInvalidTransition rejects resolve/dismiss of an already-terminal
	// alert; the message carries the current status.
	ErrInvalidTransition = errors.New("alerts: invalid status transition")
)

// Type identifies the pattern that raised an alert.
type Type string

const (
	TypeUninvestigatedFailure Type = "UNINVESTIGATED_VERIFICATION_FAILURE"
	TypeCriticalRiskUser      Type = "CRITICAL_RISK_USER"
	TypeRepeatedDispute       Type = "REPEATED_DISPUTE"
	TypeFailedLedgerEvent     Type = "FAILED_LEDGER_EVENT"
)

// Severity grades an alert for triage.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Status is the review state of an alert.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusInvestigating Status = "INVESTIGATING"
	StatusResolved      Status = "RESOLVED"
	StatusDismissed     Status = "DISMISSED"
)

var statusTransitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating, StatusResolved, StatusDismissed},
	StatusInvestigating: {StatusResolved, StatusDismissed},
	StatusResolved:      {},
	StatusDismissed:     {},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a closed state.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// Alert is a detected, trackable finding requiring human review.
type Alert struct {
	ID         string     `json:"id"`
	Type       Type       `json:"alert_type"`
	Severity   Severity   `json:"severity"`
	Status     Status     `json:"status"`
	DocumentID string     `json:"document_id,omitempty"`
	TradeID    string     `json:"trade_id,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// DedupKey identifies the underlying fact an alert refers to. While an alert
// for a key is OPEN or INVESTIGATING, the detector will not raise another.
func (a *Alert) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", a.Type, a.DocumentID, a.TradeID, a.UserID)
}

// ListFilter narrows List results.
type ListFilter struct {
	Status   Status
	Severity Severity
}

// AlertStore persists compliance alerts.
type AlertStore interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	List(ctx context.Context, f ListFilter) ([]*Alert, error)
	// ActiveByKey returns the OPEN or INVESTIGATING alert for a dedup key.
	ActiveByKey(ctx context.Context, key string) (*Alert, error)
}

// MemoryAlertStore is an in-memory AlertStore.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
	order  []string
}

func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{alerts: make(map[string]*Alert)}
}

func (s *MemoryAlertStore) Create(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	s.order = append(s.order, a.ID)
	return nil
}

func (s *MemoryAlertStore) Get(_ context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryAlertStore) Update(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; !ok {
		return ErrAlertNotFound
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *MemoryAlertStore) List(_ context.Context, f ListFilter) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Alert, 0)
	for _, id := range s.order {
		a := s.alerts[id]
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryAlertStore) ActiveByKey(_ context.Context, key string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		a := s.alerts[id]
		if a.DedupKey() == key && !a.Status.Terminal() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAlertNotFound
}
