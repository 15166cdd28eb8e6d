package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veritrade-labs/tradecore/pkg/ledger"
	"github.com/veritrade-labs/tradecore/pkg/risk"
)

// investigationWindow is how many subsequent ledger entries a verification
// failure may go unanswered before it is alertable.
const investigationWindow = 5

// Detector runs one-shot pattern rules over ledger, risk, and trade state.
type Detector struct {
	ledger   ledger.Store
	scores   risk.ScoreStore
	store    AlertStore
	celRules []*CELRule
	actorID  string
	clock    func() time.Time
	logger   *slog.Logger
}

// NewDetector creates a detector recording its audit trail under actorID.
func NewDetector(l ledger.Store, scores risk.ScoreStore, store AlertStore, actorID string) *Detector {
	return &Detector{
		ledger:  l,
		scores:  scores,
		store:   store,
		actorID: actorID,
		clock:   time.Now,
		logger:  slog.Default(),
	}
}

// WithCELRules adds operator-defined rules evaluated per ledger entry.
func (d *Detector) WithCELRules(rules ...*CELRule) *Detector {
	d.celRules = append(d.celRules, rules...)
	return d
}

// WithClock overrides the clock for testing.
func (d *Detector) WithClock(clock func() time.Time) *Detector {
	d.clock = clock
	return d
}

// DetectPatterns scans current state and raises one OPEN alert per newly
// matched fact. It is idempotent against already-alerted conditions: while
// an alert for a (type, target) key is OPEN or INVESTIGATING, re-running the
// scan does not raise a duplicate.
func (d *Detector) DetectPatterns(ctx context.Context) ([]*Alert, error) {
	entries, err := d.ledger.Query(ctx, ledger.Filter{})
	if err != nil {
		return nil, fmt.Errorf("alerts: read ledger: %w", err)
	}

	var candidates []*Alert
	candidates = append(candidates, d.uninvestigatedFailures(entries)...)
	candidates = append(candidates, d.failedLedgerEvents(entries)...)
	candidates = append(candidates, d.repeatedDisputes(entries)...)

	criticals, err := d.criticalRiskUsers(ctx)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, criticals...)

	celMatches, err := d.evalCELRules(entries)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, celMatches...)

	var raised []*Alert
	for _, a := range candidates {
		created, err := d.raise(ctx, a)
		if err != nil {
			return nil, err
		}
		if created != nil {
			raised = append(raised, created)
		}
	}
	return raised, nil
}

// raise creates the alert unless an active one already covers its key.
func (d *Detector) raise(ctx context.Context, a *Alert) (*Alert, error) {
	if _, err := d.store.ActiveByKey(ctx, a.DedupKey()); err == nil {
		return nil, nil // already alerted
	} else if !errors.Is(err, ErrAlertNotFound) {
		return nil, fmt.Errorf("alerts: dedup lookup: %w", err)
	}

	a.ID = uuid.New().String()
	a.Status = StatusOpen
	a.DetectedAt = d.clock().UTC()
	if err := d.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("alerts: create alert: %w", err)
	}

	d.logger.Info("compliance alert raised",
		"alert_id", a.ID, "alert_type", string(a.Type), "severity", string(a.Severity))
	return a, nil
}

// uninvestigatedFailures finds VERIFICATION_FAILED entries with no
// investigative follow-up for the same document within the window.
func (d *Detector) uninvestigatedFailures(entries []*ledger.Entry) []*Alert {
	var out []*Alert
	for i, e := range entries {
		if e.Action != ledger.ActionVerificationFailed || e.DocumentID == "" {
			continue
		}
		// Not yet due: fewer than investigationWindow entries have followed.
		if len(entries)-i-1 < investigationWindow {
			continue
		}
		investigated := false
		for _, later := range entries[i+1 : i+1+investigationWindow] {
			if later.DocumentID == e.DocumentID &&
				(later.Action == ledger.ActionInvestigated || later.Action == ledger.ActionVerified) {
				investigated = true
				break
			}
		}
		if !investigated {
			out = append(out, &Alert{
				Type:       TypeUninvestigatedFailure,
				Severity:   SeverityHigh,
				DocumentID: e.DocumentID,
				Detail:     fmt.Sprintf("verification failure at sequence %d has no follow-up", e.Sequence),
			})
		}
	}
	return out
}

// failedLedgerEvents finds entries whose metadata result is FAIL.
func (d *Detector) failedLedgerEvents(entries []*ledger.Entry) []*Alert {
	var out []*Alert
	for _, e := range entries {
		result, ok := e.Metadata.String("result")
		if !ok || result != "FAIL" {
			continue
		}
		out = append(out, &Alert{
			Type:       TypeFailedLedgerEvent,
			Severity:   SeverityMedium,
			DocumentID: e.DocumentID,
			TradeID:    e.TradeID,
			UserID:     userTargetFor(e),
			Detail:     fmt.Sprintf("ledger entry %s recorded result FAIL", e.ID),
		})
	}
	return out
}

// userTargetFor picks the user target only when the entry has no narrower
// document or trade target, keeping dedup keys stable.
func userTargetFor(e *ledger.Entry) string {
	if e.DocumentID == "" && e.TradeID == "" {
		return e.ActorID
	}
	return ""
}

// repeatedDisputes finds trades disputed more than once.
func (d *Detector) repeatedDisputes(entries []*ledger.Entry) []*Alert {
	disputes := make(map[string]int)
	for _, e := range entries {
		if e.Action == ledger.ActionDisputed && e.TradeID != "" {
			disputes[e.TradeID]++
		}
	}

	var out []*Alert
	for tradeID, n := range disputes {
		if n > 1 {
			out = append(out, &Alert{
				Type:     TypeRepeatedDispute,
				Severity: SeverityHigh,
				TradeID:  tradeID,
				Detail:   fmt.Sprintf("trade disputed %d times", n),
			})
		}
	}
	return out
}

// criticalRiskUsers flags users whose stored risk category is CRITICAL.
func (d *Detector) criticalRiskUsers(ctx context.Context) ([]*Alert, error) {
	if d.scores == nil {
		return nil, nil
	}
	scores, err := d.scores.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("alerts: read risk scores: %w", err)
	}

	var out []*Alert
	for _, s := range scores {
		if s.Category == risk.CategoryCritical {
			out = append(out, &Alert{
				Type:     TypeCriticalRiskUser,
				Severity: SeverityCritical,
				UserID:   s.UserID,
				Detail:   fmt.Sprintf("risk score %.1f under policy %s", s.Score, s.PolicyVersion),
			})
		}
	}
	return out, nil
}

// UpdateStatus applies a user-driven transition. Terminal transitions are
// recorded as ledger entries for traceability; an attempt to move an
// already-terminal alert is rejected with its current status.
func (d *Detector) UpdateStatus(ctx context.Context, alertID string, next Status, notes string) (*Alert, error) {
	a, err := d.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !a.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: alert is %s", ErrInvalidTransition, a.Status)
	}

	a.Status = next
	if notes != "" {
		a.Notes = notes
	}
	if next.Terminal() {
		now := d.clock().UTC()
		a.ResolvedAt = &now
	}
	if err := d.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("alerts: update alert: %w", err)
	}

	if next.Terminal() {
		action := ledger.ActionAlertResolved
		if next == StatusDismissed {
			action = ledger.ActionAlertDismissed
		}
		_, err = d.ledger.Append(ctx, ledger.Input{
			Action:     action,
			ActorID:    d.actorID,
			DocumentID: a.DocumentID,
			TradeID:    a.TradeID,
			Metadata: ledger.Metadata{
				"alert_id":   a.ID,
				"alert_type": string(a.Type),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("alerts: record transition: %w", err)
		}
	}
	return a, nil
}

// List returns alerts matching the filter.
func (d *Detector) List(ctx context.Context, f ListFilter) ([]*Alert, error) {
	return d.store.List(ctx, f)
}
