package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veritrade-labs/tradecore/pkg/directory"
	"github.com/veritrade-labs/tradecore/pkg/document"
	"github.com/veritrade-labs/tradecore/pkg/ledger"
	"github.com/veritrade-labs/tradecore/pkg/trade"
)

// ComponentScore is one line of the rationale breakdown. The total score is
// reconstructible from the rationale alone: Points = Weight * Ratio * 100.
type ComponentScore struct {
	Component   string  `json:"component"`
	Weight      float64 `json:"weight"`
	Numerator   int     `json:"numerator"`
	Denominator int     `json:"denominator"`
	Ratio       float64 `json:"ratio"`
	Points      float64 `json:"points"`
}

// Score is the derived risk record for one user. It is recomputable at any
// time from history and carries no independent authority.
type Score struct {
	UserID        string           `json:"user_id"`
	Score         float64          `json:"score"`
	Category      Category         `json:"category"`
	PolicyVersion string           `json:"policy_version"`
	Rationale     []ComponentScore `json:"rationale"`
	LastUpdated   time.Time        `json:"last_updated"`
}

// ExternalSignal supplies the reserved residual component. Implementations
// return a ratio in [0,1]; ok=false means no data, which contributes 0.
type ExternalSignal interface {
	Ratio(ctx context.Context, userID string) (ratio float64, ok bool, err error)
}

// Engine computes weighted risk scores. It only reads ledger, document, and
// transaction history and only writes its own Score records.
type Engine struct {
	policy   Policy
	ledger   ledger.Store
	docs     document.Repository
	trades   trade.Repository
	dir      directory.Directory
	scores   ScoreStore
	external ExternalSignal
	clock    func() time.Time
	logger   *slog.Logger
}

// NewEngine creates an engine with the given policy and data sources.
func NewEngine(policy Policy, l ledger.Store, docs document.Repository, trades trade.Repository, dir directory.Directory, scores ScoreStore) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		policy: policy,
		ledger: l,
		docs:   docs,
		trades: trades,
		dir:    dir,
		scores: scores,
		clock:  time.Now,
		logger: slog.Default(),
	}, nil
}

// WithExternalSignal plugs in the residual component source.
func (e *Engine) WithExternalSignal(s ExternalSignal) *Engine {
	e.external = s
	return e
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// ComputeRisk recomputes the score for userID from current history and
// stores the result. Recomputation is idempotent and side-effect-free apart
// from the stored Score and its LastUpdated timestamp; it never mutates the
// ledger or documents it reads.
func (e *Engine) ComputeRisk(ctx context.Context, userID string) (*Score, error) {
	docComp, err := e.documentComponent(ctx, userID)
	if err != nil {
		return nil, err
	}
	ledComp, err := e.ledgerComponent(ctx, userID)
	if err != nil {
		return nil, err
	}
	txComp, err := e.transactionComponent(ctx, userID)
	if err != nil {
		return nil, err
	}
	extComp, err := e.externalComponent(ctx, userID)
	if err != nil {
		return nil, err
	}

	rationale := []ComponentScore{docComp, ledComp, txComp, extComp}
	total := 0.0
	for _, c := range rationale {
		total += c.Points
	}
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	score := &Score{
		UserID:        userID,
		Score:         total,
		Category:      e.policy.Categorize(total),
		PolicyVersion: e.policy.Version,
		Rationale:     rationale,
		LastUpdated:   e.clock().UTC(),
	}
	if e.scores != nil {
		if err := e.scores.Put(ctx, score); err != nil {
			return nil, fmt.Errorf("risk: store score: %w", err)
		}
	}

	e.logger.Debug("risk score computed",
		"user_id", userID, "score", total, "category", string(score.Category))
	return score, nil
}

// RecalculateAll recomputes scores for every principal in the directory.
func (e *Engine) RecalculateAll(ctx context.Context) ([]*Score, error) {
	ids, err := e.dir.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: list principals: %w", err)
	}
	out := make([]*Score, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s, err := e.ComputeRisk(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("risk: recompute %s: %w", id, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// component builds a ComponentScore from a ratio. A zero denominator
// contributes 0: no data is no evidence of risk, not an error.
func component(name string, weight float64, num, den int) ComponentScore {
	c := ComponentScore{Component: name, Weight: weight, Numerator: num, Denominator: den}
	if den > 0 {
		c.Ratio = float64(num) / float64(den)
		c.Points = weight * c.Ratio * 100
	}
	return c
}

func (e *Engine) documentComponent(ctx context.Context, userID string) (ComponentScore, error) {
	docs, err := e.docs.ListByOwner(ctx, userID)
	if err != nil {
		return ComponentScore{}, fmt.Errorf("risk: list documents: %w", err)
	}

	failed := 0
	for _, d := range docs {
		entries, err := e.ledger.Query(ctx, ledger.Filter{
			DocumentID: d.ID,
			Action:     ledger.ActionVerificationFailed,
			Limit:      1,
		})
		if err != nil {
			return ComponentScore{}, fmt.Errorf("risk: query verifications: %w", err)
		}
		if len(entries) > 0 {
			failed++
		}
	}
	return component("document_integrity", e.policy.Weights.Document, failed, len(docs)), nil
}

func (e *Engine) ledgerComponent(ctx context.Context, userID string) (ComponentScore, error) {
	entries, err := ledger.EntriesForActor(ctx, e.ledger, userID)
	if err != nil {
		return ComponentScore{}, fmt.Errorf("risk: query ledger activity: %w", err)
	}

	failed := 0
	for _, entry := range entries {
		if entry.Action == ledger.ActionVerificationFailed {
			failed++
			continue
		}
		if result, ok := entry.Metadata.String("result"); ok && result == "FAIL" {
			failed++
		}
	}
	return component("ledger_activity", e.policy.Weights.Ledger, failed, len(entries)), nil
}

func (e *Engine) transactionComponent(ctx context.Context, userID string) (ComponentScore, error) {
	txs, err := e.trades.List(ctx, userID)
	if err != nil {
		return ComponentScore{}, fmt.Errorf("risk: list transactions: %w", err)
	}

	disputed := 0
	for _, tx := range txs {
		if tx.Status == trade.StatusDisputed {
			disputed++
		}
	}
	return component("transaction_behavior", e.policy.Weights.Transaction, disputed, len(txs)), nil
}

func (e *Engine) externalComponent(ctx context.Context, userID string) (ComponentScore, error) {
	c := ComponentScore{Component: "external", Weight: e.policy.Weights.External}
	if e.external == nil {
		return c, nil
	}
	ratio, ok, err := e.external.Ratio(ctx, userID)
	if err != nil {
		return ComponentScore{}, fmt.Errorf("risk: external signal: %w", err)
	}
	if !ok {
		return c, nil
	}
	c.Ratio = ratio
	c.Numerator = -1 // ratio supplied directly, not derived from counts
	c.Denominator = -1
	c.Points = c.Weight * ratio * 100
	return c, nil
}
