// Package lifecycle validates the ordered sequence of ledger actions recorded
// for a document against an expected stage model. Analysis is a read-only
// audit view recomputed on demand; it never writes to the ledger, and its
// findings are structured results rather than errors.
package lifecycle

import (
	"github.com/veritrade-labs/tradecore/pkg/document"
	"github.com/veritrade-labs/tradecore/pkg/ledger"
)

// Stage is a named milestone in a document's expected life.
type Stage = ledger.Action

// StageRule describes one stage of a model.
type StageRule struct {
	Stage Stage
	// Requires lists stages that must have occurred before this one.
	Requires []Stage
	// Repeatable is false for stages that must occur at most once.
	Repeatable bool
}

// Model is the ordered stage set for one document type. Exceptional stages
// (AMENDED, DISPUTED) are side branches: they are always legal after ISSUED
// and do not retire the chain.
type Model struct {
	Stages      []StageRule
	Exceptional []Stage
}

func (m Model) rule(s Stage) (StageRule, bool) {
	for _, r := range m.Stages {
		if r.Stage == s {
			return r, true
		}
	}
	return StageRule{}, false
}

func (m Model) exceptional(s Stage) bool {
	for _, e := range m.Exceptional {
		if e == s {
			return true
		}
	}
	return false
}

// DefaultTradeModel is the ISSUED → VERIFIED → SHIPPED → RECEIVED → PAID
// chain shared by all trade document types unless overridden.
func DefaultTradeModel() Model {
	return Model{
		Stages: []StageRule{
			{Stage: ledger.ActionIssued, Repeatable: false},
			{Stage: ledger.ActionVerified, Requires: []Stage{ledger.ActionIssued}, Repeatable: true},
			{Stage: ledger.ActionShipped, Requires: []Stage{ledger.ActionIssued, ledger.ActionVerified}, Repeatable: false},
			{Stage: ledger.ActionReceived, Requires: []Stage{ledger.ActionShipped}, Repeatable: false},
			{Stage: ledger.ActionPaid, Requires: []Stage{ledger.ActionReceived}, Repeatable: false},
		},
		Exceptional: []Stage{ledger.ActionAmended, ledger.ActionDisputed},
	}
}

// ModelSet resolves the stage model for a document type.
type ModelSet struct {
	byType   map[document.Type]Model
	fallback Model
}

// NewModelSet creates a set whose fallback is the default trade model.
func NewModelSet() *ModelSet {
	return &ModelSet{
		byType:   make(map[document.Type]Model),
		fallback: DefaultTradeModel(),
	}
}

// Register installs a model for a specific document type.
func (s *ModelSet) Register(t document.Type, m Model) {
	s.byType[t] = m
}

// For returns the model for t, falling back to the default trade model.
func (s *ModelSet) For(t document.Type) Model {
	if m, ok := s.byType[t]; ok {
		return m
	}
	return s.fallback
}
