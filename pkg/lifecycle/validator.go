package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/veritrade-labs/tradecore/pkg/document"
	"github.com/veritrade-labs/tradecore/pkg/ledger"
)

// EventFinding is the per-entry validation outcome.
type EventFinding struct {
	EntryID   string    `json:"entry_id"`
	Action    Stage     `json:"action"`
	CreatedAt time.Time `json:"created_at"`
	IsValid   bool      `json:"is_valid"`
	Notes     []string  `json:"validation_notes,omitempty"`
}

// Report is the full lifecycle analysis for one document.
type Report struct {
	DocumentID       string         `json:"document_id"`
	DocumentType     document.Type  `json:"document_type"`
	MissingStages    []Stage        `json:"missing_stages"`
	DuplicateActions []Stage        `json:"duplicate_actions"`
	IsSequenceValid  bool           `json:"is_sequence_valid"`
	Events           []EventFinding `json:"events"`
}

// Validator folds ledger sub-sequences into lifecycle reports.
type Validator struct {
	ledger ledger.Store
	docs   document.Repository
	models *ModelSet
}

// NewValidator creates a validator over the given ledger and document source.
func NewValidator(store ledger.Store, docs document.Repository, models *ModelSet) *Validator {
	if models == nil {
		models = NewModelSet()
	}
	return &Validator{ledger: store, docs: docs, models: models}
}

// Analyze validates the recorded action sequence for documentID. The walk is
// deterministic and re-entrant: the same ledger state always produces the
// same report.
func (v *Validator) Analyze(ctx context.Context, documentID string) (Report, error) {
	doc, err := v.docs.Get(ctx, documentID)
	if err != nil {
		return Report{}, fmt.Errorf("lifecycle: resolve document: %w", err)
	}
	entries, err := ledger.EntriesForDocument(ctx, v.ledger, documentID)
	if err != nil {
		return Report{}, fmt.Errorf("lifecycle: read ledger: %w", err)
	}

	model := v.models.For(doc.Type)
	report := Report{
		DocumentID:       documentID,
		DocumentType:     doc.Type,
		MissingStages:    []Stage{},
		DuplicateActions: []Stage{},
		IsSequenceValid:  true,
	}

	seen := make(map[Stage]int)
	for _, e := range entries {
		finding := EventFinding{
			EntryID:   e.ID,
			Action:    e.Action,
			CreatedAt: e.CreatedAt,
			IsValid:   true,
		}

		rule, isStage := model.rule(e.Action)
		switch {
		case isStage:
			for _, req := range rule.Requires {
				if seen[req] == 0 {
					finding.IsValid = false
					finding.Notes = append(finding.Notes,
						fmt.Sprintf("%s recorded before required stage %s", e.Action, req))
				}
			}
			if !rule.Repeatable && seen[e.Action] > 0 {
				finding.IsValid = false
				finding.Notes = append(finding.Notes,
					fmt.Sprintf("%s recorded more than once", e.Action))
				if !containsStage(report.DuplicateActions, e.Action) {
					report.DuplicateActions = append(report.DuplicateActions, e.Action)
				}
			}
			seen[e.Action]++
		case model.exceptional(e.Action):
			// Side-branch stages are legal at any point after issuance.
			if seen[ledger.ActionIssued] == 0 {
				finding.IsValid = false
				finding.Notes = append(finding.Notes,
					fmt.Sprintf("%s recorded before document was issued", e.Action))
			}
		default:
			// Non-stage entries (verification results, alert trail) carry no
			// ordering obligations.
		}

		report.Events = append(report.Events, finding)
	}

	// A present stage implies all of its required predecessors. Anything
	// implied but absent is a missing stage.
	for _, r := range model.Stages {
		if seen[r.Stage] == 0 {
			continue
		}
		for _, req := range requiredClosure(model, r.Stage) {
			if seen[req] == 0 && !containsStage(report.MissingStages, req) {
				report.MissingStages = append(report.MissingStages, req)
			}
		}
	}

	if len(report.MissingStages) > 0 || len(report.DuplicateActions) > 0 {
		report.IsSequenceValid = false
	}
	return report, nil
}

// requiredClosure returns the transitive set of stages required before s.
func requiredClosure(m Model, s Stage) []Stage {
	var out []Stage
	var walk func(Stage)
	walk = func(stage Stage) {
		rule, ok := m.rule(stage)
		if !ok {
			return
		}
		for _, req := range rule.Requires {
			if !containsStage(out, req) {
				out = append(out, req)
				walk(req)
			}
		}
	}
	walk(s)
	return out
}

func containsStage(stages []Stage, s Stage) bool {
	for _, x := range stages {
		if x == s {
			return true
		}
	}
	return false
}
