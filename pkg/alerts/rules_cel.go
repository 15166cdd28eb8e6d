package alerts

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/veritrade-labs/tradecore/pkg/ledger"
)

// CELRule is an operator-defined pattern rule evaluated against each ledger
// entry. The expression sees an `entry` variable with action, actor_id,
// document_id, trade_id, and metadata fields, and must evaluate to a bool.
//
// Example: entry.action == "AMENDED" && entry.metadata.result == "FAIL"
type CELRule struct {
	Name       string
	Severity   Severity
	Expression string

	program cel.Program
}

// CompileCELRules builds the shared environment and compiles every rule.
// A rule that fails to compile rejects the whole set; bad rules should not
// silently drop out of a compliance scan.
func CompileCELRules(rules []CELRule) ([]*CELRule, error) {
	env, err := cel.NewEnv(cel.Variable("entry", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("alerts: create CEL environment: %w", err)
	}

	out := make([]*CELRule, 0, len(rules))
	for i := range rules {
		r := rules[i]
		ast, iss := env.Compile(r.Expression)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("alerts: compile rule %q: %w", r.Name, iss.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("alerts: build rule %q: %w", r.Name, err)
		}
		r.program = prg
		out = append(out, &r)
	}
	return out, nil
}

// evalCELRules runs every rule against every entry. Evaluation errors
// (typically a rule touching a metadata key the entry lacks) count as
// non-matches rather than failing the scan.
func (d *Detector) evalCELRules(entries []*ledger.Entry) ([]*Alert, error) {
	var out []*Alert
	for _, rule := range d.celRules {
		for _, e := range entries {
			matched, err := rule.eval(e)
			if err != nil {
				d.logger.Debug("CEL rule evaluation skipped entry",
					"rule", rule.Name, "entry_id", e.ID, "err", err)
				continue
			}
			if !matched {
				continue
			}
			out = append(out, &Alert{
				Type:       Type(rule.Name),
				Severity:   rule.Severity,
				DocumentID: e.DocumentID,
				TradeID:    e.TradeID,
				UserID:     userTargetFor(e),
				Detail:     fmt.Sprintf("rule %q matched entry %s", rule.Name, e.ID),
			})
		}
	}
	return out, nil
}

func (r *CELRule) eval(e *ledger.Entry) (bool, error) {
	metadata := map[string]any(e.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	val, _, err := r.program.Eval(map[string]any{
		"entry": map[string]any{
			"action":      string(e.Action),
			"actor_id":    e.ActorID,
			"document_id": e.DocumentID,
			"trade_id":    e.TradeID,
			"sequence":    int64(e.Sequence),
			"metadata":    metadata,
		},
	})
	if err != nil {
		return false, err
	}
	matched, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to bool", r.Name)
	}
	return matched, nil
}
