// Package risk converts ledger, document, and transaction history into a
// bounded per-user risk score. Weights and category thresholds live in one
// versioned policy; UI-side recomputation with drifting constants is exactly
// the failure mode this package exists to eliminate.
package risk

import (
	"fmt"
	"math"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Category is a discrete risk bucket derived from the continuous score.
type Category string

const (
	CategoryLow      Category = "LOW"
	CategoryMedium   Category = "MEDIUM"
	CategoryHigh     Category = "HIGH"
	CategoryCritical Category = "CRITICAL"
)

// Weights are the component weight fractions; they must sum to 1.
type Weights struct {
	Document    float64 `yaml:"document" json:"document"`
	Ledger      float64 `yaml:"ledger" json:"ledger"`
	Transaction float64 `yaml:"transaction" json:"transaction"`
	External    float64 `yaml:"external" json:"external"`
}

// Thresholds are the category cutoffs on the 0-100 score. Critical is
// optional: when nil the policy is a 3-tier set and everything at or above
// High stays HIGH.
type Thresholds struct {
	Medium   float64  `yaml:"medium" json:"medium"`
	High     float64  `yaml:"high" json:"high"`
	Critical *float64 `yaml:"critical,omitempty" json:"critical,omitempty"`
}

// Policy is the versioned scoring configuration.
type Policy struct {
	Version    string     `yaml:"version" json:"version"`
	Weights    Weights    `yaml:"weights" json:"weights"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
}

// DefaultPolicy is the canonical configuration: the 4-tier category set with
// cutoffs 30/60/80. A 3-tier policy (no critical cutoff) remains loadable
// for deployments that predate the CRITICAL tier.
func DefaultPolicy() Policy {
	critical := 80.0
	return Policy{
		Version: "1.0.0",
		Weights: Weights{
			Document:    0.40,
			Ledger:      0.25,
			Transaction: 0.25,
			External:    0.10,
		},
		Thresholds: Thresholds{Medium: 30, High: 60, Critical: &critical},
	}
}

// LoadPolicy reads and validates a policy YAML file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("risk: load policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("risk: parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks version syntax, weight sum, and threshold ordering.
func (p Policy) Validate() error {
	if _, err := semver.NewVersion(p.Version); err != nil {
		return fmt.Errorf("risk: policy version %q: %w", p.Version, err)
	}
	sum := p.Weights.Document + p.Weights.Ledger + p.Weights.Transaction + p.Weights.External
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("risk: weights sum to %.4f, want 1.0", sum)
	}
	if p.Thresholds.Medium <= 0 || p.Thresholds.High <= p.Thresholds.Medium {
		return fmt.Errorf("risk: thresholds must satisfy 0 < medium < high")
	}
	if p.Thresholds.Critical != nil && *p.Thresholds.Critical <= p.Thresholds.High {
		return fmt.Errorf("risk: critical cutoff must exceed high cutoff")
	}
	return nil
}

// Categorize maps a score to its bucket.
func (p Policy) Categorize(score float64) Category {
	switch {
	case p.Thresholds.Critical != nil && score >= *p.Thresholds.Critical:
		return CategoryCritical
	case score >= p.Thresholds.High:
		return CategoryHigh
	case score >= p.Thresholds.Medium:
		return CategoryMedium
	default:
		return CategoryLow
	}
}
