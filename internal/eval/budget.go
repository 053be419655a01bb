// Package eval grades traces against budgets: cost ceilings, quality floors
// and letter grades suitable for CI gating.
package eval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvBudgetsDir overrides where budget documents are looked up by name.
const EnvBudgetsDir = "HUAP_BUDGETS_DIR"

// CostBudget sets spend ceilings. A zero limit is a real limit: any positive
// usage against it fails the trace.
type CostBudget struct {
	TokensMax    int     `json:"tokens_max" yaml:"tokens_max"`
	USDMax       float64 `json:"usd_max" yaml:"usd_max"`
	LatencyP95MS int64   `json:"latency_p95_ms" yaml:"latency_p95_ms"`

	// GradeThresholds maps a letter to the highest usage percentage that
	// still earns it. Usage above the D threshold is an F.
	GradeThresholds map[string]float64 `json:"grade_thresholds,omitempty" yaml:"grade_thresholds"`
}

// QualityBudget sets quality floors.
type QualityBudget struct {
	PolicyViolationsMax int      `json:"policy_violations_max" yaml:"policy_violations_max"`
	ToolErrorsMax       int      `json:"tool_errors_max" yaml:"tool_errors_max"`
	MinQualityScore     float64  `json:"min_quality_score" yaml:"min_quality_score"`
	RequiredMetrics     []string `json:"required_metrics,omitempty" yaml:"required_metrics"`
	PreferredMetrics    []string `json:"preferred_metrics,omitempty" yaml:"preferred_metrics"`

	// GradeThresholds maps a letter to the minimum weighted metric score
	// that earns it.
	GradeThresholds map[string]float64 `json:"grade_thresholds,omitempty" yaml:"grade_thresholds"`
}

// Override adjusts a budget for one scenario. Nil fields keep the default.
type Override struct {
	TokensMax           *int     `json:"tokens_max,omitempty" yaml:"tokens_max"`
	USDMax              *float64 `json:"usd_max,omitempty" yaml:"usd_max"`
	LatencyP95MS        *int64   `json:"latency_p95_ms,omitempty" yaml:"latency_p95_ms"`
	PolicyViolationsMax *int     `json:"policy_violations_max,omitempty" yaml:"policy_violations_max"`
	ToolErrorsMax       *int     `json:"tool_errors_max,omitempty" yaml:"tool_errors_max"`
	MinQualityScore     *float64 `json:"min_quality_score,omitempty" yaml:"min_quality_score"`
	RequiredMetrics     []string `json:"required_metrics,omitempty" yaml:"required_metrics"`
	PreferredMetrics    []string `json:"preferred_metrics,omitempty" yaml:"preferred_metrics"`
}

// Budget is one budget document, readable as YAML or JSON.
type Budget struct {
	Name      string              `json:"name" yaml:"name"`
	Version   string              `json:"version,omitempty" yaml:"version"`
	Cost      CostBudget          `json:"cost" yaml:"cost"`
	Quality   QualityBudget       `json:"quality" yaml:"quality"`
	Scenarios map[string]Override `json:"scenarios,omitempty" yaml:"scenarios"`
}

// DefaultBudget is the permissive baseline used when no document is given.
func DefaultBudget() *Budget {
	return &Budget{
		Name: "default",
		Cost: CostBudget{
			TokensMax:    100_000,
			USDMax:       1.0,
			LatencyP95MS: 30_000,
		},
		Quality: QualityBudget{
			PolicyViolationsMax: 0,
			ToolErrorsMax:       0,
			MinQualityScore:     0,
		},
	}
}

func defaultCostThresholds() map[string]float64 {
	return map[string]float64{"A": 60, "B": 75, "C": 90, "D": 100}
}

func defaultQualityThresholds() map[string]float64 {
	return map[string]float64{"A": 0.9, "B": 0.75, "C": 0.6, "D": 0.5}
}

// LoadBudget reads a budget document. The extension decides the decoder;
// yaml.v3 also accepts JSON, so .json files go through the same path.
func LoadBudget(path string) (*Budget, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var budget Budget
	if err := yaml.Unmarshal(b, &budget); err != nil {
		return nil, fmt.Errorf("budget %s: %w", path, err)
	}
	if budget.Name == "" {
		budget.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &budget, nil
}

// FindBudget resolves a budget by name inside the budgets directory, trying
// the yaml, yml and json extensions in that order.
func FindBudget(name string) (*Budget, error) {
	dir := strings.TrimSpace(os.Getenv(EnvBudgetsDir))
	if dir == "" {
		dir = "budgets"
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return LoadBudget(path)
		}
	}
	return nil, fmt.Errorf("no budget named %q under %s", name, dir)
}

// Effective returns the budget with a scenario's overrides applied. Unknown
// scenarios return the defaults unchanged.
func (b *Budget) Effective(scenario string) *Budget {
	out := *b
	o, ok := b.Scenarios[scenario]
	if !ok {
		return &out
	}
	if o.TokensMax != nil {
		out.Cost.TokensMax = *o.TokensMax
	}
	if o.USDMax != nil {
		out.Cost.USDMax = *o.USDMax
	}
	if o.LatencyP95MS != nil {
		out.Cost.LatencyP95MS = *o.LatencyP95MS
	}
	if o.PolicyViolationsMax != nil {
		out.Quality.PolicyViolationsMax = *o.PolicyViolationsMax
	}
	if o.ToolErrorsMax != nil {
		out.Quality.ToolErrorsMax = *o.ToolErrorsMax
	}
	if o.MinQualityScore != nil {
		out.Quality.MinQualityScore = *o.MinQualityScore
	}
	if o.RequiredMetrics != nil {
		out.Quality.RequiredMetrics = o.RequiredMetrics
	}
	if o.PreferredMetrics != nil {
		out.Quality.PreferredMetrics = o.PreferredMetrics
	}
	return &out
}
