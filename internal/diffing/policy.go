package diffing

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type Verdict string

const (
	VerdictInfo Verdict = "info"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

// Policy decides how a diff is classified. DefaultPolicy is what the CLI
// uses when no policy file is given; a loaded file layers over it.
type Policy struct {
	// MaxCostIncreasePct fails the diff when the USD delta exceeds this
	// percentage of the baseline. <= 0 disables the check.
	MaxCostIncreasePct float64 `json:"max_cost_increase_pct" yaml:"max_cost_increase_pct"`

	FailOnNewError     bool `json:"fail_on_new_error" yaml:"fail_on_new_error"`
	FailOnNewViolation bool `json:"fail_on_new_violation" yaml:"fail_on_new_violation"`

	// MinQualityDelta fails when any metric regresses by more than this
	// (a negative threshold, e.g. -0.5).
	MinQualityDelta float64 `json:"min_quality_delta" yaml:"min_quality_delta"`

	FailOnStateMismatch bool `json:"fail_on_state_mismatch" yaml:"fail_on_state_mismatch"`

	// Ephemeral extends the built-in ephemeral field set for this pipeline.
	Ephemeral []string `json:"ephemeral,omitempty" yaml:"ephemeral"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxCostIncreasePct:  25,
		FailOnNewError:      true,
		FailOnNewViolation:  true,
		MinQualityDelta:     -0.5,
		FailOnStateMismatch: false,
	}
}

// LoadPolicy reads a YAML policy file, layered over the default.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	b, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("diff policy %s: %w", path, err)
	}
	return p, nil
}

// Assessment is the policy's reading of a diff.
type Assessment struct {
	Verdict     Verdict  `json:"verdict"`
	Regressions []string `json:"regressions,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Assess classifies a diff. Any regression makes the verdict fail; changes
// that no rule flags leave it at warn; an identical diff is info.
func (p Policy) Assess(d *Diff) Assessment {
	var a Assessment

	if p.FailOnNewError {
		if d.Quality.NewErrors > 0 {
			a.Regressions = append(a.Regressions,
				fmt.Sprintf("%d new error event(s)", d.Quality.NewErrors))
		}
		for _, toolName := range sortedKeys(d.Quality.ToolErrorsByTool) {
			a.Regressions = append(a.Regressions, "new error in tool "+toolName)
		}
	}
	if p.FailOnNewViolation && d.Quality.PolicyViolationsDelta > 0 {
		a.Regressions = append(a.Regressions,
			fmt.Sprintf("%d new policy violation(s)", d.Quality.PolicyViolationsDelta))
	}
	if p.MaxCostIncreasePct > 0 && d.Cost.USDPct > p.MaxCostIncreasePct {
		a.Regressions = append(a.Regressions,
			fmt.Sprintf("cost up %.1f%% (limit %.1f%%)", d.Cost.USDPct, p.MaxCostIncreasePct))
	}
	for _, metric := range sortedMetricKeys(d.Quality.Metrics) {
		if delta := d.Quality.Metrics[metric]; delta < p.MinQualityDelta {
			a.Regressions = append(a.Regressions,
				fmt.Sprintf("quality metric %s regressed by %.2f", metric, delta))
		}
	}
	if p.FailOnStateMismatch && !d.StateHashMatch {
		a.Regressions = append(a.Regressions, "terminal state hash mismatch")
	}

	if d.Quality.ToolErrorsDelta > 0 && !p.FailOnNewError {
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("%d new tool error(s)", d.Quality.ToolErrorsDelta))
	}

	switch {
	case len(a.Regressions) > 0:
		a.Verdict = VerdictFail
	case !d.Identical() || len(a.Warnings) > 0:
		a.Verdict = VerdictWarn
	default:
		a.Verdict = VerdictInfo
	}
	return a
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedMetricKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
