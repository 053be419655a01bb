package eval

import (
	"fmt"
	"math"

	"github.com/huap-ai/huap/internal/trace"
)

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

var gradeValue = map[Grade]int{GradeA: 4, GradeB: 3, GradeC: 2, GradeD: 1, GradeF: 0}

func gradeFromValue(v int) Grade {
	switch {
	case v >= 4:
		return GradeA
	case v == 3:
		return GradeB
	case v == 2:
		return GradeC
	case v == 1:
		return GradeD
	default:
		return GradeF
	}
}

// Evaluation is the graded verdict for one trace.
type Evaluation struct {
	TracePath string `json:"trace_path"`
	RunID     string `json:"run_id"`
	Scenario  string `json:"scenario,omitempty"`
	Budget    string `json:"budget"`

	Cost         trace.CostSummary `json:"cost"`
	LatencyP95MS int64             `json:"latency_p95_ms"`
	UsagePct     float64           `json:"usage_pct"`

	PolicyViolations int                `json:"policy_violations"`
	ToolErrors       int                `json:"tool_errors"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	QualityScore     float64            `json:"quality_score"`

	CostGrade    Grade    `json:"cost_grade"`
	QualityGrade Grade    `json:"quality_grade"`
	Overall      Grade    `json:"overall"`
	Issues       []string `json:"issues,omitempty"`
	Passed       bool     `json:"passed"`
}

// EvaluateFile loads a trace and grades it under the scenario's effective
// budget.
func EvaluateFile(path string, budget *Budget, scenario string) (*Evaluation, error) {
	run, err := trace.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ev := EvaluateRun(run, budget, scenario)
	ev.TracePath = path
	return ev, nil
}

// EvaluateRun grades an already-loaded trace. Evaluation is pure: the same
// trace and budget always yield the same grades and issues.
func EvaluateRun(run *trace.Run, budget *Budget, scenario string) *Evaluation {
	if budget == nil {
		budget = DefaultBudget()
	}
	eff := budget.Effective(scenario)

	ev := &Evaluation{
		RunID:            run.RunID,
		Scenario:         scenario,
		Budget:           budget.Name,
		Cost:             trace.SummarizeCost(run.Events),
		LatencyP95MS:     trace.LatencyP95(run.Events),
		PolicyViolations: trace.CountPolicyDenials(run.Events),
		ToolErrors:       trace.CountToolErrors(run.Events),
		Metrics:          trace.MetricValues(run.Events),
	}
	if run.Interrupted() {
		ev.Issues = append(ev.Issues, "trace is interrupted: no run_end")
	}

	ev.CostGrade = gradeCost(ev, eff.Cost)
	ev.QualityGrade = gradeQuality(ev, eff.Quality)

	// 60% quality, 40% cost, rounded on the integer grade scale.
	weighted := 0.6*float64(gradeValue[ev.QualityGrade]) + 0.4*float64(gradeValue[ev.CostGrade])
	ev.Overall = gradeFromValue(int(math.Round(weighted)))
	ev.Passed = len(ev.Issues) == 0 && ev.Overall != GradeF
	return ev
}

// gradeCost maps the worst usage percentage across the three ceilings
// through the grade ladder. A zero ceiling with positive usage is a hard
// budget_exceeded fail.
func gradeCost(ev *Evaluation, b CostBudget) Grade {
	pct := func(used, limit float64) float64 {
		if limit > 0 {
			return used / limit * 100
		}
		if used > 0 {
			return math.Inf(1)
		}
		return 0
	}
	worst := pct(float64(ev.Cost.TotalTokens), float64(b.TokensMax))
	if p := pct(ev.Cost.USD, b.USDMax); p > worst {
		worst = p
	}
	if p := pct(float64(ev.LatencyP95MS), float64(b.LatencyP95MS)); p > worst {
		worst = p
	}
	ev.UsagePct = worst

	thresholds := b.GradeThresholds
	if len(thresholds) == 0 {
		thresholds = defaultCostThresholds()
	}
	if worst > thresholds["D"] {
		ev.Issues = append(ev.Issues, fmt.Sprintf("budget_exceeded: usage %.1f%% of cost budget", worst))
		return GradeF
	}
	for _, g := range []Grade{GradeA, GradeB, GradeC, GradeD} {
		if worst <= thresholds[string(g)] {
			return g
		}
	}
	return GradeF
}

// gradeQuality hard-fails on violation and error caps, then grades the
// weighted metric score. Required metrics weigh 1.0, preferred 0.5; a
// missing required metric is itself a failure.
func gradeQuality(ev *Evaluation, b QualityBudget) Grade {
	failed := false
	if ev.PolicyViolations > b.PolicyViolationsMax {
		ev.Issues = append(ev.Issues, fmt.Sprintf("quality_fail: %d policy violation(s), max %d",
			ev.PolicyViolations, b.PolicyViolationsMax))
		failed = true
	}
	if ev.ToolErrors > b.ToolErrorsMax {
		ev.Issues = append(ev.Issues, fmt.Sprintf("quality_fail: %d tool error(s), max %d",
			ev.ToolErrors, b.ToolErrorsMax))
		failed = true
	}

	var weightSum, scoreSum float64
	for _, metric := range b.RequiredMetrics {
		weightSum++
		v, ok := ev.Metrics[metric]
		if !ok {
			ev.Issues = append(ev.Issues, "quality_fail: required metric missing: "+metric)
			failed = true
			continue
		}
		scoreSum += v
	}
	for _, metric := range b.PreferredMetrics {
		if v, ok := ev.Metrics[metric]; ok {
			weightSum += 0.5
			scoreSum += 0.5 * v
		}
	}
	if weightSum > 0 {
		ev.QualityScore = scoreSum / weightSum
	} else {
		// No metrics configured: a clean trace is an A.
		ev.QualityScore = 1
	}
	if ev.QualityScore < b.MinQualityScore {
		ev.Issues = append(ev.Issues, fmt.Sprintf("quality_fail: score %.2f below minimum %.2f",
			ev.QualityScore, b.MinQualityScore))
		failed = true
	}
	if failed {
		return GradeF
	}

	thresholds := b.GradeThresholds
	if len(thresholds) == 0 {
		thresholds = defaultQualityThresholds()
	}
	for _, g := range []Grade{GradeA, GradeB, GradeC, GradeD} {
		if ev.QualityScore >= thresholds[string(g)] {
			return g
		}
	}
	return GradeF
}
