package eval

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultTracePattern matches trace files anywhere under the suite root.
const DefaultTracePattern = "**/*.trace.jsonl"

type SuiteOptions struct {
	Dir     string
	Pattern string
	Budget  *Budget

	// Scenarios maps trace file base names to scenario names. Unmapped files
	// fall back to substring matching against the budget's scenario keys.
	Scenarios map[string]string
}

// Report aggregates a suite evaluation.
type Report struct {
	Dir      string          `json:"dir"`
	Budget   string          `json:"budget"`
	Total    int             `json:"total"`
	PassRate float64         `json:"pass_rate"`
	Grades   map[Grade]int   `json:"grades"`
	Results  []*Evaluation   `json:"results"`
	Passed   bool            `json:"passed"`
}

// EvaluateSuite grades every trace under the directory. A suite with
// failures still produces the full report; Passed just reads false.
func EvaluateSuite(opts SuiteOptions) (*Report, error) {
	if opts.Pattern == "" {
		opts.Pattern = DefaultTracePattern
	}
	budget := opts.Budget
	if budget == nil {
		budget = DefaultBudget()
	}
	matches, err := doublestar.Glob(os.DirFS(opts.Dir), opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("suite glob %q: %w", opts.Pattern, err)
	}
	sort.Strings(matches)

	report := &Report{
		Dir:    opts.Dir,
		Budget: budget.Name,
		Grades: map[Grade]int{},
	}
	passed := 0
	for _, rel := range matches {
		path := filepath.Join(opts.Dir, rel)
		scenario := opts.Scenarios[filepath.Base(rel)]
		if scenario == "" {
			scenario = inferScenario(rel, budget)
		}
		ev, err := EvaluateFile(path, budget, scenario)
		if err != nil {
			ev = &Evaluation{
				TracePath: path,
				Scenario:  scenario,
				Budget:    budget.Name,
				CostGrade: GradeF, QualityGrade: GradeF, Overall: GradeF,
				Issues: []string{"unreadable trace: " + err.Error()},
			}
		}
		report.Results = append(report.Results, ev)
		report.Grades[ev.Overall]++
		if ev.Passed {
			passed++
		}
	}
	report.Total = len(report.Results)
	if report.Total > 0 {
		report.PassRate = float64(passed) / float64(report.Total)
	}
	report.Passed = report.Total > 0 && passed == report.Total
	return report, nil
}

// inferScenario matches the budget's scenario names against the file path.
// The longest matching name wins so "checkout_retry" beats "checkout".
func inferScenario(rel string, budget *Budget) string {
	base := filepath.Base(rel)
	best := ""
	for name := range budget.Scenarios {
		if strings.Contains(base, name) && len(name) > len(best) {
			best = name
		}
	}
	return best
}

// Markdown renders the report for humans.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Eval report: %s\n\n", r.Dir)
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "**%s**: %d trace(s), pass rate %.0f%%, budget %s\n\n",
		status, r.Total, r.PassRate*100, r.Budget)

	fmt.Fprintf(&b, "| grade | count |\n|---|---|\n")
	for _, g := range []Grade{GradeA, GradeB, GradeC, GradeD, GradeF} {
		if n := r.Grades[g]; n > 0 {
			fmt.Fprintf(&b, "| %s | %d |\n", g, n)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "| trace | scenario | cost | quality | overall | passed |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	for _, ev := range r.Results {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %v |\n",
			filepath.Base(ev.TracePath), ev.Scenario, ev.CostGrade, ev.QualityGrade, ev.Overall, ev.Passed)
	}
	for _, ev := range r.Results {
		for _, issue := range ev.Issues {
			fmt.Fprintf(&b, "\n- `%s`: %s", filepath.Base(ev.TracePath), issue)
		}
	}
	b.WriteString("\n")
	return b.String()
}
