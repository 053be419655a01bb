package trace

var denialDecisions = map[string]bool{
	"deny":     true,
	"denied":   true,
	"reject":   true,
	"rejected": true,
	"fail":     true,
}

// IsDenial reports whether a policy_check decision counts as a violation.
func IsDenial(decision string) bool { return denialDecisions[decision] }

// CountPolicyDenials counts policy_check events whose decision is a denial.
func CountPolicyDenials(events []*Event) int {
	n := 0
	for _, ev := range events {
		if ev.Name == EventPolicyCheck && IsDenial(ev.DataString("decision")) {
			n++
		}
	}
	return n
}

// CountToolErrors counts tool_result events that did not finish ok.
func CountToolErrors(events []*Event) int {
	n := 0
	for _, ev := range events {
		if ev.Name != EventToolResult {
			continue
		}
		if status := ev.DataString("status"); status != "" && status != "ok" {
			n++
		}
	}
	return n
}

// MetricValues folds quality_record events into a metric -> value map. When a
// metric is recorded more than once the last value wins.
func MetricValues(events []*Event) map[string]float64 {
	out := map[string]float64{}
	for _, ev := range events {
		if ev.Name != EventQualityRecord {
			continue
		}
		metric := ev.DataString("metric")
		if metric == "" {
			continue
		}
		if v, ok := ev.DataNumber("value"); ok {
			out[metric] = v
		}
	}
	return out
}
