// Package diffing compares two traces semantically: events are aligned by
// name and ordinal rather than span or timestamp, so re-recorded runs of the
// same workflow diff cleanly.
package diffing

import (
	"bytes"
	"sort"

	"github.com/huap-ai/huap/internal/trace"
)

// EventRef identifies an event by its alignment key and trace position.
type EventRef struct {
	Name    string `json:"name"`
	Ordinal int    `json:"ordinal"`
	Index   int    `json:"index"`
}

// FieldChange is one data field that differs between aligned events.
type FieldChange struct {
	Field     string `json:"field"`
	Baseline  any    `json:"baseline"`
	Candidate any    `json:"candidate"`
}

// EventDiff collects the field changes of one aligned pair.
type EventDiff struct {
	Name    string        `json:"name"`
	Ordinal int           `json:"ordinal"`
	Changes []FieldChange `json:"changes"`
}

// CostDelta is candidate minus baseline across the cost summaries.
type CostDelta struct {
	TokensDelta    int     `json:"tokens_delta"`
	USDDelta       float64 `json:"usd_delta"`
	USDPct         float64 `json:"usd_pct"`
	LatencyDeltaMS int64   `json:"latency_delta_ms"`
	LLMCallsDelta  int     `json:"llm_calls_delta"`
}

// QualityDelta is candidate minus baseline across quality signals.
type QualityDelta struct {
	Metrics               map[string]float64 `json:"metrics,omitempty"`
	PolicyViolationsDelta int                `json:"policy_violations_delta"`
	ToolErrorsDelta       int                `json:"tool_errors_delta"`
	ToolErrorsByTool      map[string]int     `json:"tool_errors_by_tool,omitempty"`
	NewErrors             int                `json:"new_errors"`
}

// Diff is the structured comparison of a baseline trace against a candidate.
type Diff struct {
	BaselineRunID  string `json:"baseline_run_id"`
	CandidateRunID string `json:"candidate_run_id"`

	Added   []EventRef  `json:"added,omitempty"`
	Removed []EventRef  `json:"removed,omitempty"`
	Changed []EventDiff `json:"changed,omitempty"`

	Cost    CostDelta    `json:"cost"`
	Quality QualityDelta `json:"quality"`

	BaselineStateHash  string `json:"baseline_state_hash"`
	CandidateStateHash string `json:"candidate_state_hash"`
	StateHashMatch     bool   `json:"state_hash_match"`
}

// Identical reports whether the diff found no event-level differences.
func (d *Diff) Identical() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare aligns events by (name, ordinal-within-name) and reports field
// changes outside the ephemeral set. Extra ephemeral field names come from
// the policy; timestamps, durations and random ids are always excluded.
func Compare(baseline, candidate *trace.Run, ephemeral []string) *Diff {
	skip := map[string]bool{}
	for _, k := range trace.DefaultEphemeralKeys {
		skip[k] = true
	}
	for _, k := range ephemeral {
		skip[k] = true
	}

	d := &Diff{
		BaselineRunID:      baseline.RunID,
		CandidateRunID:     candidate.RunID,
		BaselineStateHash:  baseline.FinalStateHash(),
		CandidateStateHash: candidate.FinalStateHash(),
	}
	d.StateHashMatch = d.BaselineStateHash == d.CandidateStateHash

	base := groupByName(baseline.Events)
	cand := groupByName(candidate.Events)

	names := map[string]bool{}
	for name := range base {
		names[name] = true
	}
	for name := range cand {
		names[name] = true
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		b, c := base[name], cand[name]
		n := len(b)
		if len(c) < n {
			n = len(c)
		}
		for i := 0; i < n; i++ {
			changes := compareData(b[i].ev.Data, c[i].ev.Data, skip)
			if len(changes) > 0 {
				d.Changed = append(d.Changed, EventDiff{Name: name, Ordinal: i, Changes: changes})
			}
		}
		for i := n; i < len(b); i++ {
			d.Removed = append(d.Removed, EventRef{Name: name, Ordinal: i, Index: b[i].index})
		}
		for i := n; i < len(c); i++ {
			d.Added = append(d.Added, EventRef{Name: name, Ordinal: i, Index: c[i].index})
		}
	}
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Index < d.Added[j].Index })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Index < d.Removed[j].Index })

	bc := trace.SummarizeCost(baseline.Events)
	cc := trace.SummarizeCost(candidate.Events)
	d.Cost = CostDelta{
		TokensDelta:    cc.TotalTokens - bc.TotalTokens,
		USDDelta:       cc.USD - bc.USD,
		LatencyDeltaMS: cc.LatencyMS - bc.LatencyMS,
		LLMCallsDelta:  cc.LLMCalls - bc.LLMCalls,
	}
	if bc.USD > 0 {
		d.Cost.USDPct = (cc.USD - bc.USD) / bc.USD * 100
	}

	d.Quality = QualityDelta{
		PolicyViolationsDelta: trace.CountPolicyDenials(candidate.Events) - trace.CountPolicyDenials(baseline.Events),
		ToolErrorsDelta:       trace.CountToolErrors(candidate.Events) - trace.CountToolErrors(baseline.Events),
		NewErrors:             len(candidate.Errors()) - len(baseline.Errors()),
	}
	be := toolErrorsByTool(baseline.Events)
	for toolName, n := range toolErrorsByTool(candidate.Events) {
		if delta := n - be[toolName]; delta > 0 {
			if d.Quality.ToolErrorsByTool == nil {
				d.Quality.ToolErrorsByTool = map[string]int{}
			}
			d.Quality.ToolErrorsByTool[toolName] = delta
		}
	}
	bm := trace.MetricValues(baseline.Events)
	cm := trace.MetricValues(candidate.Events)
	for metric, bv := range bm {
		if cv, ok := cm[metric]; ok && cv != bv {
			if d.Quality.Metrics == nil {
				d.Quality.Metrics = map[string]float64{}
			}
			d.Quality.Metrics[metric] = cv - bv
		}
	}

	return d
}

func toolErrorsByTool(events []*trace.Event) map[string]int {
	out := map[string]int{}
	for _, ev := range events {
		if ev.Name != trace.EventToolResult {
			continue
		}
		if status := ev.DataString("status"); status != "" && status != "ok" {
			out[ev.DataString("tool")]++
		}
	}
	return out
}

type indexedEvent struct {
	ev    *trace.Event
	index int
}

func groupByName(events []*trace.Event) map[string][]indexedEvent {
	out := map[string][]indexedEvent{}
	for i, ev := range events {
		out[ev.Name] = append(out[ev.Name], indexedEvent{ev, i})
	}
	return out
}

func compareData(baseline, candidate map[string]any, skip map[string]bool) []FieldChange {
	keys := map[string]bool{}
	for k := range baseline {
		keys[k] = true
	}
	for k := range candidate {
		keys[k] = true
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	var changes []FieldChange
	for _, k := range ordered {
		if skip[k] {
			continue
		}
		bv, bok := baseline[k]
		cv, cok := candidate[k]
		if bok && cok && sameValue(bv, cv) {
			continue
		}
		change := FieldChange{Field: k}
		if bok {
			change.Baseline = bv
		}
		if cok {
			change.Candidate = cv
		}
		changes = append(changes, change)
	}
	return changes
}

// sameValue compares via canonical JSON so map ordering and int/float
// encoding differences never register as changes.
func sameValue(a, b any) bool {
	return bytes.Equal(trace.CanonicalJSON(a, nil), trace.CanonicalJSON(b, nil))
}
