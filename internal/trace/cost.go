package trace

import "sort"

// Usage is the token accounting attached to an llm_response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u Usage) Map() map[string]any {
	return map[string]any{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"total_tokens":      u.TotalTokens,
	}
}

// UsageFrom reconstructs usage from its recorded map form.
func UsageFrom(m map[string]any) Usage { return usageFromMap(m) }

func usageFromMap(m map[string]any) Usage {
	num := func(key string) int {
		if f, ok := m[key].(float64); ok {
			return int(f)
		}
		if n, ok := m[key].(int); ok {
			return n
		}
		return 0
	}
	return Usage{
		PromptTokens:     num("prompt_tokens"),
		CompletionTokens: num("completion_tokens"),
		TotalTokens:      num("total_tokens"),
	}
}

// CostSummary aggregates the spend recorded in a trace.
type CostSummary struct {
	TotalTokens      int     `json:"total_tokens"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	USD              float64 `json:"usd"`
	LatencyMS        int64   `json:"latency_ms"`
	LLMCalls         int     `json:"llm_calls"`
}

// SummarizeCost folds llm_response usage and cost_record entries into one
// summary. Latency is the cumulative llm_response duration.
func SummarizeCost(events []*Event) CostSummary {
	var s CostSummary
	for _, ev := range events {
		switch ev.Name {
		case EventLLMResponse:
			s.LLMCalls++
			if m, ok := ev.Data["usage"].(map[string]any); ok {
				u := usageFromMap(m)
				s.TotalTokens += u.TotalTokens
				s.PromptTokens += u.PromptTokens
				s.CompletionTokens += u.CompletionTokens
			}
			if d, ok := ev.DataNumber("duration_ms"); ok {
				s.LatencyMS += int64(d)
			}
		case EventCostRecord:
			if usd, ok := ev.DataNumber("usd"); ok {
				s.USD += usd
			}
		}
	}
	return s
}

// LatencyP95 returns the 95th percentile llm_response duration in ms, 0 when
// there were no LLM calls.
func LatencyP95(events []*Event) int64 {
	var durations []int64
	for _, ev := range events {
		if ev.Name != EventLLMResponse {
			continue
		}
		if d, ok := ev.DataNumber("duration_ms"); ok {
			durations = append(durations, int64(d))
		}
	}
	if len(durations) == 0 {
		return 0
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	idx := (len(durations)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return durations[idx]
}
