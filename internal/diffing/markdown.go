package diffing

import (
	"fmt"
	"sort"
	"strings"
)

// Markdown renders the diff and its assessment as a human-readable report.
func Markdown(d *Diff, a Assessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trace diff: %s vs %s\n\n", d.BaselineRunID, d.CandidateRunID)
	fmt.Fprintf(&b, "**Verdict: %s**\n\n", a.Verdict)

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "- events: %d added, %d removed, %d changed\n", len(d.Added), len(d.Removed), len(d.Changed))
	fmt.Fprintf(&b, "- cost: %+d tokens, %+.6f USD (%+.1f%%), %+d ms latency\n",
		d.Cost.TokensDelta, d.Cost.USDDelta, d.Cost.USDPct, d.Cost.LatencyDeltaMS)
	fmt.Fprintf(&b, "- quality: %+d policy violations, %+d tool errors, %+d errors\n",
		d.Quality.PolicyViolationsDelta, d.Quality.ToolErrorsDelta, d.Quality.NewErrors)
	state := "match"
	if !d.StateHashMatch {
		state = fmt.Sprintf("MISMATCH (%s vs %s)", d.BaselineStateHash, d.CandidateStateHash)
	}
	fmt.Fprintf(&b, "- terminal state: %s\n\n", state)

	if len(a.Regressions) > 0 {
		fmt.Fprintf(&b, "## Regressions\n\n")
		for _, r := range a.Regressions {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	if len(a.Warnings) > 0 {
		fmt.Fprintf(&b, "## Warnings\n\n")
		for _, w := range a.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	if len(d.Changed) > 0 {
		fmt.Fprintf(&b, "## Changed events\n\n")
		fmt.Fprintf(&b, "| event | # | field | baseline | candidate |\n")
		fmt.Fprintf(&b, "|---|---|---|---|---|\n")
		worst := worstDiffs(d.Changed, 20)
		for _, ed := range worst {
			for _, ch := range ed.Changes {
				fmt.Fprintf(&b, "| %s | %d | %s | %s | %s |\n",
					ed.Name, ed.Ordinal, ch.Field, cell(ch.Baseline), cell(ch.Candidate))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// worstDiffs orders event diffs by change count, descending, keeping n.
func worstDiffs(changed []EventDiff, n int) []EventDiff {
	out := append([]EventDiff(nil), changed...)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Changes) > len(out[j].Changes)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func cell(v any) string {
	if v == nil {
		return "(absent)"
	}
	s := fmt.Sprint(v)
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
