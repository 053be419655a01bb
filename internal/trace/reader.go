package trace

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// Run is a trace reconstructed from a JSONL file.
type Run struct {
	RunID  string
	Path   string
	Events []*Event
	Start  *Event
	End    *Event
}

// ReadFile loads a trace. A truncated last line (writer killed mid-append) is
// tolerated and dropped; any other malformed line is an error.
func ReadFile(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	run := &Run{Path: path}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lastErr error
	var lastErrLine int
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if lastErr != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lastErrLine, lastErr)
		}
		ev := &Event{}
		if err := ev.UnmarshalJSON(line); err != nil {
			// Only tolerated when this turns out to be the final line.
			lastErr = err
			lastErrLine = lineNo
			continue
		}
		run.Events = append(run.Events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(run.Events) == 0 {
		return nil, fmt.Errorf("trace %s contains no events", path)
	}
	first := run.Events[0]
	run.RunID = first.RunID
	if first.Name == EventRunStart {
		run.Start = first
	}
	if last := run.Events[len(run.Events)-1]; last.Name == EventRunEnd {
		run.End = last
	}
	return run, nil
}

// Interrupted reports whether the run never reached run_end.
func (r *Run) Interrupted() bool { return r == nil || r.End == nil }

// EventsNamed returns events with the given name, in trace order.
func (r *Run) EventsNamed(name string) []*Event {
	if r == nil {
		return nil
	}
	var out []*Event
	for _, ev := range r.Events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Errors returns the run's error events.
func (r *Run) Errors() []*Event { return r.EventsNamed(EventError) }

// FinalStateHash returns run_end's recorded terminal state hash, or "".
func (r *Run) FinalStateHash() string {
	if r == nil || r.End == nil {
		return ""
	}
	return r.End.DataString("state_hash")
}

// Validate checks the structural invariants of a closed trace and returns a
// human-readable violation list (empty means valid).
func (r *Run) Validate() []string {
	var problems []string
	if r == nil || len(r.Events) == 0 {
		return []string{"trace has no events"}
	}
	if r.Events[0].Name != EventRunStart {
		problems = append(problems, "first event is not run_start")
	}
	if r.Events[len(r.Events)-1].Name != EventRunEnd {
		problems = append(problems, "last event is not run_end")
	}
	opener := map[string]string{
		EventRunEnd:      EventRunStart,
		EventNodeExit:    EventNodeEnter,
		EventToolResult:  EventToolCall,
		EventLLMResponse: EventLLMRequest,
	}
	starts, ends := 0, 0
	open := map[string]string{} // span_id -> opening event name
	for i, ev := range r.Events {
		if ev.RunID != r.RunID {
			problems = append(problems, fmt.Sprintf("event %d (%s) has run_id %q, want %q", i, ev.Name, ev.RunID, r.RunID))
		}
		if ev.SpanID == "" {
			problems = append(problems, fmt.Sprintf("event %d (%s) has no span_id", i, ev.Name))
		}
		switch ev.Name {
		case EventRunStart:
			starts++
		case EventRunEnd:
			ends++
		}
		switch ev.Name {
		case EventRunStart, EventNodeEnter, EventToolCall, EventLLMRequest:
			open[ev.SpanID] = ev.Name
		case EventRunEnd, EventNodeExit, EventToolResult, EventLLMResponse:
			if got := open[ev.SpanID]; got != opener[ev.Name] {
				problems = append(problems, fmt.Sprintf("event %d (%s) closes span %s opened by %q, want %q", i, ev.Name, ev.SpanID, got, opener[ev.Name]))
			}
			delete(open, ev.SpanID)
		}
		if ev.ParentSpanID != "" && open[ev.ParentSpanID] == "" {
			problems = append(problems, fmt.Sprintf("event %d (%s) has parent span %s that is not open", i, ev.Name, ev.ParentSpanID))
		}
	}
	if starts != 1 {
		problems = append(problems, fmt.Sprintf("expected exactly one run_start, got %d", starts))
	}
	if ends != 1 {
		problems = append(problems, fmt.Sprintf("expected exactly one run_end, got %d", ends))
	}
	for span := range open {
		problems = append(problems, fmt.Sprintf("span %s was opened but never closed", span))
	}
	return problems
}
