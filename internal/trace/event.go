// Package trace defines the canonical event schema for HUAP runs and the
// machinery that records, reads and summarizes traces. A trace is an
// append-only JSONL file; one event per line, one file per run.
package trace

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is written into every event as the "v" field.
const SchemaVersion = "0.1"

type Kind string

const (
	KindLifecycle Kind = "lifecycle"
	KindNode      Kind = "node"
	KindTool      Kind = "tool"
	KindLLM       Kind = "llm"
	KindPolicy    Kind = "policy"
	KindMemory    Kind = "memory"
	KindCost      Kind = "cost"
	KindQuality   Kind = "quality"
	KindSystem    Kind = "system"
)

// Event name vocabulary. The data payload shape is fixed per name.
const (
	EventRunStart        = "run_start"
	EventRunEnd          = "run_end"
	EventError           = "error"
	EventNodeEnter       = "node_enter"
	EventNodeExit        = "node_exit"
	EventToolCall        = "tool_call"
	EventToolResult      = "tool_result"
	EventLLMRequest      = "llm_request"
	EventLLMResponse     = "llm_response"
	EventPolicyCheck     = "policy_check"
	EventMemoryPut       = "memory_put"
	EventMemoryGet       = "memory_get"
	EventMemorySearch    = "memory_search"
	EventArtifactCreated = "artifact_created"
	EventCostRecord      = "cost_record"
	EventQualityRecord   = "quality_record"
	EventStdout          = "stdout"
	EventStderr          = "stderr"
)

// Event is one line of a trace. Unknown top-level fields encountered on read
// are kept in Unknown and written back verbatim, so older readers can carry
// newer traces through a rewrite without dropping information.
type Event struct {
	Schema       string
	TS           time.Time
	RunID        string
	SpanID       string
	ParentSpanID string
	Kind         Kind
	Name         string
	Pod          string
	Engine       string
	UserID       string
	SessionID    string
	Data         map[string]any

	Unknown map[string]json.RawMessage
}

var knownEventFields = map[string]bool{
	"v": true, "ts": true, "run_id": true, "span_id": true,
	"parent_span_id": true, "kind": true, "name": true, "pod": true,
	"engine": true, "user_id": true, "session_id": true, "data": true,
}

func (e *Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 12+len(e.Unknown))
	m["v"] = e.Schema
	m["ts"] = e.TS.UTC().Format(time.RFC3339Nano)
	m["run_id"] = e.RunID
	m["span_id"] = e.SpanID
	if e.ParentSpanID != "" {
		m["parent_span_id"] = e.ParentSpanID
	}
	m["kind"] = string(e.Kind)
	m["name"] = e.Name
	if e.Pod != "" {
		m["pod"] = e.Pod
	}
	if e.Engine != "" {
		m["engine"] = e.Engine
	}
	if e.UserID != "" {
		m["user_id"] = e.UserID
	}
	if e.SessionID != "" {
		m["session_id"] = e.SessionID
	}
	if e.Data == nil {
		m["data"] = map[string]any{}
	} else {
		m["data"] = e.Data
	}
	for k, v := range e.Unknown {
		if !knownEventFields[k] {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	str := func(key string) string {
		var s string
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, &s)
		}
		return s
	}
	e.Schema = str("v")
	e.RunID = str("run_id")
	e.SpanID = str("span_id")
	e.ParentSpanID = str("parent_span_id")
	e.Kind = Kind(str("kind"))
	e.Name = str("name")
	e.Pod = str("pod")
	e.Engine = str("engine")
	e.UserID = str("user_id")
	e.SessionID = str("session_id")
	if ts := str("ts"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("bad ts %q: %w", ts, err)
		}
		e.TS = t
	}
	e.Data = map[string]any{}
	if v, ok := raw["data"]; ok {
		if err := json.Unmarshal(v, &e.Data); err != nil {
			return fmt.Errorf("bad data payload: %w", err)
		}
	}
	e.Unknown = nil
	for k, v := range raw {
		if knownEventFields[k] {
			continue
		}
		if e.Unknown == nil {
			e.Unknown = map[string]json.RawMessage{}
		}
		e.Unknown[k] = v
	}
	return nil
}

// Clone returns a deep copy of the event. Data is copied through a JSON
// round-trip so the clone shares no mutable structure with the original.
func (e *Event) Clone() *Event {
	out := *e
	if e.Data != nil {
		b, err := json.Marshal(e.Data)
		if err == nil {
			out.Data = map[string]any{}
			_ = json.Unmarshal(b, &out.Data)
		}
	}
	if e.Unknown != nil {
		out.Unknown = make(map[string]json.RawMessage, len(e.Unknown))
		for k, v := range e.Unknown {
			out.Unknown[k] = append(json.RawMessage{}, v...)
		}
	}
	return &out
}

// DataString returns the string value of a data field, or "" when absent or
// not a string.
func (e *Event) DataString(key string) string {
	if e == nil || e.Data == nil {
		return ""
	}
	s, _ := e.Data[key].(string)
	return s
}

// DataNumber returns the numeric value of a data field. JSON decoding yields
// float64; ints stored before encoding are handled too.
func (e *Event) DataNumber(key string) (float64, bool) {
	if e == nil || e.Data == nil {
		return 0, false
	}
	switch v := e.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
