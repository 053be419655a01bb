// Package replay reconstructs effectful call results from a recorded trace
// and re-drives workflows against them, either by re-emitting the recorded
// events or by re-executing the graph with stubbed LLM and tool clients.
package replay

import (
	"errors"
	"sync"

	"github.com/huap-ai/huap/internal/trace"
)

// ErrStubMiss is returned when no recorded result covers a live call. Callers
// decide whether that fails the replay or falls through to a real client.
var ErrStubMiss = errors.New("no recorded stub for call")

// ToolStub is one recorded tool_call/tool_result pair.
type ToolStub struct {
	Tool       string
	InputHash  string
	Result     map[string]any
	DurationMS int64
	Status     string
	Error      string

	consumed bool
}

// LLMStub is one recorded llm_request/llm_response pair.
type LLMStub struct {
	Model        string
	Provider     string
	MessagesHash string
	Text         string
	Usage        trace.Usage
	DurationMS   int64
	Status       string
	Error        string

	consumed bool
}

// Registry indexes recorded call results two ways: a hash index keyed by
// tool_name:input_hash (or messages hash for LLM calls), and ordered sequence
// lists for the legacy positional fallback. Lookups consume stubs so repeated
// identical calls replay their own recordings in order.
type Registry struct {
	mu       sync.Mutex
	toolHash map[string][]*ToolStub
	toolSeq  map[string][]*ToolStub
	llmHash  map[string][]*LLMStub
	llmSeq   []*LLMStub
}

// BuildRegistry walks a trace in order, pairing each call with the result on
// the same span. Hashes missing from older traces are recomputed from the
// recorded input.
func BuildRegistry(run *trace.Run) *Registry {
	r := &Registry{
		toolHash: map[string][]*ToolStub{},
		toolSeq:  map[string][]*ToolStub{},
		llmHash:  map[string][]*LLMStub{},
	}
	if run == nil {
		return r
	}
	pendingTools := map[string]*ToolStub{} // span_id -> open call
	pendingLLM := map[string]*LLMStub{}
	for _, ev := range run.Events {
		switch ev.Name {
		case trace.EventToolCall:
			hash := ev.DataString("input_hash")
			if hash == "" {
				if input, ok := ev.Data["input"].(map[string]any); ok {
					hash = trace.ContentHash(input)
				}
			}
			pendingTools[ev.SpanID] = &ToolStub{
				Tool:      ev.DataString("tool"),
				InputHash: hash,
			}
		case trace.EventToolResult:
			stub, ok := pendingTools[ev.SpanID]
			if !ok {
				continue
			}
			delete(pendingTools, ev.SpanID)
			if result, ok := ev.Data["result"].(map[string]any); ok {
				stub.Result = result
			}
			if d, ok := ev.DataNumber("duration_ms"); ok {
				stub.DurationMS = int64(d)
			}
			stub.Status = ev.DataString("status")
			stub.Error = ev.DataString("error")
			key := stub.Tool + ":" + stub.InputHash
			r.toolHash[key] = append(r.toolHash[key], stub)
			r.toolSeq[stub.Tool] = append(r.toolSeq[stub.Tool], stub)
		case trace.EventLLMRequest:
			hash := ev.DataString("messages_hash")
			if hash == "" {
				if messages, ok := ev.Data["messages"]; ok {
					hash = trace.ContentHash(messages)
				}
			}
			pendingLLM[ev.SpanID] = &LLMStub{
				Model:        ev.DataString("model"),
				Provider:     ev.DataString("provider"),
				MessagesHash: hash,
			}
		case trace.EventLLMResponse:
			stub, ok := pendingLLM[ev.SpanID]
			if !ok {
				continue
			}
			delete(pendingLLM, ev.SpanID)
			stub.Text = ev.DataString("text")
			if m, ok := ev.Data["usage"].(map[string]any); ok {
				stub.Usage = trace.UsageFrom(m)
			}
			if d, ok := ev.DataNumber("duration_ms"); ok {
				stub.DurationMS = int64(d)
			}
			stub.Status = ev.DataString("status")
			stub.Error = ev.DataString("error")
			r.llmHash[stub.MessagesHash] = append(r.llmHash[stub.MessagesHash], stub)
			r.llmSeq = append(r.llmSeq, stub)
		}
	}
	return r
}

// LookupTool returns the next unconsumed stub recorded for this exact input.
func (r *Registry) LookupTool(tool, inputHash string) (*ToolStub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stub := range r.toolHash[tool+":"+inputHash] {
		if !stub.consumed {
			stub.consumed = true
			return stub, nil
		}
	}
	return nil, ErrStubMiss
}

// NextToolStub returns the next unconsumed stub for the tool regardless of
// input, the positional fallback for drifted inputs.
func (r *Registry) NextToolStub(tool string) (*ToolStub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stub := range r.toolSeq[tool] {
		if !stub.consumed {
			stub.consumed = true
			return stub, nil
		}
	}
	return nil, ErrStubMiss
}

// LookupLLM returns the next unconsumed stub recorded for this messages hash.
func (r *Registry) LookupLLM(messagesHash string) (*LLMStub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stub := range r.llmHash[messagesHash] {
		if !stub.consumed {
			stub.consumed = true
			return stub, nil
		}
	}
	return nil, ErrStubMiss
}

// NextLLMStub returns the next unconsumed LLM stub in recorded order.
func (r *Registry) NextLLMStub() (*LLMStub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stub := range r.llmSeq {
		if !stub.consumed {
			stub.consumed = true
			return stub, nil
		}
	}
	return nil, ErrStubMiss
}

// Counts reports how many stub pairs were indexed.
func (r *Registry) Counts() (tools, llms int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stubs := range r.toolSeq {
		tools += len(stubs)
	}
	return tools, len(r.llmSeq)
}
