package replay

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/huap-ai/huap/internal/graph"
	"github.com/huap-ai/huap/internal/llm"
	"github.com/huap-ai/huap/internal/tool"
	"github.com/huap-ai/huap/internal/trace"
)

type Mode string

const (
	// ModeEmit re-emits the recorded events into a fresh trace without
	// executing user code.
	ModeEmit Mode = "emit"
	// ModeExec re-executes the graph with stubbed LLM and tool clients.
	ModeExec Mode = "exec"
)

type Options struct {
	TracePath string
	Mode      Mode

	// OutputPath overrides the default replay trace location.
	OutputPath string

	// Exec mode wiring. NewHandlers builds the graph's node functions around
	// the stubbed clients so the replay drives the same code paths.
	Graph       *graph.Graph
	NewHandlers func(llm.Client, tool.Runner) *graph.Handlers
	Tracer      *trace.Service
	Pod         string

	// AllowSequenceFallback enables the positional stub fallback for calls
	// whose inputs drifted since recording.
	AllowSequenceFallback bool

	// Live clients consulted after stub misses. Leave nil to keep the replay
	// hermetic: misses then surface as errors.
	LiveLLM   llm.Client
	LiveTools tool.Runner
}

// Result reports one replay. A state hash mismatch or stub miss does not
// abort the replay; the trace is written either way.
type Result struct {
	Mode              Mode              `json:"mode"`
	OriginalRunID     string            `json:"original_run_id"`
	ReplayRunID       string            `json:"replay_run_id"`
	ReplayTracePath   string            `json:"replay_trace_path"`
	Matched           bool              `json:"matched"`
	OriginalStateHash string            `json:"original_state_hash"`
	ReplayStateHash   string            `json:"replay_state_hash"`
	Misses            []string          `json:"misses,omitempty"`
	FallbackHits      int               `json:"fallback_hits"`
	OriginalCost      trace.CostSummary `json:"original_cost"`
	ReplayCost        trace.CostSummary `json:"replay_cost"`
	Errors            []string          `json:"errors,omitempty"`
}

// Run replays a recorded trace in the requested mode.
func Run(ctx context.Context, opts Options) (*Result, error) {
	original, err := trace.ReadFile(opts.TracePath)
	if err != nil {
		return nil, err
	}
	switch opts.Mode {
	case ModeEmit, "":
		return emit(original, opts)
	case ModeExec:
		return exec(ctx, original, opts)
	default:
		return nil, fmt.Errorf("unknown replay mode %q", opts.Mode)
	}
}

// emit copies the recorded events into a new trace under a fresh run id with
// remapped spans. Data payloads are carried over untouched.
func emit(original *trace.Run, opts Options) (*Result, error) {
	res := &Result{
		Mode:              ModeEmit,
		OriginalRunID:     original.RunID,
		OriginalStateHash: original.FinalStateHash(),
		OriginalCost:      trace.SummarizeCost(original.Events),
	}
	runID := trace.NewRunID()
	res.ReplayRunID = runID
	path := opts.OutputPath
	if path == "" {
		dir := filepath.Dir(opts.TracePath)
		ts := time.Now().UTC().Format("20060102T150405")
		path = filepath.Join(dir, fmt.Sprintf("%s_%s.replay.trace.jsonl", runID, ts))
	}
	w, err := trace.NewWriter(path, trace.WriterOptions{
		OnError: func(err error) {
			res.Errors = append(res.Errors, err.Error())
		},
	})
	if err != nil {
		return nil, err
	}
	res.ReplayTracePath = w.Path()

	spans := map[string]string{}
	remap := func(old string) string {
		if old == "" {
			return ""
		}
		if mapped, ok := spans[old]; ok {
			return mapped
		}
		span := trace.NewSpanID()
		spans[old] = span
		return span
	}
	ts := time.Now().UTC()
	for _, ev := range original.Events {
		out := ev.Clone()
		out.RunID = runID
		out.SpanID = remap(ev.SpanID)
		out.ParentSpanID = remap(ev.ParentSpanID)
		out.TS = ts
		ts = ts.Add(time.Microsecond)
		w.Append(out)
	}
	if err := w.Close(); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}

	replayed, err := trace.ReadFile(res.ReplayTracePath)
	if err != nil {
		return nil, fmt.Errorf("re-reading replay trace: %w", err)
	}
	res.ReplayStateHash = replayed.FinalStateHash()
	res.ReplayCost = trace.SummarizeCost(replayed.Events)
	res.Matched = res.ReplayStateHash == res.OriginalStateHash
	return res, nil
}

// exec rebuilds the node handlers around stubbed clients and re-runs the
// graph through the executor, then compares terminal state hashes.
func exec(ctx context.Context, original *trace.Run, opts Options) (*Result, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("exec replay needs the original graph")
	}
	if opts.NewHandlers == nil {
		return nil, fmt.Errorf("exec replay needs a handler factory")
	}
	if opts.Tracer == nil {
		return nil, fmt.Errorf("exec replay needs a trace service")
	}

	res := &Result{
		Mode:              ModeExec,
		OriginalRunID:     original.RunID,
		OriginalStateHash: original.FinalStateHash(),
		OriginalCost:      trace.SummarizeCost(original.Events),
	}

	registry := BuildRegistry(original)
	llmShim := &StubLLMClient{
		Registry:      registry,
		AllowSequence: opts.AllowSequenceFallback,
		Fallback:      opts.LiveLLM,
	}
	toolShim := &StubToolRunner{
		Registry:      registry,
		AllowSequence: opts.AllowSequenceFallback,
		Fallback:      opts.LiveTools,
	}

	input := map[string]any{}
	if original.Start != nil {
		if m, ok := original.Start.Data["input"].(map[string]any); ok {
			input = m
		}
	}

	// The shims are wrapped in the tracing decorators so the replay trace
	// carries its own call events, independently structured from the source.
	ex := &graph.Executor{
		Graph: opts.Graph,
		Handlers: opts.NewHandlers(
			&llm.Traced{Inner: llmShim, Tracer: opts.Tracer},
			&tool.Traced{Inner: toolShim, Tracer: opts.Tracer},
		),
		Tracer: opts.Tracer,
		Pod:    opts.Pod,
	}
	runRes, runErr := ex.Run(ctx, graph.RunOptions{Input: input, TracePath: opts.OutputPath})
	if runErr != nil {
		res.Errors = append(res.Errors, runErr.Error())
	}
	if runRes == nil {
		return res, runErr
	}
	res.ReplayRunID = runRes.RunID
	res.ReplayTracePath = runRes.TracePath

	res.Misses = append(res.Misses, llmShim.Misses()...)
	res.Misses = append(res.Misses, toolShim.Misses()...)
	res.FallbackHits = llmShim.FallbackHits() + toolShim.FallbackHits()
	for _, miss := range res.Misses {
		res.Errors = append(res.Errors, "stub miss: "+miss)
	}

	replayed, err := trace.ReadFile(runRes.TracePath)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res, nil
	}
	res.ReplayStateHash = replayed.FinalStateHash()
	res.ReplayCost = trace.SummarizeCost(replayed.Events)
	res.Matched = res.ReplayStateHash != "" && res.ReplayStateHash == res.OriginalStateHash
	return res, nil
}

// Describe renders a one-line human summary for CLI output.
func (r *Result) Describe() string {
	verdict := "match"
	if !r.Matched {
		verdict = "mismatch"
	}
	parts := []string{
		fmt.Sprintf("replay %s: %s", r.Mode, verdict),
		fmt.Sprintf("original=%s replay=%s", r.OriginalRunID, r.ReplayRunID),
	}
	if len(r.Misses) > 0 {
		parts = append(parts, fmt.Sprintf("misses=%d", len(r.Misses)))
	}
	if r.FallbackHits > 0 {
		parts = append(parts, fmt.Sprintf("sequence_fallbacks=%d", r.FallbackHits))
	}
	return strings.Join(parts, " ")
}
