package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/huap-ai/huap/internal/trace"
)

func calcTool() Tool {
	return Tool{
		Name:        "calc",
		Description: "adds two numbers",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"a", "b"},
		},
		Fn: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			a, _ := input["a"].(float64)
			b, _ := input["b"].(float64)
			return map[string]any{"sum": a + b}, nil
		},
	}
}

func TestRegistry_RunValidatesAndExecutes(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(calcTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.Run(context.Background(), "calc", map[string]any{"a": 2, "b": 3})
	if res.Status != "ok" || res.Err != nil {
		t.Fatalf("Run failed: status=%s err=%v", res.Status, res.Err)
	}
	if res.Output["sum"] != float64(5) {
		t.Fatalf("sum = %v, want 5", res.Output["sum"])
	}
}

func TestRegistry_RunRejectsSchemaViolations(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(calcTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.Run(context.Background(), "calc", map[string]any{"a": "two"})
	if res.Status != "error" || res.Err == nil {
		t.Fatalf("schema violation not rejected: %+v", res)
	}
	if !strings.Contains(res.Err.Error(), "input") {
		t.Fatalf("error should mention input: %v", res.Err)
	}
}

func TestRegistry_RunUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Run(context.Background(), "nope", nil)
	if res.Status != "error" || res.Err == nil {
		t.Fatalf("unknown tool must fail: %+v", res)
	}
}

func TestRegistry_RunTimesOut(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Tool{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Fn: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return map[string]any{}, nil
			}
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.Run(context.Background(), "slow", nil)
	if res.Status != "timeout" {
		t.Fatalf("status = %s, want timeout", res.Status)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", res.Err)
	}
}

func TestRegistry_RegisterRequiresNameAndFn(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Tool{Fn: func(ctx context.Context, input map[string]any) (map[string]any, error) { return nil, nil }}); err == nil {
		t.Fatalf("nameless tool accepted")
	}
	if err := r.Register(Tool{Name: "x"}); err == nil {
		t.Fatalf("tool without implementation accepted")
	}
}

func TestTraced_EmitsPairedToolEvents(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(calcTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	svc := trace.NewService(trace.Options{OutputDir: t.TempDir()})
	if _, err := svc.StartRun(trace.StartOptions{}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	path := svc.TracePath()
	tr := &Traced{Inner: r, Tracer: svc, Permissions: map[string][]string{"calc": {"compute"}}}
	res := tr.Run(context.Background(), "calc", map[string]any{"a": 1, "b": 1})
	if res.Status != "ok" {
		t.Fatalf("Run: %+v", res)
	}
	svc.EndRun("success", nil, nil)

	run, err := trace.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	calls := run.EventsNamed(trace.EventToolCall)
	results := run.EventsNamed(trace.EventToolResult)
	if len(calls) != 1 || len(results) != 1 {
		t.Fatalf("event counts: calls=%d results=%d", len(calls), len(results))
	}
	if calls[0].SpanID != results[0].SpanID {
		t.Fatalf("call/result spans differ")
	}
	if calls[0].DataString("call_id") == "" {
		t.Fatalf("tool_call missing call_id")
	}
	if got := calls[0].DataString("input_hash"); got != InputHash(map[string]any{"a": 1, "b": 1}) {
		t.Fatalf("input_hash mismatch: %s", got)
	}
	if results[0].DataString("status") != "ok" {
		t.Fatalf("tool_result status = %s", results[0].DataString("status"))
	}
	if problems := run.Validate(); len(problems) != 0 {
		t.Fatalf("trace invalid: %v", problems)
	}
}

func TestTraced_ErrorResultRecorded(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("disk on fire")
	err := r.Register(Tool{
		Name: "flaky",
		Fn: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, boom
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	svc := trace.NewService(trace.Options{OutputDir: t.TempDir()})
	if _, err := svc.StartRun(trace.StartOptions{}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	path := svc.TracePath()
	tr := &Traced{Inner: r, Tracer: svc}
	res := tr.Run(context.Background(), "flaky", nil)
	if res.Status != "error" || !errors.Is(res.Err, boom) {
		t.Fatalf("unexpected result: %+v", res)
	}
	svc.EndRun("error", nil, nil)

	run, rerr := trace.ReadFile(path)
	if rerr != nil {
		t.Fatalf("ReadFile: %v", rerr)
	}
	results := run.EventsNamed(trace.EventToolResult)
	if len(results) != 1 || results[0].DataString("status") != "error" {
		t.Fatalf("error status not recorded: %v", results)
	}
	if results[0].DataString("error") != "disk on fire" {
		t.Fatalf("error message not recorded: %s", results[0].DataString("error"))
	}
}
