package llm

import (
	"context"
	"testing"

	"github.com/huap-ai/huap/internal/trace"
)

func TestStatic_DeterministicResponses(t *testing.T) {
	msgs := []Message{{Role: "user", Content: "ping"}}
	c := &Static{Responses: map[string]string{MessagesHash(msgs): "pong"}}
	req := Request{Model: "stub_chat", Messages: msgs}
	a, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	b, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if a.Text != "pong" || b.Text != "pong" {
		t.Fatalf("canned response not returned: %q / %q", a.Text, b.Text)
	}
	if a.Usage != b.Usage {
		t.Fatalf("usage not deterministic: %+v vs %+v", a.Usage, b.Usage)
	}
}

func TestStatic_RejectsInvalidRequests(t *testing.T) {
	c := &Static{}
	if _, err := c.Complete(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatalf("expected error for empty messages")
	}
	if _, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}

func TestTraced_EmitsPairedEventsAndCost(t *testing.T) {
	svc := trace.NewService(trace.Options{OutputDir: t.TempDir()})
	if _, err := svc.StartRun(trace.StartOptions{}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	path := svc.TracePath()
	c := &Traced{Inner: &Static{Default: "hello"}, Tracer: svc}
	if _, err := c.Complete(context.Background(), Request{Model: "m", Provider: "static", Messages: []Message{{Role: "user", Content: "hi"}}}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	svc.EndRun("success", nil, nil)

	run, err := trace.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	reqs := run.EventsNamed(trace.EventLLMRequest)
	resps := run.EventsNamed(trace.EventLLMResponse)
	costs := run.EventsNamed(trace.EventCostRecord)
	if len(reqs) != 1 || len(resps) != 1 || len(costs) != 1 {
		t.Fatalf("event counts: req=%d resp=%d cost=%d", len(reqs), len(resps), len(costs))
	}
	if reqs[0].SpanID != resps[0].SpanID {
		t.Fatalf("request/response spans differ")
	}
}

func TestTraced_ErrorStillClosesSpan(t *testing.T) {
	svc := trace.NewService(trace.Options{OutputDir: t.TempDir()})
	if _, err := svc.StartRun(trace.StartOptions{}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	path := svc.TracePath()
	c := &Traced{Inner: &Static{}, Tracer: svc}
	// Empty messages makes the static client fail after llm_request was emitted.
	if _, err := c.Complete(context.Background(), Request{Model: "m"}); err == nil {
		t.Fatalf("expected error")
	}
	svc.EndRun("error", nil, nil)
	run, err := trace.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if problems := run.Validate(); len(problems) != 0 {
		t.Fatalf("trace invalid after client error: %v", problems)
	}
	resp := run.EventsNamed(trace.EventLLMResponse)
	if len(resp) != 1 || resp[0].DataString("status") != "error" {
		t.Fatalf("expected error llm_response, got %v", resp)
	}
	if len(run.EventsNamed(trace.EventCostRecord)) != 0 {
		t.Fatalf("failed call must not record cost")
	}
}
