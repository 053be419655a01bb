package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/huap-ai/huap/internal/gate"
	"github.com/huap-ai/huap/internal/graph"
	"github.com/huap-ai/huap/internal/llm"
	"github.com/huap-ai/huap/internal/memory"
	"github.com/huap-ai/huap/internal/tool"
	"github.com/huap-ai/huap/internal/trace"
)

func testExecutor(t *testing.T, g *graph.Graph) (*graph.Executor, *trace.Service) {
	t.Helper()
	dir := t.TempDir()
	svc := trace.NewService(trace.Options{OutputDir: dir})
	client := &llm.Traced{Inner: &llm.Static{}, Tracer: svc}
	tools := &tool.Traced{Inner: builtinTools(), Tracer: svc}
	store := &memory.Traced{Inner: memory.NewInMem(), Tracer: svc, Policy: memory.DefaultIngestPolicy()}
	inbox := gate.New(filepath.Join(dir, "gates"))
	return &graph.Executor{
		Graph:    g,
		Handlers: newHandlers(client, tools, store, inbox, svc),
		Tracer:   svc,
	}, svc
}

func TestHandlers_RememberThenRecall(t *testing.T) {
	g := &graph.Graph{
		Name:  "memory",
		Start: "keep",
		Nodes: []*graph.Node{
			{Name: "keep", Run: "remember"},
			{Name: "find", Run: "recall"},
		},
		Edges: []*graph.Edge{
			{From: "keep", To: "find"},
			{From: "find", To: ""},
		},
	}
	ex, _ := testExecutor(t, g)
	res, err := ex.Run(context.Background(), graph.RunOptions{Input: map[string]any{
		"remember":     "the deploy window closes at noon on Fridays",
		"recall_query": "when does the deploy window close",
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State["remembered"] != true {
		t.Fatalf("remembered = %v", res.State["remembered"])
	}
	recalled, _ := res.State["recalled"].([]any)
	if len(recalled) != 1 || recalled[0] != "the deploy window closes at noon on Fridays" {
		t.Fatalf("recalled = %v", recalled)
	}

	run, err := trace.ReadFile(res.TracePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if n := len(run.EventsNamed("memory_put")); n != 1 {
		t.Fatalf("memory_put events = %d, want 1", n)
	}
	if n := len(run.EventsNamed("memory_search")); n != 1 {
		t.Fatalf("memory_search events = %d, want 1", n)
	}
}

func TestHandlers_SaveArtifactRecordsEvent(t *testing.T) {
	g := &graph.Graph{
		Name:  "report",
		Start: "save",
		Nodes: []*graph.Node{{Name: "save", Run: "save_artifact"}},
		Edges: []*graph.Edge{{From: "save", To: ""}},
	}
	ex, _ := testExecutor(t, g)
	path := filepath.Join(t.TempDir(), "out", "report.md")
	res, err := ex.Run(context.Background(), graph.RunOptions{Input: map[string]any{
		"artifact_path":    path,
		"artifact_content": "# summary\n",
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	run, err := trace.ReadFile(res.TracePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	events := run.EventsNamed("artifact_created")
	if len(events) != 1 {
		t.Fatalf("artifact_created events = %d, want 1", len(events))
	}
	if events[0].DataString("checksum") == "" {
		t.Fatalf("artifact event missing checksum: %v", events[0].Data)
	}
}

func TestHandlers_LLMChatUsesCannedResponse(t *testing.T) {
	g := &graph.Graph{
		Name:  "chat",
		Start: "ask",
		Nodes: []*graph.Node{{Name: "ask", Run: "llm_chat"}},
		Edges: []*graph.Edge{{From: "ask", To: ""}},
	}
	dir := t.TempDir()
	svc := trace.NewService(trace.Options{OutputDir: dir})
	canned := &llm.Static{Responses: map[string]string{
		llm.MessagesHash([]llm.Message{{Role: "user", Content: "ping"}}): "pong",
	}}
	client := &llm.Traced{Inner: canned, Tracer: svc}
	tools := &tool.Traced{Inner: builtinTools(), Tracer: svc}
	store := &memory.Traced{Inner: memory.NewInMem(), Tracer: svc}
	ex := &graph.Executor{
		Graph:    g,
		Handlers: newHandlers(client, tools, store, gate.New(filepath.Join(dir, "gates")), svc),
		Tracer:   svc,
	}
	res, err := ex.Run(context.Background(), graph.RunOptions{Input: map[string]any{"prompt": "ping"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State["reply"] != "pong" {
		t.Fatalf("reply = %v", res.State["reply"])
	}
}
