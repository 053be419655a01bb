package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/huap-ai/huap/internal/graph"
	"github.com/huap-ai/huap/internal/llm"
	"github.com/huap-ai/huap/internal/tool"
	"github.com/huap-ai/huap/internal/trace"
)

func chatGraph() *graph.Graph {
	return &graph.Graph{
		Name:  "chat",
		Start: "ask",
		Nodes: []*graph.Node{
			{Name: "ask", Run: "ask"},
			{Name: "measure", Run: "measure"},
		},
		Edges: []*graph.Edge{
			{From: "ask", To: "measure"},
			{From: "measure", To: ""},
		},
	}
}

// chatHandlers builds the node functions around whatever clients they get,
// so recording and replay drive identical code paths.
func chatHandlers(client llm.Client, tools tool.Runner) *graph.Handlers {
	h := graph.NewHandlers()
	h.Register("ask", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		prompt, _ := state["prompt"].(string)
		resp, err := client.Complete(ctx, llm.Request{
			Model:    "stub_chat",
			Messages: []llm.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"reply": resp.Text}, nil
	})
	h.Register("measure", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		reply, _ := state["reply"].(string)
		res := tools.Run(ctx, "strlen", map[string]any{"s": reply})
		if res.Err != nil {
			return nil, res.Err
		}
		return map[string]any{"reply_len": res.Output["len"]}, nil
	})
	return h
}

func strlenRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	err := r.Register(tool.Tool{
		Name: "strlen",
		Fn: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			s, _ := input["s"].(string)
			return map[string]any{"len": len(s)}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

// recordChatRun executes the chat graph live and returns the trace path.
func recordChatRun(t *testing.T, dir string) string {
	t.Helper()
	svc := trace.NewService(trace.Options{OutputDir: dir})
	static := &llm.Static{Responses: map[string]string{
		llm.MessagesHash([]llm.Message{{Role: "user", Content: "ping"}}): "pong",
	}}
	client := &llm.Traced{Inner: static, Tracer: svc}
	tools := &tool.Traced{Inner: strlenRegistry(t), Tracer: svc}
	ex := &graph.Executor{
		Graph:    chatGraph(),
		Handlers: chatHandlers(client, tools),
		Tracer:   svc,
		Pod:      "chat",
	}
	res, err := ex.Run(context.Background(), graph.RunOptions{Input: map[string]any{"prompt": "ping"}})
	if err != nil {
		t.Fatalf("record run: %v", err)
	}
	if res.State["reply"] != "pong" {
		t.Fatalf("recorded reply = %v", res.State["reply"])
	}
	return res.TracePath
}

func TestBuildRegistry_HashHitAndMiss(t *testing.T) {
	path := recordChatRun(t, t.TempDir())
	run, err := trace.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	reg := BuildRegistry(run)
	tools, llms := reg.Counts()
	if tools != 1 || llms != 1 {
		t.Fatalf("stub counts: tools=%d llms=%d", tools, llms)
	}

	hash := llm.MessagesHash([]llm.Message{{Role: "user", Content: "ping"}})
	stub, err := reg.LookupLLM(hash)
	if err != nil {
		t.Fatalf("LookupLLM: %v", err)
	}
	if stub.Text != "pong" {
		t.Fatalf("stub text = %q, want pong", stub.Text)
	}
	// The stub is consumed; a second identical call has no recording.
	if _, err := reg.LookupLLM(hash); !errors.Is(err, ErrStubMiss) {
		t.Fatalf("consumed stub should miss, got %v", err)
	}
	other := llm.MessagesHash([]llm.Message{{Role: "user", Content: "different"}})
	if _, err := reg.LookupLLM(other); !errors.Is(err, ErrStubMiss) {
		t.Fatalf("unrecorded messages should miss, got %v", err)
	}
	if _, err := reg.LookupTool("strlen", "nope"); !errors.Is(err, ErrStubMiss) {
		t.Fatalf("wrong input hash should miss, got %v", err)
	}
}

func TestRegistry_SequenceFallback(t *testing.T) {
	path := recordChatRun(t, t.TempDir())
	run, err := trace.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	reg := BuildRegistry(run)
	stub, err := reg.NextToolStub("strlen")
	if err != nil {
		t.Fatalf("NextToolStub: %v", err)
	}
	if stub.Tool != "strlen" || stub.Status != "ok" {
		t.Fatalf("unexpected stub: %+v", stub)
	}
	if _, err := reg.NextToolStub("strlen"); !errors.Is(err, ErrStubMiss) {
		t.Fatalf("exhausted sequence should miss, got %v", err)
	}
}

func TestRun_EmitRewritesIdentityOnly(t *testing.T) {
	dir := t.TempDir()
	path := recordChatRun(t, dir)
	res, err := Run(context.Background(), Options{TracePath: path, Mode: ModeEmit})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Matched {
		t.Fatalf("emit replay must match: %+v", res)
	}
	if res.ReplayRunID == res.OriginalRunID {
		t.Fatalf("replay must get a fresh run id")
	}
	original, _ := trace.ReadFile(path)
	replayed, err := trace.ReadFile(res.ReplayTracePath)
	if err != nil {
		t.Fatalf("ReadFile replay: %v", err)
	}
	if len(replayed.Events) != len(original.Events) {
		t.Fatalf("event count drifted: %d vs %d", len(replayed.Events), len(original.Events))
	}
	for i := range original.Events {
		if replayed.Events[i].Name != original.Events[i].Name {
			t.Fatalf("event %d renamed: %s vs %s", i, replayed.Events[i].Name, original.Events[i].Name)
		}
		if replayed.Events[i].SpanID == original.Events[i].SpanID {
			t.Fatalf("event %d span not remapped", i)
		}
	}
	if problems := replayed.Validate(); len(problems) != 0 {
		t.Fatalf("emitted trace invalid: %v", problems)
	}
	if res.ReplayCost != res.OriginalCost {
		t.Fatalf("emit cost drifted: %+v vs %+v", res.ReplayCost, res.OriginalCost)
	}
}

func TestRun_ExecReplayMatchesRecordedRun(t *testing.T) {
	dir := t.TempDir()
	path := recordChatRun(t, dir)
	res, err := Run(context.Background(), Options{
		TracePath:   path,
		Mode:        ModeExec,
		Graph:       chatGraph(),
		NewHandlers: chatHandlers,
		Tracer:      trace.NewService(trace.Options{OutputDir: t.TempDir()}),
		Pod:         "chat",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Matched {
		t.Fatalf("exec replay mismatched: original=%s replay=%s errors=%v",
			res.OriginalStateHash, res.ReplayStateHash, res.Errors)
	}
	if len(res.Misses) != 0 {
		t.Fatalf("hermetic replay hit misses: %v", res.Misses)
	}
	if res.ReplayCost.TotalTokens != res.OriginalCost.TotalTokens {
		t.Fatalf("token count drifted: %d vs %d", res.ReplayCost.TotalTokens, res.OriginalCost.TotalTokens)
	}

	original, _ := trace.ReadFile(path)
	replayed, rerr := trace.ReadFile(res.ReplayTracePath)
	if rerr != nil {
		t.Fatalf("ReadFile replay: %v", rerr)
	}
	if problems := replayed.Validate(); len(problems) != 0 {
		t.Fatalf("replay trace invalid: %v", problems)
	}
	var want, got []string
	for _, ev := range original.Events {
		want = append(want, ev.Name)
	}
	for _, ev := range replayed.Events {
		got = append(got, ev.Name)
	}
	if len(got) != len(want) {
		t.Fatalf("event sequences differ:\nwant %v\ngot  %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRun_ExecReportsStubMissesWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	path := recordChatRun(t, dir)

	// Replaying a different prompt misses the LLM stub; with no fallback the
	// node fails, but the replay trace is still complete.
	g := chatGraph()
	res, err := Run(context.Background(), Options{
		TracePath: path,
		Mode:      ModeExec,
		Graph:     g,
		NewHandlers: func(client llm.Client, tools tool.Runner) *graph.Handlers {
			h := chatHandlers(client, tools)
			h.Register("ask", func(ctx context.Context, state map[string]any) (map[string]any, error) {
				resp, err := client.Complete(ctx, llm.Request{
					Model:    "stub_chat",
					Messages: []llm.Message{{Role: "user", Content: "drifted prompt"}},
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"reply": resp.Text}, nil
			})
			return h
		},
		Tracer: trace.NewService(trace.Options{OutputDir: t.TempDir()}),
	})
	if err != nil {
		t.Fatalf("Run returned hard error: %v", err)
	}
	if res.Matched {
		t.Fatalf("drifted replay must not match")
	}
	if len(res.Misses) != 1 || len(res.Errors) == 0 {
		t.Fatalf("miss not reported: misses=%v errors=%v", res.Misses, res.Errors)
	}
	replayed, rerr := trace.ReadFile(res.ReplayTracePath)
	if rerr != nil {
		t.Fatalf("replay trace unreadable: %v", rerr)
	}
	if replayed.End == nil {
		t.Fatalf("replay trace not closed with run_end")
	}
}

func TestRun_ExecSequenceFallbackAnswersDriftedPrompt(t *testing.T) {
	dir := t.TempDir()
	path := recordChatRun(t, dir)
	res, err := Run(context.Background(), Options{
		TracePath: path,
		Mode:      ModeExec,
		Graph:     chatGraph(),
		NewHandlers: func(client llm.Client, tools tool.Runner) *graph.Handlers {
			h := chatHandlers(client, tools)
			h.Register("ask", func(ctx context.Context, state map[string]any) (map[string]any, error) {
				resp, err := client.Complete(ctx, llm.Request{
					Model:    "stub_chat",
					Messages: []llm.Message{{Role: "user", Content: "drifted prompt"}},
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"reply": resp.Text}, nil
			})
			return h
		},
		Tracer:                trace.NewService(trace.Options{OutputDir: t.TempDir()}),
		AllowSequenceFallback: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FallbackHits != 1 {
		t.Fatalf("fallback hits = %d, want 1", res.FallbackHits)
	}
	if !res.Matched {
		t.Fatalf("positional stub should reproduce the recorded state: %+v", res)
	}
}
