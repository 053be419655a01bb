package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/huap-ai/huap/internal/gate"
	"github.com/huap-ai/huap/internal/graph"
	"github.com/huap-ai/huap/internal/llm"
	"github.com/huap-ai/huap/internal/memory"
	"github.com/huap-ai/huap/internal/tool"
	"github.com/huap-ai/huap/internal/trace"
)

// builtinTools is the tool set every run gets. Deliberately small: real
// deployments register their own registry before building the executor.
func builtinTools() *tool.Registry {
	r := tool.NewRegistry()
	_ = r.Register(tool.Tool{
		Name:        "read_file",
		Description: "read a local file as text",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []any{"path"},
		},
		Permissions: []string{"fs_read"},
		Fn: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			path, _ := input["path"].(string)
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"content": string(b), "bytes": len(b)}, nil
		},
	})
	_ = r.Register(tool.Tool{
		Name:        "word_count",
		Description: "count words in a string",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
		Fn: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			text, _ := input["text"].(string)
			n := 0
			inWord := false
			for _, r := range text {
				if r == ' ' || r == '\n' || r == '\t' {
					inWord = false
				} else if !inWord {
					inWord = true
					n++
				}
			}
			return map[string]any{"words": n}, nil
		},
	})
	return r
}

// newHandlers wires the builtin node implementations around whichever
// clients the caller provides. The replayer calls this with stubbed clients;
// the run command with live ones.
func newHandlers(client llm.Client, tools tool.Runner, store memory.Store, inbox *gate.Inbox, tracer *trace.Service) *graph.Handlers {
	h := graph.NewHandlers()

	h.Register("echo", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"echoed": state["message"]}, nil
	})
	h.Register("greet", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		msg, _ := state["echoed"].(string)
		return map[string]any{"greeting": "Hello, " + msg + "!"}, nil
	})
	h.Register("complete", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return map[string]any{"status": "complete"}, nil
	})

	h.Register("llm_chat", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		prompt, _ := state["prompt"].(string)
		if prompt == "" {
			return nil, fmt.Errorf("llm_chat needs a prompt in state")
		}
		model, _ := state["model"].(string)
		if model == "" {
			model = "stub_chat"
		}
		resp, err := client.Complete(ctx, llm.Request{
			Model:    model,
			Messages: []llm.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"reply": resp.Text}, nil
	})

	h.Register("run_tool", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		name, _ := state["tool"].(string)
		if name == "" {
			return nil, fmt.Errorf("run_tool needs a tool name in state")
		}
		input, _ := state["tool_input"].(map[string]any)
		res := tools.Run(ctx, name, input)
		if res.Err != nil {
			return nil, res.Err
		}
		return map[string]any{"tool_output": res.Output}, nil
	})

	h.Register("remember", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		content, _ := state["remember"].(string)
		if content == "" {
			return nil, fmt.Errorf("remember needs content in state")
		}
		bank, _ := state["memory_bank"].(string)
		if bank == "" {
			bank = "default"
		}
		item, err := store.Retain(ctx, bank, content, memory.RetainOptions{Context: "workflow"})
		if err != nil {
			return nil, err
		}
		if item == nil {
			// Refused by the ingest policy; the trace carries the reason.
			return map[string]any{"remembered": false}, nil
		}
		return map[string]any{"remembered": true, "memory_id": item.ID}, nil
	})

	h.Register("recall", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		query, _ := state["recall_query"].(string)
		if query == "" {
			return nil, fmt.Errorf("recall needs a recall_query in state")
		}
		bank, _ := state["memory_bank"].(string)
		if bank == "" {
			bank = "default"
		}
		items, err := store.Recall(ctx, bank, query, 0, nil)
		if err != nil {
			return nil, err
		}
		recalled := make([]any, 0, len(items))
		for _, item := range items {
			recalled = append(recalled, item.Content)
		}
		return map[string]any{"recalled": recalled}, nil
	})

	h.Register("save_artifact", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		path, _ := state["artifact_path"].(string)
		if path == "" {
			return nil, fmt.Errorf("save_artifact needs an artifact_path in state")
		}
		content, _ := state["artifact_content"].(string)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
		if err := tracer.ArtifactCreated(filepath.Base(path), path); err != nil {
			return nil, err
		}
		return map[string]any{"artifact_path": path}, nil
	})

	h.Register("human_gate", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		title, _ := state["gate_title"].(string)
		if title == "" {
			title = "approval required"
		}
		severity, _ := state["gate_severity"].(string)
		req, err := inbox.Create(tracer.RunID(), title, severity, "", nil, []string{"approve", "reject", "edit"})
		if err != nil {
			return nil, err
		}
		tracer.PolicyCheck("human_gate", "pending", "", req.GateID, nil)

		timeout := 5 * time.Minute
		if secs, ok := state["gate_timeout_s"].(float64); ok && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}
		decision, err := inbox.WaitForDecision(ctx, req.RunID, req.GateID, time.Second, timeout)
		if err != nil {
			return nil, err
		}
		if decision == nil {
			// Timeout is the caller's policy; the builtin converts to reject.
			tracer.PolicyCheck("human_gate", "reject", "timed out", req.GateID, nil)
			return nil, fmt.Errorf("gate %s timed out", req.GateID)
		}
		tracer.PolicyCheck("human_gate", decision.Decision, decision.Note, req.GateID, nil)
		switch decision.Decision {
		case gate.DecisionReject:
			return nil, fmt.Errorf("gate %s rejected: %s", req.GateID, decision.Note)
		case gate.DecisionEdit:
			updates := map[string]any{"gate_decision": decision.Decision}
			gate.ApplyPatch(updates, decision)
			return updates, nil
		default:
			return map[string]any{"gate_decision": decision.Decision}, nil
		}
	})

	return h
}
