// Package tool holds the tool registry and the execution plumbing around it:
// schema validation of inputs, per-tool timeouts, and trace instrumentation.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/huap-ai/huap/internal/trace"
)

// DefaultTimeout bounds tool execution when the definition does not set one.
const DefaultTimeout = 10 * time.Second

// Fn is a tool implementation. The returned map becomes the recorded result.
type Fn func(ctx context.Context, input map[string]any) (map[string]any, error)

// Tool describes a registered tool. Parameters is a JSON Schema document for
// the input map; a nil schema accepts any object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Timeout     time.Duration
	Permissions []string
	Fn          Fn

	schema *jsonschema.Schema
}

// Result is the outcome of one tool call.
type Result struct {
	Tool       string
	Output     map[string]any
	DurationMS int64
	Status     string // ok, error or timeout
	Err        error
}

// Runner is the execution capability node handlers depend on. The registry
// implements it directly; Traced wraps it with event recording and replay
// shims substitute it entirely.
type Runner interface {
	Run(ctx context.Context, name string, input map[string]any) Result
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool missing name")
	}
	if t.Fn == nil {
		return fmt.Errorf("tool %s missing implementation", t.Name)
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	s, err := compileSchema(t.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", t.Name, err)
	}
	t.schema = s
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = map[string]Tool{}
	}
	r.tools[t.Name] = t
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Run validates the input against the tool's schema and executes the tool
// under its timeout. Failures are reported in the Result, never panicked.
func (r *Registry) Run(ctx context.Context, name string, input map[string]any) Result {
	t, ok := r.Lookup(name)
	if !ok {
		return Result{Tool: name, Status: "error", Err: fmt.Errorf("unknown tool: %s", name)}
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := t.schema.Validate(normalizeForSchema(input)); err != nil {
		return Result{Tool: name, Status: "error", Err: fmt.Errorf("tool %s input: %w", name, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	started := time.Now()
	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := t.Fn(ctx, input)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		res := Result{
			Tool:       name,
			Output:     o.output,
			DurationMS: time.Since(started).Milliseconds(),
			Status:     "ok",
			Err:        o.err,
		}
		if o.err != nil {
			res.Status = "error"
			if ctx.Err() == context.DeadlineExceeded {
				res.Status = "timeout"
			}
		}
		return res
	case <-ctx.Done():
		status := "timeout"
		if ctx.Err() != context.DeadlineExceeded {
			status = "error"
		}
		return Result{
			Tool:       name,
			DurationMS: time.Since(started).Milliseconds(),
			Status:     status,
			Err:        ctx.Err(),
		}
	}
}

// InputHash is the replay matching key for a tool call.
func InputHash(input map[string]any) string {
	return trace.ContentHash(input)
}

// normalizeForSchema round-trips the input through JSON so the validator sees
// the same types a decoded document would carry (float64 numbers, no ints).
func normalizeForSchema(input map[string]any) any {
	b, err := json.Marshal(input)
	if err != nil {
		return input
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return input
	}
	return v
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
