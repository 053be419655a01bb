package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/huap-ai/huap/internal/llm"
	"github.com/huap-ai/huap/internal/tool"
	"github.com/huap-ai/huap/internal/trace"
)

// StubLLMClient answers LLM calls from the registry. A miss either falls
// through to Fallback or returns ErrStubMiss when no fallback is configured.
type StubLLMClient struct {
	Registry *Registry

	// AllowSequence enables the positional fallback for drifted prompts.
	AllowSequence bool

	// Fallback is consulted after a registry miss; nil means misses fail.
	Fallback llm.Client

	mu           sync.Mutex
	misses       []string
	fallbackHits int
}

func (c *StubLLMClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	hash := llm.MessagesHash(req.Messages)
	stub, err := c.Registry.LookupLLM(hash)
	if err != nil && c.AllowSequence {
		if stub, err = c.Registry.NextLLMStub(); err == nil {
			c.mu.Lock()
			c.fallbackHits++
			c.mu.Unlock()
		}
	}
	if err != nil {
		c.mu.Lock()
		c.misses = append(c.misses, fmt.Sprintf("llm %s messages_hash=%s", req.Model, hash))
		c.mu.Unlock()
		if c.Fallback != nil {
			return c.Fallback.Complete(ctx, req)
		}
		return llm.Response{}, fmt.Errorf("%w: llm %s", ErrStubMiss, hash)
	}
	if stub.Status == "error" && stub.Error != "" {
		return llm.Response{}, errors.New(stub.Error)
	}
	return llm.Response{
		Text:       stub.Text,
		Model:      stub.Model,
		Provider:   stub.Provider,
		Usage:      stub.Usage,
		DurationMS: stub.DurationMS,
	}, nil
}

func (c *StubLLMClient) Misses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.misses...)
}

func (c *StubLLMClient) FallbackHits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallbackHits
}

// StubToolRunner answers tool calls from the registry, mirroring the LLM shim.
type StubToolRunner struct {
	Registry      *Registry
	AllowSequence bool
	Fallback      tool.Runner

	mu           sync.Mutex
	misses       []string
	fallbackHits int
}

func (r *StubToolRunner) Run(ctx context.Context, name string, input map[string]any) tool.Result {
	hash := trace.ContentHash(input)
	stub, err := r.Registry.LookupTool(name, hash)
	if err != nil && r.AllowSequence {
		if stub, err = r.Registry.NextToolStub(name); err == nil {
			r.mu.Lock()
			r.fallbackHits++
			r.mu.Unlock()
		}
	}
	if err != nil {
		r.mu.Lock()
		r.misses = append(r.misses, fmt.Sprintf("tool %s input_hash=%s", name, hash))
		r.mu.Unlock()
		if r.Fallback != nil {
			return r.Fallback.Run(ctx, name, input)
		}
		return tool.Result{
			Tool:   name,
			Status: "error",
			Err:    fmt.Errorf("%w: tool %s %s", ErrStubMiss, name, hash),
		}
	}
	res := tool.Result{
		Tool:       name,
		Output:     stub.Result,
		DurationMS: stub.DurationMS,
		Status:     stub.Status,
	}
	if stub.Error != "" {
		res.Err = errors.New(stub.Error)
	}
	return res
}

func (r *StubToolRunner) Misses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.misses...)
}

func (r *StubToolRunner) FallbackHits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallbackHits
}
