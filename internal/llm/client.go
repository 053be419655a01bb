// Package llm defines the client capability the runtime depends on. Real
// provider adapters, stub-backed replay clients and the offline static client
// are all independent implementations of the same interface; callers never
// know which one they hold.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/huap-ai/huap/internal/trace"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Provider    string
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("llm request missing model")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("llm request has no messages")
	}
	return nil
}

type Response struct {
	Text       string
	Model      string
	Provider   string
	Usage      trace.Usage
	DurationMS int64
}

// Client is the LLM capability. Complete blocks until the provider answers;
// implementations must honour ctx cancellation.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// MessagesValue renders messages as plain maps, the form they take in trace
// events and content hashes.
func MessagesValue(messages []Message) []map[string]any {
	out := make([]map[string]any, len(messages))
	for i, m := range messages {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}

// MessagesHash is the replay matching key for an LLM call.
func MessagesHash(messages []Message) string {
	return trace.ContentHash(MessagesValue(messages))
}
