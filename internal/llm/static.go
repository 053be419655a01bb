package llm

import (
	"context"
	"strings"

	"github.com/huap-ai/huap/internal/trace"
)

// Static is a deterministic offline client: responses come from a canned
// table keyed by messages hash, with an optional default. Token usage is
// derived from word counts so identical inputs always cost the same. Used
// for offline runs and tests, and registered in the router as a zero-cost
// local model.
type Static struct {
	// Responses maps MessagesHash(messages) to the reply text.
	Responses map[string]string
	// Default is returned on a table miss; when empty, a terse echo of the
	// last user message is produced.
	Default string
	// Provider label recorded in events; defaults to "static".
	Provider string
}

func (c *Static) Complete(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	text := ""
	if c.Responses != nil {
		text = c.Responses[MessagesHash(req.Messages)]
	}
	if text == "" {
		text = c.Default
	}
	if text == "" {
		last := req.Messages[len(req.Messages)-1].Content
		text = "ack: " + last
	}
	provider := c.Provider
	if provider == "" {
		provider = "static"
	}
	prompt := 0
	for _, m := range req.Messages {
		prompt += wordCount(m.Content)
	}
	completion := wordCount(text)
	return Response{
		Text:     text,
		Model:    req.Model,
		Provider: provider,
		Usage: trace.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
