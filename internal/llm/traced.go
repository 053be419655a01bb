package llm

import (
	"context"
	"time"

	"github.com/huap-ai/huap/internal/trace"
)

// Traced wraps any client with trace instrumentation: every call emits a
// paired llm_request/llm_response sharing one span, and successful responses
// trigger the service's automatic cost_record. Failures still close the span
// so the pairing invariant holds.
type Traced struct {
	Inner  Client
	Tracer *trace.Service
}

func (c *Traced) Complete(ctx context.Context, req Request) (Response, error) {
	c.Tracer.LLMRequest(req.Model, MessagesValue(req.Messages), req.Temperature, req.MaxTokens, req.Provider)
	started := time.Now()
	resp, err := c.Inner.Complete(ctx, req)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		c.Tracer.LLMResponse(req.Model, "", trace.Usage{}, elapsed, req.Provider, err.Error())
		return Response{}, err
	}
	if resp.DurationMS == 0 {
		resp.DurationMS = elapsed
	}
	provider := resp.Provider
	if provider == "" {
		provider = req.Provider
	}
	c.Tracer.LLMResponse(resp.Model, resp.Text, resp.Usage, resp.DurationMS, provider, "")
	return resp, nil
}
