package tool

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/huap-ai/huap/internal/trace"
)

// Traced wraps a Runner with trace instrumentation: every call emits a paired
// tool_call/tool_result sharing one span. The call id is a fresh ULID so
// retries of identical inputs stay distinguishable in the trace.
type Traced struct {
	Inner  Runner
	Tracer *trace.Service

	// Permissions recorded on tool_call events, keyed by tool name.
	Permissions map[string][]string
}

func (r *Traced) Run(ctx context.Context, name string, input map[string]any) Result {
	callID := "call_" + ulid.Make().String()
	r.Tracer.ToolCall(name, callID, input, r.Permissions[name])
	res := r.Inner.Run(ctx, name, input)
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	r.Tracer.ToolResult(name, res.Output, res.DurationMS, res.Status, errMsg)
	return res
}
