package trace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrRunActive is returned by StartRun while another run is in progress.
var ErrRunActive = errors.New("a trace run is already active")

// Environment overrides. Everything else is driven by call arguments.
const (
	EnvTraceDir  = "HUAP_TRACE_DIR"
	EnvRedactLLM = "HUAP_TRACE_REDACT_LLM"
)

// DefaultCostPerTokenUSD is the flat per-token estimate used for automatic
// cost_record events when no model-specific rate is configured.
const DefaultCostPerTokenUSD = 0.000002

// Options configure a Service. The zero value works: traces land in
// "./traces" unless HUAP_TRACE_DIR says otherwise.
type Options struct {
	OutputDir string
	Pod       string
	Engine    string

	// RedactLLM replaces message contents and response text in recorded
	// events, keeping hashes and lengths for replay matching.
	RedactLLM bool

	CostPerTokenUSD float64
	MaxInputBytes   int

	WriterMaxBytes int64
	Buffered       bool
	OnWriteError   func(error)
}

// Service is the stateful recording façade: it owns the current run's
// identity, span stack, writer and default labels. States are idle and
// active; every event-emitting method is a no-op while idle.
type Service struct {
	mu   sync.Mutex
	opts Options
	run  *activeRun
}

type activeRun struct {
	id        string
	writer    *Writer
	spans     []string
	started   time.Time
	lastTS    time.Time
	pod       string
	userID    string
	sessionID string
}

func NewService(opts Options) *Service {
	if opts.OutputDir == "" {
		if dir := strings.TrimSpace(os.Getenv(EnvTraceDir)); dir != "" {
			opts.OutputDir = dir
		} else {
			opts.OutputDir = "traces"
		}
	}
	if !opts.RedactLLM {
		switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvRedactLLM))) {
		case "1", "true", "yes", "on":
			opts.RedactLLM = true
		}
	}
	if opts.CostPerTokenUSD <= 0 {
		opts.CostPerTokenUSD = DefaultCostPerTokenUSD
	}
	if opts.MaxInputBytes <= 0 {
		opts.MaxInputBytes = DefaultMaxInputBytes
	}
	return &Service{opts: opts}
}

// StartOptions describe a new run.
type StartOptions struct {
	Pod       string
	Graph     string
	GraphPath string
	Input     map[string]any
	Config    map[string]any
	UserID    string
	SessionID string

	// TracePath overrides the default <output_dir>/<run_id>_<ts>.trace.jsonl.
	TracePath string
}

// StartRun allocates a run id, opens the writer and emits run_start.
func (s *Service) StartRun(opts StartOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return "", fmt.Errorf("%w: %s", ErrRunActive, s.run.id)
	}
	runID := NewRunID()
	path := opts.TracePath
	if path == "" {
		ts := time.Now().UTC().Format("20060102T150405")
		path = filepath.Join(s.opts.OutputDir, fmt.Sprintf("%s_%s.trace.jsonl", runID, ts))
	}
	w, err := NewWriter(path, WriterOptions{
		MaxBytes: s.opts.WriterMaxBytes,
		Buffered: s.opts.Buffered,
		OnError:  s.opts.OnWriteError,
	})
	if err != nil {
		return "", err
	}
	pod := opts.Pod
	if pod == "" {
		pod = s.opts.Pod
	}
	now := time.Now().UTC()
	s.run = &activeRun{
		id:        runID,
		writer:    w,
		started:   now,
		pod:       pod,
		userID:    opts.UserID,
		sessionID: opts.SessionID,
	}
	root := NewSpanID()
	s.run.spans = []string{root}
	data := map[string]any{
		"graph":      opts.Graph,
		"input":      SanitizeInput(opts.Input, s.opts.MaxInputBytes),
		"input_hash": ContentHash(opts.Input),
	}
	if opts.GraphPath != "" {
		data["graph_path"] = opts.GraphPath
	}
	if opts.Config != nil {
		data["config"] = SanitizeInput(opts.Config, s.opts.MaxInputBytes)
	}
	s.emitLocked(KindLifecycle, EventRunStart, data, root, "")
	return runID, nil
}

// EndRun emits run_end with the terminal state hash, closes the writer and
// returns the service to idle. No-op while idle.
func (s *Service) EndRun(status string, output map[string]any, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return
	}
	data := map[string]any{
		"status":      status,
		"state_hash":  ContentHash(output),
		"duration_ms": time.Since(s.run.started).Milliseconds(),
	}
	if len(output) > 0 {
		data["output_keys"] = StateKeys(output)
	}
	if runErr != nil {
		data["error"] = runErr.Error()
	}
	root := ""
	if len(s.run.spans) > 0 {
		root = s.run.spans[0]
	} else {
		root = NewSpanID()
	}
	s.emitLocked(KindLifecycle, EventRunEnd, data, root, "")
	if err := s.run.writer.Flush(); err != nil && s.opts.OnWriteError != nil {
		s.opts.OnWriteError(err)
	}
	if err := s.run.writer.Close(); err != nil && s.opts.OnWriteError != nil {
		s.opts.OnWriteError(err)
	}
	s.run = nil
}

// NodeEnter pushes a span and emits node_enter carrying the state hash and
// the (secret-filtered) state key list. Returns the new span id.
func (s *Service) NodeEnter(node string, state map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	span := s.pushSpanLocked()
	s.emitLocked(KindNode, EventNodeEnter, map[string]any{
		"node":       node,
		"state_hash": ContentHash(state),
		"state_keys": StateKeys(state),
	}, span, s.parentOfLocked(span))
	return span
}

// NodeExit pops the node's span and emits node_exit.
func (s *Service) NodeExit(node string, output map[string]any, durationMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return
	}
	span := s.popSpanLocked()
	s.emitLocked(KindNode, EventNodeExit, map[string]any{
		"node":        node,
		"output_hash": ContentHash(output),
		"output_keys": StateKeys(output),
		"duration_ms": durationMS,
	}, span, s.currentSpanLocked())
}

// ToolCall pushes a span and emits tool_call. The input hash is computed over
// the raw input; the recorded copy is sanitised.
func (s *Service) ToolCall(tool string, callID string, input map[string]any, permissions []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	span := s.pushSpanLocked()
	data := map[string]any{
		"tool":       tool,
		"input":      SanitizeInput(input, s.opts.MaxInputBytes),
		"input_hash": ContentHash(input),
	}
	if callID != "" {
		data["call_id"] = callID
	}
	if len(permissions) > 0 {
		data["permissions"] = permissions
	}
	s.emitLocked(KindTool, EventToolCall, data, span, s.parentOfLocked(span))
	return span
}

// ToolResult pops the tool span and emits tool_result.
func (s *Service) ToolResult(tool string, result map[string]any, durationMS int64, status string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return
	}
	span := s.popSpanLocked()
	data := map[string]any{
		"tool":        tool,
		"status":      status,
		"duration_ms": durationMS,
	}
	if result != nil {
		data["result"] = SanitizeInput(result, s.opts.MaxInputBytes)
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	s.emitLocked(KindTool, EventToolResult, data, span, s.currentSpanLocked())
}

// LLMRequest pushes a span and emits llm_request. messages_hash is always
// computed over the unredacted messages so replay matching survives
// redaction.
func (s *Service) LLMRequest(model string, messages []map[string]any, temperature float64, maxTokens int, provider string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	span := s.pushSpanLocked()
	recorded := messages
	if s.opts.RedactLLM {
		recorded = RedactMessages(messages)
	}
	s.emitLocked(KindLLM, EventLLMRequest, map[string]any{
		"model":         model,
		"provider":      provider,
		"messages":      recorded,
		"messages_hash": ContentHash(messages),
		"temperature":   temperature,
		"max_tokens":    maxTokens,
	}, span, s.parentOfLocked(span))
	return span
}

// LLMResponse pops the LLM span, emits llm_response and an automatic
// cost_record derived from the configured per-token estimate.
func (s *Service) LLMResponse(model string, text string, usage Usage, durationMS int64, provider string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return
	}
	span := s.popSpanLocked()
	data := map[string]any{
		"model":       model,
		"provider":    provider,
		"usage":       usage.Map(),
		"duration_ms": durationMS,
	}
	if s.opts.RedactLLM {
		data["text"] = Redacted
		data["text_hash"] = ContentHash(text)
		data["text_len"] = len(text)
	} else {
		data["text"] = text
	}
	if errMsg != "" {
		data["status"] = "error"
		data["error"] = errMsg
	} else {
		data["status"] = "ok"
	}
	s.emitLocked(KindLLM, EventLLMResponse, data, span, s.currentSpanLocked())
	if errMsg == "" {
		current := s.currentSpanLocked()
		s.emitLocked(KindCost, EventCostRecord, map[string]any{
			"model":        model,
			"total_tokens": usage.TotalTokens,
			"usd":          float64(usage.TotalTokens) * s.opts.CostPerTokenUSD,
		}, current, s.parentOfLocked(current))
	}
}

// PolicyCheck emits a flat policy_check event on the current span.
func (s *Service) PolicyCheck(policy, decision, reason, ruleID string, inputs map[string]any) {
	data := map[string]any{
		"policy":   policy,
		"decision": decision,
	}
	if reason != "" {
		data["reason"] = reason
	}
	if ruleID != "" {
		data["rule_id"] = ruleID
	}
	if inputs != nil {
		data["inputs"] = SanitizeInput(inputs, s.opts.MaxInputBytes)
	}
	s.Emit(KindPolicy, EventPolicyCheck, data)
}

// Error emits a flat error event.
func (s *Service) Error(scope string, err error, extra map[string]any) {
	data := map[string]any{"scope": scope}
	if err != nil {
		data["message"] = err.Error()
	}
	for k, v := range extra {
		data[k] = v
	}
	s.Emit(KindSystem, EventError, data)
}

// QualityRecord emits a flat quality_record event.
func (s *Service) QualityRecord(metric string, value float64) {
	s.Emit(KindQuality, EventQualityRecord, map[string]any{
		"metric": metric,
		"value":  value,
	})
}

// Emit writes a flat event on the current span. No-op while idle.
func (s *Service) Emit(kind Kind, name string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return
	}
	span := s.currentSpanLocked()
	if span == "" {
		span = NewSpanID()
	}
	s.emitLocked(kind, name, data, span, s.parentOfLocked(span))
}

func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

func (s *Service) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.id
}

func (s *Service) TracePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.writer.Path()
}

// CurrentSpanID returns the top of the span stack, "" while idle.
func (s *Service) CurrentSpanID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSpanLocked()
}

func (s *Service) pushSpanLocked() string {
	span := NewSpanID()
	s.run.spans = append(s.run.spans, span)
	return span
}

func (s *Service) popSpanLocked() string {
	// The root span stays until run_end; popping past it yields a fresh
	// parentless span instead of corrupting the stack.
	if len(s.run.spans) <= 1 {
		return NewSpanID()
	}
	span := s.run.spans[len(s.run.spans)-1]
	s.run.spans = s.run.spans[:len(s.run.spans)-1]
	return span
}

func (s *Service) currentSpanLocked() string {
	if s.run == nil || len(s.run.spans) == 0 {
		return ""
	}
	return s.run.spans[len(s.run.spans)-1]
}

// parentOfLocked returns the span below the given one on the stack.
func (s *Service) parentOfLocked(span string) string {
	if s.run == nil {
		return ""
	}
	for i := len(s.run.spans) - 1; i >= 0; i-- {
		if s.run.spans[i] == span {
			if i > 0 {
				return s.run.spans[i-1]
			}
			return ""
		}
	}
	// Span already popped: its parent is the current top.
	return s.currentSpanLocked()
}

func (s *Service) emitLocked(kind Kind, name string, data map[string]any, span, parent string) {
	ts := time.Now().UTC()
	if !ts.After(s.run.lastTS) {
		ts = s.run.lastTS.Add(time.Nanosecond)
	}
	s.run.lastTS = ts
	s.run.writer.Append(&Event{
		Schema:       SchemaVersion,
		TS:           ts,
		RunID:        s.run.id,
		SpanID:       span,
		ParentSpanID: parent,
		Kind:         kind,
		Name:         name,
		Pod:          s.run.pod,
		Engine:       s.opts.Engine,
		UserID:       s.run.userID,
		SessionID:    s.run.sessionID,
		Data:         data,
	})
}
