// Package gate implements the file-backed human approval protocol: a run
// writes a request into an inbox directory and suspends; an external actor
// writes a decision file next to it; the run polls and resumes. Files are the
// only source of truth, so any process that can see the directory can decide.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/huap-ai/huap/internal/trace"
)

const (
	StatusPending = "pending"
	StatusDecided = "decided"

	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionEdit    = "edit"
)

// Request is the gate file written under <root>/inbox/<run_id>/<gate_id>.json.
type Request struct {
	GateID    string         `json:"gate_id"`
	RunID     string         `json:"run_id"`
	Title     string         `json:"title"`
	Severity  string         `json:"severity,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Options   []string       `json:"options,omitempty"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Decision is the companion <gate_id>.decision.json file.
type Decision struct {
	GateID    string         `json:"gate_id"`
	Decision  string         `json:"decision"`
	Note      string         `json:"note,omitempty"`
	Patch     map[string]any `json:"patch,omitempty"`
	DecidedBy string         `json:"decided_by,omitempty"`
	DecidedAt time.Time      `json:"decided_at"`
}

// Inbox is a gate root directory. The zero value is unusable; use New.
type Inbox struct {
	root string
}

func New(root string) *Inbox {
	if strings.TrimSpace(root) == "" {
		root = "gates"
	}
	return &Inbox{root: root}
}

func (in *Inbox) Root() string { return in.root }

func (in *Inbox) requestPath(runID, gateID string) string {
	return filepath.Join(in.root, "inbox", runID, gateID+".json")
}

func (in *Inbox) decisionPath(runID, gateID string) string {
	return filepath.Join(in.root, "inbox", runID, gateID+".decision.json")
}

// Create writes a pending request file and returns it.
func (in *Inbox) Create(runID, title, severity, summary string, contextData map[string]any, options []string) (*Request, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("gate needs a run id")
	}
	req := &Request{
		GateID:    trace.NewID("gate"),
		RunID:     runID,
		Title:     title,
		Severity:  severity,
		Summary:   summary,
		Context:   contextData,
		Options:   options,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := writeJSON(in.requestPath(runID, req.GateID), req); err != nil {
		return nil, err
	}
	return req, nil
}

// Get reads a request file.
func (in *Inbox) Get(runID, gateID string) (*Request, error) {
	var req Request
	if err := readJSON(in.requestPath(runID, gateID), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// GetDecision returns the gate's decision, or (nil, nil) while it is still
// pending. Reading a decision also reconciles the request file's status to
// decided, covering actors that only wrote the decision file.
func (in *Inbox) GetDecision(runID, gateID string) (*Decision, error) {
	var d Decision
	err := readJSON(in.decisionPath(runID, gateID), &d)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if req, rerr := in.Get(runID, gateID); rerr == nil && req.Status != StatusDecided {
		req.Status = StatusDecided
		_ = writeJSON(in.requestPath(runID, gateID), req)
	}
	return &d, nil
}

// Decide writes the decision file and flips the request to decided. A second
// call overwrites the first; callers wanting at-most-one semantics read
// GetDecision immediately after writing.
func (in *Inbox) Decide(runID, gateID, decision, note string, patch map[string]any) (*Decision, error) {
	switch decision {
	case DecisionApprove, DecisionReject, DecisionEdit:
	default:
		return nil, fmt.Errorf("unknown gate decision %q", decision)
	}
	d := &Decision{
		GateID:    gateID,
		Decision:  decision,
		Note:      note,
		Patch:     patch,
		DecidedAt: time.Now().UTC(),
	}
	if err := writeJSON(in.decisionPath(runID, gateID), d); err != nil {
		return nil, err
	}
	if req, err := in.Get(runID, gateID); err == nil {
		req.Status = StatusDecided
		if err := writeJSON(in.requestPath(runID, gateID), req); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// WaitForDecision polls for the decision file. Expiry returns (nil, nil);
// converting that to a reject is the caller's policy. Context cancellation
// returns the context error.
func (in *Inbox) WaitForDecision(ctx context.Context, runID, gateID string, poll, timeout time.Duration) (*Decision, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		d, err := in.GetDecision(runID, gateID)
		if err != nil || d != nil {
			return d, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-ticker.C:
		}
	}
}

// ListPending scans a run's inbox for requests without a decision.
func (in *Inbox) ListPending(runID string) ([]*Request, error) {
	dir := filepath.Join(in.root, "inbox", runID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*Request
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".decision.json") {
			continue
		}
		gateID := strings.TrimSuffix(name, ".json")
		if _, err := os.Stat(in.decisionPath(runID, gateID)); err == nil {
			continue
		}
		req, err := in.Get(runID, gateID)
		if err != nil {
			continue
		}
		if req.Status == StatusPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ApplyPatch merges an edit decision's patch into state, returning the keys
// it changed. Approve/reject decisions patch nothing.
func ApplyPatch(state map[string]any, d *Decision) []string {
	if d == nil || d.Decision != DecisionEdit || len(d.Patch) == 0 {
		return nil
	}
	keys := make([]string, 0, len(d.Patch))
	for k, v := range d.Patch {
		state[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
