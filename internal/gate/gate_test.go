package gate

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func TestInbox_ApproveRoundTrip(t *testing.T) {
	in := New(t.TempDir())
	req, err := in.Create("run_aaaaaaaaaaaa", "send email", "high", "outbound mail to customer", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !regexp.MustCompile(`^gate_[0-9a-f]{12}$`).MatchString(req.GateID) {
		t.Fatalf("gate id format: %s", req.GateID)
	}
	path := filepath.Join(in.Root(), "inbox", "run_aaaaaaaaaaaa", req.GateID+".json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("request file missing: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}

	// No decision yet: null, no error.
	d, err := in.GetDecision(req.RunID, req.GateID)
	if err != nil || d != nil {
		t.Fatalf("pending gate should yield (nil, nil), got %v, %v", d, err)
	}

	if _, err := in.Decide(req.RunID, req.GateID, DecisionApprove, "ok to send", nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	d, err = in.GetDecision(req.RunID, req.GateID)
	if err != nil {
		t.Fatalf("GetDecision: %v", err)
	}
	if d == nil || d.Decision != DecisionApprove || d.Note != "ok to send" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	got, err := in.Get(req.RunID, req.GateID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusDecided {
		t.Fatalf("request status = %s, want decided", got.Status)
	}
}

func TestInbox_ExternalDecisionFileIsHonoured(t *testing.T) {
	in := New(t.TempDir())
	req, err := in.Create("run_bbbbbbbbbbbb", "approve refund", "medium", "", nil, []string{"approve", "reject"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// An external actor writes the decision file directly, without touching
	// the request.
	decision := `{"gate_id":"` + req.GateID + `","decision":"reject","note":"amount too high"}`
	path := filepath.Join(in.Root(), "inbox", req.RunID, req.GateID+".decision.json")
	if err := os.WriteFile(path, []byte(decision), 0o644); err != nil {
		t.Fatalf("write decision: %v", err)
	}
	d, err := in.GetDecision(req.RunID, req.GateID)
	if err != nil {
		t.Fatalf("GetDecision: %v", err)
	}
	if d == nil || d.Decision != DecisionReject {
		t.Fatalf("decision = %+v", d)
	}
	// Reading the decision reconciles the request file.
	got, _ := in.Get(req.RunID, req.GateID)
	if got.Status != StatusDecided {
		t.Fatalf("request not reconciled to decided: %s", got.Status)
	}
}

func TestInbox_SecondDecisionOverwrites(t *testing.T) {
	in := New(t.TempDir())
	req, err := in.Create("run_cccccccccccc", "delete records", "high", "", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := in.Decide(req.RunID, req.GateID, DecisionReject, "", nil); err != nil {
		t.Fatalf("first Decide: %v", err)
	}
	d, _ := in.GetDecision(req.RunID, req.GateID)
	if d.Decision != DecisionReject {
		t.Fatalf("after first write: %s", d.Decision)
	}
	if _, err := in.Decide(req.RunID, req.GateID, DecisionApprove, "", nil); err != nil {
		t.Fatalf("second Decide: %v", err)
	}
	d, _ = in.GetDecision(req.RunID, req.GateID)
	if d.Decision != DecisionApprove {
		t.Fatalf("after second write: %s", d.Decision)
	}
}

func TestInbox_WaitForDecisionTimesOutToNull(t *testing.T) {
	in := New(t.TempDir())
	req, err := in.Create("run_dddddddddddd", "slow gate", "low", "", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	start := time.Now()
	d, err := in.WaitForDecision(context.Background(), req.RunID, req.GateID, 10*time.Millisecond, 50*time.Millisecond)
	if err != nil || d != nil {
		t.Fatalf("timeout should yield (nil, nil), got %v, %v", d, err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("returned before timeout")
	}
}

func TestInbox_WaitForDecisionSeesLateWrite(t *testing.T) {
	in := New(t.TempDir())
	req, err := in.Create("run_eeeeeeeeeeee", "late gate", "low", "", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = in.Decide(req.RunID, req.GateID, DecisionApprove, "", nil)
	}()
	d, err := in.WaitForDecision(context.Background(), req.RunID, req.GateID, 5*time.Millisecond, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForDecision: %v", err)
	}
	if d == nil || d.Decision != DecisionApprove {
		t.Fatalf("late decision missed: %+v", d)
	}
}

func TestInbox_ListPendingSkipsDecided(t *testing.T) {
	in := New(t.TempDir())
	runID := "run_ffffffffffff"
	first, err := in.Create(runID, "first", "low", "", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := in.Create(runID, "second", "low", "", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := in.Decide(runID, first.GateID, DecisionApprove, "", nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	pending, err := in.ListPending(runID)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].GateID != second.GateID {
		t.Fatalf("pending = %+v", pending)
	}
	if none, _ := in.ListPending("run_000000000000"); none != nil {
		t.Fatalf("unknown run should list nothing, got %+v", none)
	}
}

func TestApplyPatch_OnlyEditDecisionsPatch(t *testing.T) {
	state := map[string]any{"to": "a@example.com", "body": "hi"}
	edit := &Decision{Decision: DecisionEdit, Patch: map[string]any{"to": "b@example.com"}}
	keys := ApplyPatch(state, edit)
	if len(keys) != 1 || keys[0] != "to" || state["to"] != "b@example.com" {
		t.Fatalf("patch not applied: keys=%v state=%v", keys, state)
	}
	approve := &Decision{Decision: DecisionApprove, Patch: map[string]any{"to": "c@example.com"}}
	if keys := ApplyPatch(state, approve); keys != nil {
		t.Fatalf("approve must not patch, changed %v", keys)
	}
	if state["to"] != "b@example.com" {
		t.Fatalf("state mutated by approve: %v", state["to"])
	}
}

func TestInbox_DecideRejectsUnknownVerdicts(t *testing.T) {
	in := New(t.TempDir())
	req, err := in.Create("run_abcabcabcabc", "x", "", "", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := in.Decide(req.RunID, req.GateID, "maybe", "", nil); err == nil {
		t.Fatalf("unknown decision accepted")
	}
}
