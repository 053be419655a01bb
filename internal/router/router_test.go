package router

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func demoPolicy() *Policy {
	return &Policy{
		Models: []Model{
			{ID: "stub_chat", Provider: "static", Capabilities: []string{"chat"}, Local: true, EstCostUSD: 0},
			{ID: "ollama_phi3", Provider: "ollama", Capabilities: []string{"chat"}, Local: true, EstCostUSD: 0},
			{ID: "openai_mini", Provider: "openai", Capabilities: []string{"chat", "code"}, Local: false, EstCostUSD: 0.00015},
		},
		Rules: []Rule{
			{
				Name:   "local_first",
				When:   When{Capability: "chat", Privacy: "local"},
				Prefer: []string{"ollama_phi3", "stub_chat"},
			},
		},
	}
}

func TestSelect_RuleMatchExplained(t *testing.T) {
	d, err := demoPolicy().Select(Request{Capability: "chat", Privacy: "local"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Model.ID != "ollama_phi3" {
		t.Fatalf("model = %s, want ollama_phi3", d.Model.ID)
	}
	if d.Rule != "local_first" {
		t.Fatalf("rule = %s, want local_first", d.Rule)
	}
	if d.Candidates != 2 {
		t.Fatalf("candidates = %d, want 2 (cloud model filtered)", d.Candidates)
	}
}

func TestSelect_FallbackIsCheapestThenAlphabetical(t *testing.T) {
	d, err := demoPolicy().Select(Request{Capability: "chat", Privacy: "cloud_ok"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Rule != FallbackRule {
		t.Fatalf("rule = %s, want %s", d.Rule, FallbackRule)
	}
	// Both local models cost 0; the id tie-break is ascending.
	if d.Model.ID != "ollama_phi3" {
		t.Fatalf("model = %s, want ollama_phi3", d.Model.ID)
	}
	if d.Candidates != 3 {
		t.Fatalf("candidates = %d, want 3", d.Candidates)
	}
}

func TestSelect_CostAndProviderFilters(t *testing.T) {
	p := demoPolicy()
	d, err := p.Select(Request{Capability: "code"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Model.ID != "openai_mini" {
		t.Fatalf("model = %s, want openai_mini", d.Model.ID)
	}
	if _, err := p.Select(Request{Capability: "code", MaxCostUSD: 0.0001}); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("cost cap should empty the pool, got %v", err)
	}
	if _, err := p.Select(Request{Capability: "chat", Providers: []string{"mistral"}}); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("provider filter should empty the pool, got %v", err)
	}
	d, err = p.Select(Request{Capability: "chat", Models: []string{"stub_chat"}})
	if err != nil || d.Model.ID != "stub_chat" {
		t.Fatalf("model allowlist not honoured: %+v, %v", d, err)
	}
}

func TestSelect_NoCandidateIsAnError(t *testing.T) {
	if _, err := demoPolicy().Select(Request{Capability: "embedding"}); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("unknown capability should be ErrNoCandidate, got %v", err)
	}
	if _, err := demoPolicy().Select(Request{}); err == nil {
		t.Fatalf("missing capability accepted")
	}
}

func TestSelect_RuleWithoutSurvivingPreferenceFallsThrough(t *testing.T) {
	p := demoPolicy()
	p.Rules = []Rule{
		{Name: "retired", When: When{Capability: "chat"}, Prefer: []string{"gone_model"}},
		{Name: "second", When: When{Capability: "chat"}, Prefer: []string{"stub_chat"}},
	}
	d, err := p.Select(Request{Capability: "chat"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Rule != "second" || d.Model.ID != "stub_chat" {
		t.Fatalf("rule fall-through broken: %+v", d)
	}
}

func TestLoadPolicy_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	doc := `
models:
  - id: stub_chat
    provider: static
    capabilities: [chat]
    local: true
    est_cost_usd: 0
rules:
  - name: only_rule
    when: {capability: chat}
    prefer: [stub_chat]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	d, err := p.Select(Request{Capability: "chat"})
	if err != nil || d.Rule != "only_rule" {
		t.Fatalf("loaded policy not usable: %+v, %v", d, err)
	}
}
