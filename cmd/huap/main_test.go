package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/huap-ai/huap/internal/eval"
)

func TestParseInput_InlineAndFile(t *testing.T) {
	got, err := parseInput(`{"message": "hi", "n": 3}`)
	if err != nil {
		t.Fatalf("inline: %v", err)
	}
	if got["message"] != "hi" {
		t.Fatalf("message = %v", got["message"])
	}

	path := filepath.Join(t.TempDir(), "input.json")
	if err := os.WriteFile(path, []byte(`{"message": "from file"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = parseInput("@" + path)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if got["message"] != "from file" {
		t.Fatalf("message = %v", got["message"])
	}

	if got, err := parseInput(""); err != nil || got != nil {
		t.Fatalf("empty spec should be nil input: %v, %v", got, err)
	}
	if _, err := parseInput(`["not", "an", "object"]`); err == nil {
		t.Fatalf("array input accepted")
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(""); got != nil {
		t.Fatalf("empty list = %v", got)
	}
	got := splitList("ollama, openai ,,anthropic")
	want := []string{"ollama", "openai", "anthropic"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitList = %v, want %v", got, want)
	}
}

func TestResolveBudget_FileThenNamedThenDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ci.yaml")
	doc := "cost:\n  tokens_max: 5000\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	b, err := resolveBudget(path)
	if err != nil {
		t.Fatalf("file budget: %v", err)
	}
	if b.Cost.TokensMax != 5000 {
		t.Fatalf("TokensMax = %d, want 5000", b.Cost.TokensMax)
	}

	t.Setenv(eval.EnvBudgetsDir, dir)
	b, err = resolveBudget("ci")
	if err != nil {
		t.Fatalf("named budget: %v", err)
	}
	if b.Name != "ci" {
		t.Fatalf("Name = %q, want ci", b.Name)
	}

	b, err = resolveBudget("")
	if err != nil || b == nil {
		t.Fatalf("default budget: %v, %v", b, err)
	}
}

func TestBuiltinTools_WordCount(t *testing.T) {
	r := builtinTools()
	res := r.Run(context.Background(), "word_count", map[string]any{"text": "one two  three\nfour"})
	if res.Err != nil {
		t.Fatalf("word_count: %v", res.Err)
	}
	if res.Output["words"] != 4 {
		t.Fatalf("words = %v, want 4", res.Output["words"])
	}
}
