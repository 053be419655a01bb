package trace

import (
	"strings"
	"testing"
)

func TestSanitizeInput_RedactsSecretKeys(t *testing.T) {
	in := map[string]any{
		"message":       "hello",
		"api_key":       "sk-verysecret",
		"Authorization": "Bearer abc",
		"nested": map[string]any{
			"db_password": "hunter2",
			"ok":          "keep",
		},
	}
	out, ok := SanitizeInput(in, 0).(map[string]any)
	if !ok {
		t.Fatalf("sanitized value is not a map: %T", SanitizeInput(in, 0))
	}
	if out["api_key"] != Redacted || out["Authorization"] != Redacted {
		t.Fatalf("secret keys not redacted: %v", out)
	}
	nested := out["nested"].(map[string]any)
	if nested["db_password"] != Redacted {
		t.Fatalf("nested secret not redacted: %v", nested)
	}
	if nested["ok"] != "keep" || out["message"] != "hello" {
		t.Fatalf("non-secret values damaged: %v", out)
	}
	if in["api_key"] != "sk-verysecret" {
		t.Fatalf("input was mutated")
	}
}

func TestSanitizeInput_TruncatesOversizedPayloads(t *testing.T) {
	big := map[string]any{
		"blob":  strings.Repeat("x", 4096),
		"other": "small",
	}
	out, ok := SanitizeInput(big, 1024).(map[string]any)
	if !ok {
		t.Fatalf("expected collapsed map")
	}
	if out["truncated"] != true {
		t.Fatalf("expected truncated marker: %v", out)
	}
	if out["value_hash"] == "" || out["preview"] == "" {
		t.Fatalf("collapsed payload missing hash or preview: %v", out)
	}
	keys, ok := out["keys"].([]string)
	if !ok || len(keys) != 2 {
		t.Fatalf("collapsed payload missing key list: %v", out["keys"])
	}
}

func TestRedactMessages_KeepsHashAndLength(t *testing.T) {
	msgs := []map[string]any{
		{"role": "user", "content": "ping"},
		{"role": "assistant", "content": "pong"},
	}
	red := RedactMessages(msgs)
	if red[0]["content"] != Redacted {
		t.Fatalf("content not redacted: %v", red[0])
	}
	if red[0]["content_hash"] != ContentHash("ping") {
		t.Fatalf("content hash missing or wrong")
	}
	if red[0]["content_len"] != 4 {
		t.Fatalf("content length = %v, want 4", red[0]["content_len"])
	}
	if msgs[0]["content"] != "ping" {
		t.Fatalf("original messages mutated")
	}
}

func TestStateKeys_DropsSecretNamesAndSorts(t *testing.T) {
	keys := StateKeys(map[string]any{"zeta": 1, "alpha": 2, "api_key": "x"})
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "zeta" {
		t.Fatalf("state keys = %v", keys)
	}
}
