package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Decision is the structured verdict of an ingest check. A refusal is a
// value, never an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// IngestPolicy guards Retain against naive "remember everything" usage:
// size bounds, transcript markers, context allowlisting and content dedupe.
type IngestPolicy struct {
	MinLength int
	MaxLength int

	// SkipPatterns reject content wholesale when present (case-insensitive).
	SkipPatterns []string

	// AllowedContexts, when non-empty, restricts which contexts may retain.
	AllowedContexts []string

	mu   sync.Mutex
	seen map[string]bool
}

// DefaultIngestPolicy mirrors the guard agents ship with.
func DefaultIngestPolicy() *IngestPolicy {
	return &IngestPolicy{
		MinLength: 10,
		MaxLength: 2000,
		SkipPatterns: []string{
			"raw transcript",
			"full conversation",
			"[system]",
		},
	}
}

// Check vets one candidate. Duplicates are tracked by content SHA-256 across
// the life of the policy value.
func (p *IngestPolicy) Check(content, contextName string) Decision {
	trimmed := strings.TrimSpace(content)
	if p.MinLength > 0 && len(trimmed) < p.MinLength {
		return Decision{Reason: fmt.Sprintf("content shorter than %d chars", p.MinLength)}
	}
	if p.MaxLength > 0 && len(trimmed) > p.MaxLength {
		return Decision{Reason: fmt.Sprintf("content longer than %d chars", p.MaxLength)}
	}
	lower := strings.ToLower(trimmed)
	for _, pattern := range p.SkipPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return Decision{Reason: "content matches skip pattern: " + pattern}
		}
	}
	if len(p.AllowedContexts) > 0 {
		allowed := false
		for _, c := range p.AllowedContexts {
			if c == contextName {
				allowed = true
				break
			}
		}
		if !allowed {
			return Decision{Reason: "context not in allowlist: " + contextName}
		}
	}

	sum := sha256.Sum256([]byte(trimmed))
	key := hex.EncodeToString(sum[:])
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = map[string]bool{}
	}
	if p.seen[key] {
		return Decision{Reason: "duplicate content"}
	}
	p.seen[key] = true
	return Decision{Allowed: true}
}

// secretPatterns cover the common credential shapes. Order matters: the
// longer vendor prefixes run before the generic key/value shape.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|passwd)\s*[:=]\s*\S+`),
}

// RedactSecrets replaces credential-shaped substrings with a placeholder.
// This runs independently of Check: even allowed content is scrubbed.
func RedactSecrets(content string) string {
	out := content
	for _, re := range secretPatterns {
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}
