package trace

import (
	"encoding/json"
	"sort"
	"strings"
)

// Redacted replaces any value stored under a secret-looking key.
const Redacted = "[REDACTED]"

// DefaultMaxInputBytes caps the serialised size of recorded inputs. Larger
// payloads are collapsed to a preview plus hash plus key list.
const DefaultMaxInputBytes = 64 * 1024

const truncatedPreviewBytes = 256

var secretKeyMarkers = []string{
	"api_key", "apikey", "api-key", "token", "password", "passwd",
	"authorization", "cookie", "secret", "credential", "private_key",
	"privatekey", "access_key", "accesskey",
}

// IsSecretKey reports whether a map key looks like it holds a credential.
// Matching is case-insensitive substring over a fixed marker set.
func IsSecretKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, m := range secretKeyMarkers {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}

// SanitizeInput recursively replaces secret-keyed values with Redacted and
// collapses payloads whose serialised form exceeds maxBytes (0 means
// DefaultMaxInputBytes). The input is not mutated.
func SanitizeInput(v any, maxBytes int) any {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxInputBytes
	}
	out := sanitizeValue(normalizeValue(v))
	b, err := json.Marshal(out)
	if err != nil || len(b) <= maxBytes {
		return out
	}
	preview := string(b)
	if len(preview) > truncatedPreviewBytes {
		preview = preview[:truncatedPreviewBytes]
	}
	collapsed := map[string]any{
		"truncated":  true,
		"bytes_len":  len(b),
		"preview":    preview,
		"value_hash": ContentHash(out),
	}
	if m, ok := out.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		collapsed["keys"] = keys
	}
	return collapsed
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSecretKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = sanitizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// StateKeys returns the sorted key names of a state mapping with
// secret-looking names dropped. Key lists ride along in node events as a
// sideband and must not leak credential names either.
func StateKeys(state map[string]any) []string {
	if len(state) == 0 {
		return nil
	}
	keys := make([]string, 0, len(state))
	for k := range state {
		if IsSecretKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RedactMessages rewrites chat messages for recording: each content field is
// replaced by Redacted while a content hash and length are kept so replay
// matching still works. The input slice is not mutated.
func RedactMessages(messages []map[string]any) []map[string]any {
	out := make([]map[string]any, len(messages))
	for i, m := range messages {
		cp := make(map[string]any, len(m)+2)
		for k, v := range m {
			cp[k] = v
		}
		if content, ok := cp["content"].(string); ok {
			cp["content"] = Redacted
			cp["content_hash"] = ContentHash(content)
			cp["content_len"] = len(content)
		}
		out[i] = cp
	}
	return out
}
