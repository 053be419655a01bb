package trace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultEphemeralKeys are stripped from a value before hashing. These fields
// change between otherwise identical runs (clocks, random ids, measured
// durations) and must not affect stub matching or state comparison.
var DefaultEphemeralKeys = []string{
	"ts", "timestamp", "created_at", "decided_at", "updated_at",
	"duration_ms", "latency_ms", "elapsed_ms",
	"run_id", "span_id", "parent_span_id", "call_id", "request_id", "trace_id",
}

// ContentHash returns the 16-hex-char fingerprint of any JSON-serialisable
// value: the value is canonicalised (sorted keys, stable number formatting,
// ephemeral fields removed) and the first 8 bytes of its SHA-256 are hex
// encoded.
func ContentHash(v any) string {
	return ContentHashWith(v, DefaultEphemeralKeys)
}

// ContentHashWith hashes with a caller-supplied ephemeral key set.
func ContentHashWith(v any, ephemeral []string) string {
	b := CanonicalJSON(v, ephemeral)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// CanonicalJSON renders a value to a deterministic byte form. The value is
// first normalised through a JSON round-trip so struct tags, ints and floats
// all collapse to the same representation they would have on the wire.
func CanonicalJSON(v any, ephemeral []string) []byte {
	norm := normalizeValue(v)
	drop := map[string]bool{}
	for _, k := range ephemeral {
		drop[strings.ToLower(k)] = true
	}
	var buf bytes.Buffer
	writeCanonical(&buf, norm, drop)
	return buf.Bytes()
}

func normalizeValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		// Non-serialisable values hash by their stringification.
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}

func writeCanonical(buf *bytes.Buffer, v any, drop map[string]bool) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case float64:
		buf.WriteString(formatNumber(t))
	case string:
		b, _ := json.Marshal(t)
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, item, drop)
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			if drop[strings.ToLower(k)] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			writeCanonical(buf, t[k], drop)
		}
		buf.WriteByte('}')
	default:
		b, _ := json.Marshal(t)
		buf.Write(b)
	}
}

// formatNumber collapses integral floats to their integer form so that 2 and
// 2.0 hash identically regardless of how they entered the JSON layer.
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
