package trace

import (
	"crypto/rand"
	"encoding/hex"
)

// Wire formats: run ids are "run_" + 12 hex chars, span ids "sp_" + 12 hex.
// 6 random bytes is enough for process-unique identifiers; traces are
// file-system-local and never coordinated across machines.

func NewRunID() string { return "run_" + randHex12() }

func NewSpanID() string { return "sp_" + randHex12() }

// NewID builds an id with an arbitrary prefix in the same wire format, for
// sibling artifact kinds (gates and the like).
func NewID(prefix string) string { return prefix + "_" + randHex12() }

func randHex12() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform is broken; ids must still be
		// produced so tracing cannot take the run down.
		for i := range b {
			b[i] = byte(i * 37)
		}
	}
	return hex.EncodeToString(b[:])
}
