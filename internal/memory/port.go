// Package memory defines the storage contract agent workflows remember
// things through, a reference in-memory backend, and the ingest policy that
// keeps transcripts and secrets out of long-term banks.
package memory

import (
	"context"
	"time"
)

// Item is one remembered fact. Score is set by the backend on recall.
type Item struct {
	ID        string         `json:"id"`
	Bank      string         `json:"bank"`
	Content   string         `json:"content"`
	Context   string         `json:"context,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Score     float64        `json:"score,omitempty"`
}

// RetainOptions carry the optional fields of a retain call.
type RetainOptions struct {
	Context   string
	Timestamp time.Time
	Metadata  map[string]any
}

// Filters narrow a recall. Backends may ignore filters they do not support.
type Filters map[string]any

// Store is the port memory backends implement. Reflect is a deliberative
// recall; backends without a distinct implementation alias it to Recall.
type Store interface {
	Retain(ctx context.Context, bank, content string, opts RetainOptions) (*Item, error)
	Recall(ctx context.Context, bank, query string, k int, filters Filters) ([]*Item, error)
	Reflect(ctx context.Context, bank, query string, k int, filters Filters) ([]*Item, error)
}
