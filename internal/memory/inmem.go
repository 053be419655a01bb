package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InMem is the reference Store: bank-partitioned slices with token-overlap
// scoring. Good enough for tests and single-process agents; real deployments
// plug a vector backend behind the same port.
type InMem struct {
	mu    sync.RWMutex
	banks map[string][]*Item
}

func NewInMem() *InMem {
	return &InMem{banks: map[string][]*Item{}}
}

func (s *InMem) Retain(ctx context.Context, bank, content string, opts RetainOptions) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	item := &Item{
		ID:        "mem_" + strings.ToLower(ulid.Make().String()),
		Bank:      bank,
		Content:   content,
		Context:   opts.Context,
		Metadata:  opts.Metadata,
		CreatedAt: ts,
	}
	s.mu.Lock()
	s.banks[bank] = append(s.banks[bank], item)
	s.mu.Unlock()
	return item, nil
}

func (s *InMem) Recall(ctx context.Context, bank, query string, k int, filters Filters) ([]*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	s.mu.RLock()
	items := append([]*Item(nil), s.banks[bank]...)
	s.mu.RUnlock()

	queryTokens := tokenize(query)
	var scored []*Item
	for _, item := range items {
		if !matchesFilters(item, filters) {
			continue
		}
		score := overlapScore(queryTokens, tokenize(item.Content+" "+item.Context))
		if score <= 0 && query != "" {
			continue
		}
		copied := *item
		copied.Score = score
		scored = append(scored, &copied)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Reflect aliases Recall; this backend has no deliberative mode.
func (s *InMem) Reflect(ctx context.Context, bank, query string, k int, filters Filters) ([]*Item, error) {
	return s.Recall(ctx, bank, query, k, filters)
}

// Get looks an item up by id, across banks.
func (s *InMem) Get(id string) (*Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, items := range s.banks {
		for _, item := range items {
			if item.ID == id {
				return item, true
			}
		}
	}
	return nil, false
}

func matchesFilters(item *Item, filters Filters) bool {
	for key, want := range filters {
		if key == "context" {
			if item.Context != want {
				return false
			}
			continue
		}
		if got, ok := item.Metadata[key]; !ok || got != want {
			return false
		}
	}
	return true
}

func tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if len(tok) > 1 {
			out[tok] = true
		}
	}
	return out
}

// overlapScore is the fraction of query tokens present in the document.
func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 1
	}
	hits := 0
	for tok := range query {
		if doc[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
