package memory

import (
	"context"

	"github.com/huap-ai/huap/internal/trace"
)

// Traced decorates a Store with memory_put/memory_get/memory_search events.
// The policy,
// when set, is consulted before every Retain and its refusals are recorded
// as policy_check events rather than errors.
type Traced struct {
	Inner  Store
	Tracer *trace.Service
	Policy *IngestPolicy
}

// Retain stores content unless the policy refuses it. A refusal returns
// (nil, nil): callers distinguish "not retained" from backend failure by the
// nil item.
func (s *Traced) Retain(ctx context.Context, bank, content string, opts RetainOptions) (*Item, error) {
	if s.Policy != nil {
		if d := s.Policy.Check(content, opts.Context); !d.Allowed {
			s.Tracer.PolicyCheck("memory_ingest", "deny", d.Reason, "", map[string]any{
				"bank":        bank,
				"content_len": len(content),
			})
			return nil, nil
		}
		content = RedactSecrets(content)
	}
	item, err := s.Inner.Retain(ctx, bank, content, opts)
	if err != nil {
		return nil, err
	}
	s.Tracer.Emit(trace.KindMemory, trace.EventMemoryPut, map[string]any{
		"bank":         bank,
		"item_id":      item.ID,
		"content_len":  len(item.Content),
		"content_hash": trace.ContentHash(item.Content),
	})
	return item, nil
}

func (s *Traced) Recall(ctx context.Context, bank, query string, k int, filters Filters) ([]*Item, error) {
	items, err := s.Inner.Recall(ctx, bank, query, k, filters)
	data := map[string]any{
		"bank":       bank,
		"query_hash": trace.ContentHash(query),
		"k":          k,
		"results":    len(items),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.Tracer.Emit(trace.KindMemory, trace.EventMemorySearch, data)
	return items, err
}

// Get looks an item up by id when the backend supports direct lookup, and
// records a memory_get event either way.
func (s *Traced) Get(id string) (*Item, bool) {
	getter, ok := s.Inner.(interface{ Get(string) (*Item, bool) })
	if !ok {
		return nil, false
	}
	item, found := getter.Get(id)
	s.Tracer.Emit(trace.KindMemory, trace.EventMemoryGet, map[string]any{
		"item_id": id,
		"found":   found,
	})
	return item, found
}

func (s *Traced) Reflect(ctx context.Context, bank, query string, k int, filters Filters) ([]*Item, error) {
	items, err := s.Inner.Reflect(ctx, bank, query, k, filters)
	data := map[string]any{
		"bank":       bank,
		"query_hash": trace.ContentHash(query),
		"k":          k,
		"results":    len(items),
		"mode":       "reflect",
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.Tracer.Emit(trace.KindMemory, trace.EventMemorySearch, data)
	return items, err
}
