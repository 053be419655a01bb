package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Handlers maps implementation names (the "run" field of a node) to node
// functions. Registration happens at wiring time; lookups during a run.
type Handlers struct {
	mu sync.RWMutex
	m  map[string]NodeFunc
}

func NewHandlers() *Handlers {
	return &Handlers{m: map[string]NodeFunc{}}
}

func (h *Handlers) Register(name string, fn NodeFunc) {
	if h == nil || name == "" || fn == nil {
		return
	}
	h.mu.Lock()
	h.m[name] = fn
	h.mu.Unlock()
}

// Resolve returns the node's implementation, looked up by its run field,
// falling back to the node name.
func (h *Handlers) Resolve(n *Node) (NodeFunc, error) {
	if h == nil {
		return nil, fmt.Errorf("no handlers registered")
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	key := n.Run
	if key == "" {
		key = n.Name
	}
	if fn, ok := h.m[key]; ok {
		return fn, nil
	}
	if fn, ok := h.m[n.Name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("no handler for node %q (run=%q)", n.Name, n.Run)
}

func (h *Handlers) Names() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.m))
	for k := range h.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
