// Package graph defines the workflow DAG model and its interpreter. A node is
// a named function from state to a state update; edges carry optional
// conditions in the restricted expression language.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/huap-ai/huap/internal/graph/cond"
)

// NodeFunc is a node implementation: it receives a mutable copy of the run
// state and returns a mapping that is merged back into it. Node functions may
// block; the executor awaits each to completion before evaluating successors.
type NodeFunc func(ctx context.Context, state map[string]any) (map[string]any, error)

type Node struct {
	Name        string
	Run         string
	Description string
}

// Edge connects From to To. An empty To is a terminal edge. Condition is
// evaluated against the state after From completes; empty means
// unconditional.
type Edge struct {
	From      string
	To        string
	Condition string
}

type Graph struct {
	Name  string
	Start string
	Nodes []*Node
	Edges []*Edge
}

func (g *Graph) Node(name string) *Node {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func (g *Graph) Outgoing(name string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.From == name {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks structural consistency: unique node names, edges that
// reference defined nodes, conditions that parse.
func (g *Graph) Validate() error {
	seen := map[string]bool{}
	for _, n := range g.Nodes {
		name := strings.TrimSpace(n.Name)
		if name == "" {
			return fmt.Errorf("node with empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate node %q", name)
		}
		seen[name] = true
	}
	if g.Start != "" && !seen[g.Start] {
		return fmt.Errorf("start node %q is not defined", g.Start)
	}
	for _, e := range g.Edges {
		if !seen[e.From] {
			return fmt.Errorf("edge from undefined node %q", e.From)
		}
		if e.To != "" && !seen[e.To] {
			return fmt.Errorf("edge to undefined node %q", e.To)
		}
		if err := cond.Check(e.Condition); err != nil {
			return fmt.Errorf("edge %s -> %s: bad condition: %w", e.From, e.To, err)
		}
	}
	return nil
}

// StartNode resolves the node execution begins at: the explicit override,
// else the graph's declared start, else "<pod>_start" when such a node
// exists, else the first defined node. Empty when the graph has no nodes.
func (g *Graph) StartNode(explicit, pod string) string {
	if explicit != "" {
		return explicit
	}
	if g.Start != "" {
		return g.Start
	}
	if pod != "" {
		if g.Node(pod+"_start") != nil {
			return pod + "_start"
		}
	}
	if len(g.Nodes) > 0 {
		return g.Nodes[0].Name
	}
	return ""
}
