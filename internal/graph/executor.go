package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huap-ai/huap/internal/graph/cond"
	"github.com/huap-ai/huap/internal/trace"
)

// NodeError wraps a node function failure. The run is terminated with status
// "error" and the underlying cause is preserved for errors.Is/As.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %s: %v", e.Node, e.Err) }
func (e *NodeError) Unwrap() error { return e.Err }

// Executor interprets a graph: it drives nodes one at a time, threads trace
// spans around each, merges state updates and follows edges whose conditions
// pass. Execution within a run is single-threaded cooperative; multiple
// successors are enqueued, never run in parallel.
type Executor struct {
	Graph    *Graph
	Handlers *Handlers
	Tracer   *trace.Service
	Pod      string
}

type RunOptions struct {
	Start     string
	Input     map[string]any
	GraphPath string
	Config    map[string]any
	UserID    string
	SessionID string
	TracePath string
}

type Result struct {
	RunID     string
	TracePath string
	Status    string // success | error | cancelled
	State     map[string]any
}

// Run executes the graph to completion. The trace file is complete whatever
// happens: node failures and cancellation still end with run_end.
func (e *Executor) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if e.Graph == nil {
		return nil, fmt.Errorf("executor has no graph")
	}
	if err := e.Graph.Validate(); err != nil {
		return nil, err
	}
	runID, err := e.Tracer.StartRun(trace.StartOptions{
		Pod:       e.Pod,
		Graph:     e.Graph.Name,
		GraphPath: opts.GraphPath,
		Input:     opts.Input,
		Config:    opts.Config,
		UserID:    opts.UserID,
		SessionID: opts.SessionID,
		TracePath: opts.TracePath,
	})
	if err != nil {
		return nil, err
	}
	tracePath := e.Tracer.TracePath()

	state := map[string]any{}
	for k, v := range opts.Input {
		state[k] = v
	}

	res := &Result{RunID: runID, TracePath: tracePath}
	start := e.Graph.StartNode(opts.Start, e.Pod)
	if start == "" {
		// Zero nodes: the run is just run_start and run_end.
		res.Status = "success"
		res.State = state
		e.Tracer.EndRun("success", state, nil)
		return res, nil
	}

	frontier := []string{start}
	visited := map[string]bool{}
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		if visited[name] {
			continue // cycle guard: each node runs at most once per run
		}
		visited[name] = true

		node := e.Graph.Node(name)
		if node == nil {
			err := fmt.Errorf("frontier references undefined node %q", name)
			e.Tracer.Error("executor", err, nil)
			e.Tracer.EndRun("error", state, err)
			res.Status = "error"
			res.State = state
			return res, err
		}
		fn, err := e.Handlers.Resolve(node)
		if err != nil {
			e.Tracer.Error("executor", err, map[string]any{"node": name})
			e.Tracer.EndRun("error", state, err)
			res.Status = "error"
			res.State = state
			return res, &NodeError{Node: name, Err: err}
		}

		e.Tracer.NodeEnter(name, state)
		started := time.Now()
		updates, nodeErr := fn(ctx, copyState(state))
		elapsed := time.Since(started).Milliseconds()
		if nodeErr != nil {
			e.Tracer.Error("node", nodeErr, map[string]any{"node": name})
			e.Tracer.NodeExit(name, nil, elapsed)
			status := "error"
			if errors.Is(nodeErr, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				status = "cancelled"
			}
			e.Tracer.EndRun(status, state, nodeErr)
			res.Status = status
			res.State = state
			return res, &NodeError{Node: name, Err: nodeErr}
		}
		for k, v := range updates {
			state[k] = v
		}
		e.Tracer.NodeExit(name, updates, elapsed)

		for _, edge := range e.Graph.Outgoing(name) {
			if edge.To == "" {
				continue
			}
			if cond.Evaluate(edge.Condition, state) {
				frontier = append(frontier, edge.To)
			}
		}
	}

	res.Status = "success"
	res.State = state
	e.Tracer.EndRun("success", state, nil)
	return res, nil
}

func copyState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
