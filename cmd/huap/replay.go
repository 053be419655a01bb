package main

import (
	"context"
	"fmt"
	"os"

	"github.com/huap-ai/huap/internal/gate"
	"github.com/huap-ai/huap/internal/graph"
	"github.com/huap-ai/huap/internal/llm"
	"github.com/huap-ai/huap/internal/memory"
	"github.com/huap-ai/huap/internal/replay"
	"github.com/huap-ai/huap/internal/tool"
	"github.com/huap-ai/huap/internal/trace"
)

func cmdReplay(args []string) {
	var tracePath string
	var mode = string(replay.ModeEmit)
	var graphPath string
	var outPath string
	var traceDir string
	var gateRoot string
	var allowSequence bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--trace":
			tracePath = flagValue(args, &i, "--trace")
		case "--mode":
			mode = flagValue(args, &i, "--mode")
		case "--graph":
			graphPath = flagValue(args, &i, "--graph")
		case "--out":
			outPath = flagValue(args, &i, "--out")
		case "--trace-dir":
			traceDir = flagValue(args, &i, "--trace-dir")
		case "--gate-root":
			gateRoot = flagValue(args, &i, "--gate-root")
		case "--allow-sequence-fallback":
			allowSequence = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(exitUsage)
		}
	}
	if tracePath == "" {
		usage()
		os.Exit(exitUsage)
	}

	opts := replay.Options{
		TracePath:             tracePath,
		Mode:                  replay.Mode(mode),
		OutputPath:            outPath,
		AllowSequenceFallback: allowSequence,
	}

	switch opts.Mode {
	case replay.ModeEmit:
	case replay.ModeExec:
		if graphPath == "" {
			fmt.Fprintln(os.Stderr, "exec mode requires --graph")
			os.Exit(exitUsage)
		}
		g, err := graph.Load(graphPath)
		if err != nil {
			fatal(err)
		}
		svc := trace.NewService(trace.Options{
			OutputDir: traceDir,
			Engine:    "huap",
			OnWriteError: func(err error) {
				fmt.Fprintf(os.Stderr, "trace write: %v\n", err)
			},
		})
		inbox := gate.New(gateRoot)
		opts.Graph = g
		opts.Tracer = svc
		opts.NewHandlers = func(client llm.Client, tools tool.Runner) *graph.Handlers {
			store := &memory.Traced{Inner: memory.NewInMem(), Tracer: svc, Policy: memory.DefaultIngestPolicy()}
			return newHandlers(client, tools, store, inbox, svc)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", mode)
		os.Exit(exitUsage)
	}

	res, err := replay.Run(context.Background(), opts)
	if err != nil {
		fatal(err)
	}
	fmt.Print(res.Describe())
	if !res.Matched {
		os.Exit(exitReplayMismatch)
	}
}
