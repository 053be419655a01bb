package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/huap-ai/huap/internal/gate"
	"github.com/huap-ai/huap/internal/graph"
	"github.com/huap-ai/huap/internal/llm"
	"github.com/huap-ai/huap/internal/memory"
	"github.com/huap-ai/huap/internal/tool"
	"github.com/huap-ai/huap/internal/trace"
)

func cmdRun(args []string) {
	var graphPath string
	var inputSpec string
	var configPath string
	var traceDir string
	var pod string
	var gateRoot string
	var redactLLM bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--graph":
			graphPath = flagValue(args, &i, "--graph")
		case "--input":
			inputSpec = flagValue(args, &i, "--input")
		case "--config":
			configPath = flagValue(args, &i, "--config")
		case "--trace-dir":
			traceDir = flagValue(args, &i, "--trace-dir")
		case "--pod":
			pod = flagValue(args, &i, "--pod")
		case "--gate-root":
			gateRoot = flagValue(args, &i, "--gate-root")
		case "--redact-llm":
			redactLLM = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(exitUsage)
		}
	}
	if graphPath == "" {
		usage()
		os.Exit(exitUsage)
	}

	g, err := graph.Load(graphPath)
	if err != nil {
		fatal(err)
	}
	input, err := parseInput(inputSpec)
	if err != nil {
		fatal(err)
	}
	config, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}

	svc := trace.NewService(trace.Options{
		OutputDir: traceDir,
		Pod:       pod,
		Engine:    "huap",
		RedactLLM: redactLLM,
		OnWriteError: func(err error) {
			fmt.Fprintf(os.Stderr, "trace write: %v\n", err)
		},
	})
	inbox := gate.New(gateRoot)
	client := &llm.Traced{Inner: &llm.Static{}, Tracer: svc}
	tools := &tool.Traced{Inner: builtinTools(), Tracer: svc}
	backend, err := memoryFromPlugins()
	if err != nil {
		fatal(err)
	}
	store := &memory.Traced{Inner: backend, Tracer: svc, Policy: memory.DefaultIngestPolicy()}

	ex := &graph.Executor{
		Graph:    g,
		Handlers: newHandlers(client, tools, store, inbox, svc),
		Tracer:   svc,
		Pod:      pod,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := ex.Run(ctx, graph.RunOptions{
		Input:     input,
		GraphPath: graphPath,
		Config:    config,
	})
	if res != nil {
		fmt.Printf("run %s: %s\n", res.RunID, res.Status)
		fmt.Printf("trace: %s\n", res.TracePath)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(exitUsage)
	}
}

// parseInput accepts inline JSON or @file.
func parseInput(spec string) (map[string]any, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	raw := []byte(spec)
	if strings.HasPrefix(spec, "@") {
		b, err := os.ReadFile(spec[1:])
		if err != nil {
			return nil, err
		}
		raw = b
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("input is not a JSON object: %w", err)
	}
	return input, nil
}

func loadConfig(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config map[string]any
	if err := yaml.Unmarshal(b, &config); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}
