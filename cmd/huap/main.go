package main

import (
	"fmt"
	"os"
)

// Exit codes are part of the CI contract.
const (
	exitOK             = 0
	exitUsage          = 1
	exitReplayMismatch = 2
	exitDiffFail       = 3
	exitEvalFail       = 4
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "replay":
		cmdReplay(os.Args[2:])
	case "diff":
		cmdDiff(os.Args[2:])
	case "eval":
		cmdEval(os.Args[2:])
	case "gate":
		cmdGate(os.Args[2:])
	case "route":
		cmdRoute(os.Args[2:])
	default:
		usage()
		os.Exit(exitUsage)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  huap run --graph <file.yaml> [--input <json|@file>] [--config <file.yaml>] [--trace-dir <dir>] [--pod <name>] [--gate-root <dir>] [--redact-llm]")
	fmt.Fprintln(os.Stderr, "  huap replay --trace <file.jsonl> [--mode emit|exec] [--graph <file.yaml>] [--allow-sequence-fallback] [--out <file.jsonl>] [--trace-dir <dir>] [--gate-root <dir>]")
	fmt.Fprintln(os.Stderr, "  huap diff --baseline <file.jsonl> --candidate <file.jsonl> [--policy <file.yaml>] [--markdown]")
	fmt.Fprintln(os.Stderr, "  huap eval (--trace <file.jsonl> | --dir <dir>) [--budget <file|name>] [--scenario <name>] [--pattern <glob>] [--markdown]")
	fmt.Fprintln(os.Stderr, "  huap gate list --run <run_id> [--root <dir>]")
	fmt.Fprintln(os.Stderr, "  huap gate decide --run <run_id> --gate <gate_id> --decision approve|reject|edit [--note <text>] [--patch <json>] [--root <dir>]")
	fmt.Fprintln(os.Stderr, "  huap route --policy <file.yaml> --capability <name> [--privacy local|cloud_ok] [--max-cost <usd>] [--providers <a,b>] [--models <a,b>]")
}

// flagValue pulls the value of args[i] for a flag that requires one,
// advancing the index. Missing values are a usage error.
func flagValue(args []string, i *int, flag string) string {
	*i++
	if *i >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", flag)
		os.Exit(exitUsage)
	}
	return args[*i]
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(exitUsage)
}
