package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/huap-ai/huap/internal/eval"
)

func cmdEval(args []string) {
	var tracePath string
	var dir string
	var budgetSpec string
	var scenario string
	var pattern string
	var markdown bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--trace":
			tracePath = flagValue(args, &i, "--trace")
		case "--dir":
			dir = flagValue(args, &i, "--dir")
		case "--budget":
			budgetSpec = flagValue(args, &i, "--budget")
		case "--scenario":
			scenario = flagValue(args, &i, "--scenario")
		case "--pattern":
			pattern = flagValue(args, &i, "--pattern")
		case "--markdown":
			markdown = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(exitUsage)
		}
	}
	if (tracePath == "") == (dir == "") {
		usage()
		os.Exit(exitUsage)
	}

	budget, err := resolveBudget(budgetSpec)
	if err != nil {
		fatal(err)
	}

	if dir != "" {
		report, err := eval.EvaluateSuite(eval.SuiteOptions{
			Dir:     dir,
			Pattern: pattern,
			Budget:  budget,
		})
		if err != nil {
			fatal(err)
		}
		if markdown {
			fmt.Print(report.Markdown())
		} else {
			printJSON(report)
		}
		if !report.Passed {
			os.Exit(exitEvalFail)
		}
		return
	}

	ev, err := eval.EvaluateFile(tracePath, budget, scenario)
	if err != nil {
		fatal(err)
	}
	printJSON(ev)
	if !ev.Passed {
		os.Exit(exitEvalFail)
	}
}

// resolveBudget tries ref as a file path first, then as a named budget under
// HUAP_BUDGETS_DIR. Empty means the built-in default.
func resolveBudget(ref string) (*eval.Budget, error) {
	if ref == "" {
		return eval.DefaultBudget(), nil
	}
	if _, err := os.Stat(ref); err == nil {
		return eval.LoadBudget(ref)
	}
	return eval.FindBudget(ref)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}
