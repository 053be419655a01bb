package main

import (
	"fmt"
	"os"

	"github.com/huap-ai/huap/internal/diffing"
	"github.com/huap-ai/huap/internal/trace"
)

func cmdDiff(args []string) {
	var baselinePath string
	var candidatePath string
	var policyPath string
	var markdown bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--baseline":
			baselinePath = flagValue(args, &i, "--baseline")
		case "--candidate":
			candidatePath = flagValue(args, &i, "--candidate")
		case "--policy":
			policyPath = flagValue(args, &i, "--policy")
		case "--markdown":
			markdown = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(exitUsage)
		}
	}
	if baselinePath == "" || candidatePath == "" {
		usage()
		os.Exit(exitUsage)
	}

	baseline, err := trace.ReadFile(baselinePath)
	if err != nil {
		fatal(err)
	}
	candidate, err := trace.ReadFile(candidatePath)
	if err != nil {
		fatal(err)
	}
	policy := diffing.DefaultPolicy()
	if policyPath != "" {
		policy, err = diffing.LoadPolicy(policyPath)
		if err != nil {
			fatal(err)
		}
	}

	d := diffing.Compare(baseline, candidate, policy.Ephemeral)
	a := policy.Assess(d)

	if markdown {
		fmt.Print(diffing.Markdown(d, a))
	} else {
		printJSON(struct {
			Diff       *diffing.Diff      `json:"diff"`
			Assessment diffing.Assessment `json:"assessment"`
		}{d, a})
	}
	if a.Verdict == diffing.VerdictFail {
		os.Exit(exitDiffFail)
	}
}
