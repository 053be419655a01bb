package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/huap-ai/huap/internal/router"
)

func cmdRoute(args []string) {
	var policyPath string
	var capability string
	var privacy string
	var maxCost float64
	var providers string
	var models string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--policy":
			policyPath = flagValue(args, &i, "--policy")
		case "--capability":
			capability = flagValue(args, &i, "--capability")
		case "--privacy":
			privacy = flagValue(args, &i, "--privacy")
		case "--max-cost":
			v, err := strconv.ParseFloat(flagValue(args, &i, "--max-cost"), 64)
			if err != nil {
				fatal(fmt.Errorf("--max-cost: %w", err))
			}
			maxCost = v
		case "--providers":
			providers = flagValue(args, &i, "--providers")
		case "--models":
			models = flagValue(args, &i, "--models")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(exitUsage)
		}
	}
	if policyPath == "" || capability == "" {
		usage()
		os.Exit(exitUsage)
	}

	policy, err := router.LoadPolicy(policyPath)
	if err != nil {
		fatal(err)
	}
	decision, err := policy.Select(router.Request{
		Capability: capability,
		Privacy:    privacy,
		MaxCostUSD: maxCost,
		Providers:  splitList(providers),
		Models:     splitList(models),
	})
	if err != nil {
		fatal(err)
	}
	printJSON(decision)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
