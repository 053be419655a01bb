package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/huap-ai/huap/internal/gate"
)

func cmdGate(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(exitUsage)
	}
	sub := args[0]
	args = args[1:]

	var runID string
	var gateID string
	var decision string
	var note string
	var patchSpec string
	var root string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--run":
			runID = flagValue(args, &i, "--run")
		case "--gate":
			gateID = flagValue(args, &i, "--gate")
		case "--decision":
			decision = flagValue(args, &i, "--decision")
		case "--note":
			note = flagValue(args, &i, "--note")
		case "--patch":
			patchSpec = flagValue(args, &i, "--patch")
		case "--root":
			root = flagValue(args, &i, "--root")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(exitUsage)
		}
	}

	inbox := gate.New(root)

	switch sub {
	case "list":
		if runID == "" {
			usage()
			os.Exit(exitUsage)
		}
		pending, err := inbox.ListPending(runID)
		if err != nil {
			fatal(err)
		}
		if len(pending) == 0 {
			fmt.Println("no pending gates")
			return
		}
		for _, req := range pending {
			fmt.Printf("%s  [%s]  %s\n", req.GateID, req.Severity, req.Title)
		}
	case "decide":
		if runID == "" || gateID == "" || decision == "" {
			usage()
			os.Exit(exitUsage)
		}
		var patch map[string]any
		if patchSpec != "" {
			if err := json.Unmarshal([]byte(patchSpec), &patch); err != nil {
				fatal(fmt.Errorf("patch is not a JSON object: %w", err))
			}
		}
		d, err := inbox.Decide(runID, gateID, decision, note, patch)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("gate %s: %s\n", d.GateID, d.Decision)
	default:
		usage()
		os.Exit(exitUsage)
	}
}
