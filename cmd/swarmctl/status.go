package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/basket/swarmctl/internal/lifecycle"
	"github.com/basket/swarmctl/internal/swarm"
)

func runStatusCommand(_ context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() != 0 {
		return usage("usage: swarmctl status [--json] [--store <path>]")
	}

	records, err := loadRecords(sf.store)
	if err != nil {
		return fail("status", err)
	}
	summary := lifecycle.Summarize(records)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fail("status", err)
		}
		return exitOK
	}

	fmt.Println(header("swarm queue"))
	fmt.Printf("  total %d   open %d   terminal %d   pending approvals %d\n",
		summary.Total, summary.Open, summary.Terminal, summary.PendingApprovals)

	if len(summary.ByStatus) > 0 {
		fmt.Println(header("by status"))
		statuses := make([]string, 0, len(summary.ByStatus))
		for status := range summary.ByStatus {
			statuses = append(statuses, string(status))
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Printf("  %-20s %d\n", statusLabel(swarm.TaskStatus(status)), summary.ByStatus[swarm.TaskStatus(status)])
		}
	}

	if len(summary.ByTarget) > 0 {
		fmt.Println(header("by target"))
		targets := make([]string, 0, len(summary.ByTarget))
		for target := range summary.ByTarget {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			name := target
			if name == "" {
				name = dim("(unassigned)")
			}
			fmt.Printf("  %-20s %d\n", name, summary.ByTarget[target])
		}
	}
	return exitOK
}
