package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/basket/swarmctl/internal/lifecycle"
)

func runDrainCommand(_ context.Context, args []string) int {
	fs := flag.NewFlagSet("drain", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	secret := secretFlag(fs)
	redirect := fs.String("redirect", "", "reroute open tasks to this agent instead of pausing")
	actor := fs.String("actor", "", "operator identity (required)")
	reason := fs.String("reason", "", "why the target is draining")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() != 1 {
		return usage("usage: swarmctl drain <target> [--redirect <agent>] --actor <name> [--reason <text>]")
	}
	target := fs.Arg(0)
	if *actor == "" {
		return usage("drain requires --actor")
	}
	key := resolveSecret(*secret)
	if key == "" {
		return fail("drain", fmt.Errorf("no secret; set --secret or SWARM_AUDIT_SECRET"))
	}

	records, err := loadRecords(sf.store)
	if err != nil {
		return fail("drain", err)
	}
	updated, moved, err := lifecycle.Drain(records, target, lifecycle.DrainOptions{
		RedirectTarget: *redirect,
		Actor:          *actor,
		Reason:         *reason,
	})
	if err != nil {
		return fail("drain", err)
	}

	if err := saveRecords(sf.store, updated); err != nil {
		return fail("drain", err)
	}
	mode := "pause"
	if *redirect != "" {
		mode = "redirect"
	}
	taskIDs := make([]string, len(moved))
	for i, r := range moved {
		taskIDs[i] = r.TaskID
	}
	if err := appendAudit(sf.audit, key, "operator_drain", *actor, map[string]any{
		"target":     target,
		"mode":       mode,
		"redirectTo": *redirect,
		"taskIds":    taskIDs,
		"reason":     *reason,
	}); err != nil {
		return fail("drain", err)
	}

	if len(moved) == 0 {
		fmt.Printf("nothing to drain on %s\n", target)
		return exitOK
	}
	fmt.Printf("drained %d task(s) off %s (%s)\n", len(moved), target, mode)
	for _, r := range moved {
		fmt.Printf("  %s -> %s\n", r.TaskID, statusLabel(r.Status))
	}
	return exitOK
}
