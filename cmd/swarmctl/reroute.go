package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/basket/swarmctl/internal/lifecycle"
)

func runRerouteCommand(_ context.Context, args []string) int {
	fs := flag.NewFlagSet("reroute", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	secret := secretFlag(fs)
	actor := fs.String("actor", "", "operator identity (required)")
	reason := fs.String("reason", "", "why the task is moving")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() != 2 {
		return usage("usage: swarmctl reroute <task-id> <new-target> --actor <name> [--reason <text>]")
	}
	taskID, newTarget := fs.Arg(0), fs.Arg(1)
	if *actor == "" {
		return usage("reroute requires --actor")
	}
	key := resolveSecret(*secret)
	if key == "" {
		return fail("reroute", fmt.Errorf("no secret; set --secret or SWARM_AUDIT_SECRET"))
	}

	records, err := loadRecords(sf.store)
	if err != nil {
		return fail("reroute", err)
	}
	updated, record, err := lifecycle.Reroute(records, taskID, newTarget,
		lifecycle.Intervention{Actor: *actor, Reason: *reason})
	if err != nil {
		return fail("reroute", err)
	}

	if err := saveRecords(sf.store, updated); err != nil {
		return fail("reroute", err)
	}
	if err := appendAudit(sf.audit, key, "operator_reroute", *actor, map[string]any{
		"taskId":     taskID,
		"fromTarget": records[taskID].Target,
		"toTarget":   newTarget,
		"reason":     *reason,
	}); err != nil {
		return fail("reroute", err)
	}

	fmt.Printf("task %s rerouted to %s (status %s)\n", record.TaskID, record.Target, statusLabel(record.Status))
	return exitOK
}
