package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/basket/swarmctl/internal/lifecycle"
)

func runOverrideCommand(_ context.Context, args []string) int {
	fs := flag.NewFlagSet("override", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	secret := secretFlag(fs)
	actor := fs.String("actor", "", "operator identity (required)")
	reason := fs.String("reason", "", "review justification")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() != 2 {
		return usage("usage: swarmctl override <approve|deny> <task-id> --actor <name> [--reason <text>]")
	}
	var approved bool
	switch fs.Arg(0) {
	case "approve":
		approved = true
	case "deny":
		approved = false
	default:
		return usage(fmt.Sprintf("override decision must be approve or deny, got %q", fs.Arg(0)))
	}
	taskID := fs.Arg(1)
	if *actor == "" {
		return usage("override requires --actor")
	}
	key := resolveSecret(*secret)
	if key == "" {
		return fail("override", fmt.Errorf("no secret; set --secret or SWARM_AUDIT_SECRET"))
	}

	records, err := loadRecords(sf.store)
	if err != nil {
		return fail("override", err)
	}
	updated, record, err := lifecycle.OverrideApproval(records, taskID, approved,
		lifecycle.Intervention{Actor: *actor, Reason: *reason})
	if err != nil {
		return fail("override", err)
	}

	if err := saveRecords(sf.store, updated); err != nil {
		return fail("override", err)
	}
	decision := "denied"
	if approved {
		decision = "approved"
	}
	if err := appendAudit(sf.audit, key, "operator_override", *actor, map[string]any{
		"taskId":   taskID,
		"decision": decision,
		"reason":   *reason,
	}); err != nil {
		return fail("override", err)
	}

	fmt.Printf("task %s %s (status %s)\n", record.TaskID, decision, statusLabel(record.Status))
	return exitOK
}
