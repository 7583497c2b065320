package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basket/swarmctl/internal/lifecycle"
)

func runQueueCommand(_ context.Context, args []string) int {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	approvals := fs.Bool("approvals", false, "only tasks awaiting approval")
	target := fs.String("target", "", "only tasks assigned to this agent")
	limit := fs.Int("limit", 50, "maximum rows")
	asJSON := fs.Bool("json", false, "print records as JSON")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() != 0 {
		return usage("usage: swarmctl queue [--approvals] [--target <agent>] [--limit <n>]")
	}

	records, err := loadRecords(sf.store)
	if err != nil {
		return fail("queue", err)
	}
	rows := lifecycle.ListQueue(records, lifecycle.QueueOptions{
		ApprovalsOnly: *approvals,
		Target:        *target,
		Limit:         *limit,
	})

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return fail("queue", err)
		}
		return exitOK
	}

	if len(rows) == 0 {
		fmt.Println(dim("queue is empty"))
		return exitOK
	}
	fmt.Printf("%s\n", header(fmt.Sprintf("%-36s  %-18s  %-16s  %-8s  %s", "TASK", "STATUS", "TARGET", "ATTEMPTS", "UPDATED")))
	for _, r := range rows {
		updated := time.UnixMilli(r.UpdatedAt).Format(time.RFC3339)
		fmt.Printf("%-36s  %-18s  %-16s  %-8d  %s\n",
			r.TaskID, statusLabel(r.Status), r.Target, r.Attempts, dim(updated))
	}
	return exitOK
}
