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

func runTailCommand(_ context.Context, args []string) int {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	taskID := fs.String("task", "", "only events for this task")
	target := fs.String("target", "", "only events for tasks on this agent")
	stage := fs.String("stage", "", "only events in this stage (creation, dispatch, result, ...)")
	limit := fs.Int("limit", 50, "maximum events")
	asJSON := fs.Bool("json", false, "print events as JSON")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() != 0 {
		return usage("usage: swarmctl tail [--task <id>] [--target <agent>] [--stage <stage>] [--limit <n>]")
	}

	records, err := loadRecords(sf.store)
	if err != nil {
		return fail("tail", err)
	}
	events := lifecycle.CollectEvents(records, lifecycle.TailOptions{
		TaskID: *taskID,
		Target: *target,
		Limit:  *limit,
	})
	if *stage != "" {
		filtered := events[:0]
		for _, ev := range events {
			if string(lifecycle.StageOf(ev.Kind)) == *stage {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(events); err != nil {
			return fail("tail", err)
		}
		return exitOK
	}

	if len(events) == 0 {
		fmt.Println(dim("no events"))
		return exitOK
	}
	for _, ev := range events {
		at := time.UnixMilli(ev.At).Format(time.RFC3339)
		line := fmt.Sprintf("%s  %-36s  %-24s %s", dim(at), ev.TaskID, ev.Kind, statusLabel(ev.Status))
		if ev.Actor != "" {
			line += " by " + ev.Actor
		}
		if ev.Reason != "" {
			line += ": " + ev.Reason
		}
		fmt.Println(line)
	}
	return exitOK
}
