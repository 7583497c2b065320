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

func runReplayCommand(_ context.Context, args []string) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	asJSON := fs.Bool("json", false, "print the replay as JSON")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() != 1 {
		return usage("usage: swarmctl replay <task-id>")
	}
	taskID := fs.Arg(0)

	records, err := loadRecords(sf.store)
	if err != nil {
		return fail("replay", err)
	}
	replay := lifecycle.ReplayTask(records, taskID)
	if replay == nil {
		return fail("replay", fmt.Errorf("task %s not found", taskID))
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(replay); err != nil {
			return fail("replay", err)
		}
		return exitOK
	}

	fmt.Printf("%s %s\n", header("task"), replay.TaskID)
	fmt.Printf("  status %s   target %s   attempts %d\n",
		statusLabel(replay.Status), replay.Target, replay.Attempts)
	if replay.ClosedAt > 0 {
		fmt.Printf("  closed %s\n", dim(time.UnixMilli(replay.ClosedAt).Format(time.RFC3339)))
	}
	fmt.Println(header("timeline"))
	for _, entry := range replay.Timeline {
		at := time.UnixMilli(entry.Event.At).Format(time.RFC3339)
		cause := ""
		if entry.CauseIndex >= 0 {
			cause = fmt.Sprintf(" (after #%d)", entry.CauseIndex)
		}
		line := fmt.Sprintf("  #%-3d %-13s %-24s %s%s", entry.Index, entry.Stage, entry.Event.Event, dim(at), cause)
		if entry.Event.Actor != "" {
			line += " by " + entry.Event.Actor
		}
		if entry.Event.Reason != "" {
			line += ": " + entry.Event.Reason
		}
		fmt.Println(line)
	}
	return exitOK
}
