package main

import (
	"context"
	"testing"

	"github.com/basket/swarmctl/internal/audit"
	"github.com/basket/swarmctl/internal/persistence"
)

func TestRunRerouteCommand_MovesTask(t *testing.T) {
	storePath, auditPath := seedStores(t)

	code := runRerouteCommand(context.Background(), []string{
		"--actor", "ops@example", "--reason", "worker overloaded",
		"task-dispatched", "agent:backup",
	})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}

	rec := recordFromStore(t, storePath, "task-dispatched")
	if rec.Target != "agent:backup" {
		t.Fatalf("target = %q, want %q", rec.Target, "agent:backup")
	}
	last := rec.History[len(rec.History)-1]
	if last.Event != "operator_reroute" || last.Actor != "ops@example" {
		t.Fatalf("last event = %s by %s, want operator_reroute by ops@example", last.Event, last.Actor)
	}

	entries, err := persistence.LoadAuditEntries(auditPath)
	if err != nil {
		t.Fatalf("load audit: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("audit entries = %d, want 5", len(entries))
	}
	if report := audit.VerifyChain(entries, "test-secret"); !report.OK {
		t.Fatalf("chain invalid after reroute: %s", report.Reason)
	}
	tail := entries[len(entries)-1]
	if tail.EventType != "operator_reroute" {
		t.Fatalf("tail event type = %q, want operator_reroute", tail.EventType)
	}
}

func TestRunRerouteCommand_TerminalTaskRefused(t *testing.T) {
	seedStores(t)

	code := runRerouteCommand(context.Background(), []string{
		"--actor", "ops@example", "task-done", "agent:backup",
	})
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 for terminal task", code)
	}
}

func TestRunRerouteCommand_MissingSecret(t *testing.T) {
	seedStores(t)
	t.Setenv("SWARM_AUDIT_SECRET", "")

	code := runRerouteCommand(context.Background(), []string{
		"--actor", "ops@example", "task-dispatched", "agent:backup",
	})
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 without a secret", code)
	}
}

func TestRunRerouteCommand_BadArgs(t *testing.T) {
	seedStores(t)

	if code := runRerouteCommand(context.Background(), []string{"only-one-arg"}); code != 1 {
		t.Fatalf("got exit code %d, want 1 for missing target", code)
	}
	if code := runRerouteCommand(context.Background(), []string{"task-dispatched", "agent:backup"}); code != 1 {
		t.Fatalf("got exit code %d, want 1 without --actor", code)
	}
}
