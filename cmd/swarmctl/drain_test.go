package main

import (
	"context"
	"testing"

	"github.com/basket/swarmctl/internal/swarm"
)

func TestRunDrainCommand_PausesOpenTasks(t *testing.T) {
	storePath, _ := seedStores(t)

	code := runDrainCommand(context.Background(), []string{
		"--actor", "ops@example", "--reason", "maintenance window", "agent:worker",
	})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}

	rec := recordFromStore(t, storePath, "task-dispatched")
	if rec.Status != swarm.StatusPausedDrain {
		t.Fatalf("status = %s, want %s", rec.Status, swarm.StatusPausedDrain)
	}

	done := recordFromStore(t, storePath, "task-done")
	if done.Status != swarm.StatusCompleted {
		t.Fatalf("terminal task touched by drain: status = %s", done.Status)
	}
}

func TestRunDrainCommand_RedirectsOpenTasks(t *testing.T) {
	storePath, _ := seedStores(t)

	code := runDrainCommand(context.Background(), []string{
		"--actor", "ops@example", "--redirect", "agent:backup", "agent:worker",
	})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}

	rec := recordFromStore(t, storePath, "task-dispatched")
	if rec.Target != "agent:backup" {
		t.Fatalf("target = %q, want %q", rec.Target, "agent:backup")
	}
}

func TestRunDrainCommand_MissingActor(t *testing.T) {
	seedStores(t)

	if code := runDrainCommand(context.Background(), []string{"agent:worker"}); code != 1 {
		t.Fatalf("got exit code %d, want 1 without --actor", code)
	}
}

func TestRunDrainCommand_MissingSecret(t *testing.T) {
	seedStores(t)
	t.Setenv("SWARM_AUDIT_SECRET", "")

	code := runDrainCommand(context.Background(), []string{"--actor", "ops@example", "agent:worker"})
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 without a secret", code)
	}
}
