package main

import (
	"context"
	"testing"

	"github.com/basket/swarmctl/internal/swarm"
)

func TestRunOverrideCommand_Approve(t *testing.T) {
	storePath, _ := seedStores(t)

	code := runOverrideCommand(context.Background(), []string{
		"--actor", "ops@example", "--reason", "reviewed", "approve", "task-pending",
	})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}

	rec := recordFromStore(t, storePath, "task-pending")
	if rec.Status != swarm.StatusCreated {
		t.Fatalf("status = %s, want %s after approval", rec.Status, swarm.StatusCreated)
	}
	if rec.Approval == nil || rec.Approval.Status != swarm.ApprovalApproved {
		t.Fatalf("approval = %+v, want resolved as approved", rec.Approval)
	}
}

func TestRunOverrideCommand_Deny(t *testing.T) {
	storePath, _ := seedStores(t)

	code := runOverrideCommand(context.Background(), []string{
		"--actor", "ops@example", "--reason", "too risky", "deny", "task-pending",
	})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}

	rec := recordFromStore(t, storePath, "task-pending")
	if rec.Status != swarm.StatusRejected {
		t.Fatalf("status = %s, want %s after denial", rec.Status, swarm.StatusRejected)
	}
	if rec.ClosedAt == 0 {
		t.Fatal("denied task has no ClosedAt")
	}
}

func TestRunOverrideCommand_RejectsBadDecision(t *testing.T) {
	seedStores(t)

	missing := []string{"--actor", "ops@example", "task-pending"}
	if code := runOverrideCommand(context.Background(), missing); code != 1 {
		t.Fatalf("got exit code %d, want 1 without a decision", code)
	}
	bad := []string{"--actor", "ops@example", "maybe", "task-pending"}
	if code := runOverrideCommand(context.Background(), bad); code != 1 {
		t.Fatalf("got exit code %d, want 1 for an unknown decision", code)
	}
}

func TestRunOverrideCommand_NotAwaiting(t *testing.T) {
	seedStores(t)

	code := runOverrideCommand(context.Background(), []string{
		"--actor", "ops@example", "approve", "task-dispatched",
	})
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 for a task not awaiting approval", code)
	}
}
