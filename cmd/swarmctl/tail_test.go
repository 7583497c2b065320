package main

import (
	"context"
	"testing"
)

func TestRunTailCommand_AllEvents(t *testing.T) {
	seedStores(t)

	if code := runTailCommand(context.Background(), nil); code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestRunTailCommand_Filters(t *testing.T) {
	seedStores(t)

	args := []string{"--task", "task-done", "--stage", "result", "--limit", "10", "--json"}
	if code := runTailCommand(context.Background(), args); code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestRunTailCommand_ExtraArgs(t *testing.T) {
	seedStores(t)

	if code := runTailCommand(context.Background(), []string{"extra"}); code != 1 {
		t.Fatalf("got exit code %d, want 1", code)
	}
}
