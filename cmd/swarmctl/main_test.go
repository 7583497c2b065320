package main

import (
	"path/filepath"
	"testing"

	"github.com/basket/swarmctl/internal/lifecycle"
	"github.com/basket/swarmctl/internal/persistence"
	"github.com/basket/swarmctl/internal/swarm"
)

// seedStores writes a task journal and a signed audit log into a temp
// home and points SWARM_HOME and SWARM_AUDIT_SECRET at them. The
// journal holds one task per lifecycle phase of interest.
func seedStores(t *testing.T) (storePath, auditPath string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("SWARM_HOME", home)
	t.Setenv("SWARM_AUDIT_SECRET", "test-secret")
	t.Setenv("SWARM_AUDIT_KEY_ID", "")

	storePath = filepath.Join(home, "tasks.jsonl")
	auditPath = filepath.Join(home, "audit.jsonl")

	created := swarm.NewTaskRecord(swarm.TaskRequest{
		ID:       "task-created",
		From:     "agent:origin",
		Priority: swarm.PriorityNormal,
		Task:     "summarize logs",
	})

	dispatched := swarm.NewTaskRecord(swarm.TaskRequest{
		ID:       "task-dispatched",
		From:     "agent:origin",
		Priority: swarm.PriorityHigh,
		Task:     "rotate keys",
	})
	dispatched, err := lifecycle.MarkDispatched(dispatched, "agent:worker", swarm.NowMs()+60_000)
	if err != nil {
		t.Fatalf("seed dispatch: %v", err)
	}

	pending := swarm.NewTaskRecord(swarm.TaskRequest{
		ID:       "task-pending",
		From:     "agent:origin",
		Priority: swarm.PriorityCritical,
		Task:     "drop table",
	})
	pending, err = lifecycle.RequestApproval(pending)
	if err != nil {
		t.Fatalf("seed approval: %v", err)
	}

	done := swarm.NewTaskRecord(swarm.TaskRequest{
		ID:       "task-done",
		From:     "agent:origin",
		Priority: swarm.PriorityNormal,
		Task:     "noop",
	})
	done, err = lifecycle.MarkDispatched(done, "agent:worker", swarm.NowMs()+60_000)
	if err != nil {
		t.Fatalf("seed dispatch: %v", err)
	}
	done, err = lifecycle.MarkAcknowledged(done, "agent:worker")
	if err != nil {
		t.Fatalf("seed ack: %v", err)
	}
	done, err = lifecycle.RecordResult(done, swarm.StatusCompleted, nil)
	if err != nil {
		t.Fatalf("seed result: %v", err)
	}

	store, err := persistence.OpenTaskStore(storePath)
	if err != nil {
		t.Fatalf("open task store: %v", err)
	}
	for _, rec := range []swarm.TaskRecord{created, dispatched, pending, done} {
		if err := store.Append(rec); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}
	store.Close()

	for _, id := range []string{"task-created", "task-dispatched", "task-pending", "task-done"} {
		err := appendAudit(auditPath, "test-secret", "task_created", "swarmd", map[string]any{"taskId": id})
		if err != nil {
			t.Fatalf("seed audit: %v", err)
		}
	}
	return storePath, auditPath
}

func recordFromStore(t *testing.T, storePath, taskID string) swarm.TaskRecord {
	t.Helper()
	records, err := persistence.LoadRecords(storePath)
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	rec, ok := records[taskID]
	if !ok {
		t.Fatalf("task %s missing from journal", taskID)
	}
	return rec
}
