package smoke

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/swarmctl/internal/audit"
	"github.com/basket/swarmctl/internal/bus"
	"github.com/basket/swarmctl/internal/dispatch"
	"github.com/basket/swarmctl/internal/gateway"
	"github.com/basket/swarmctl/internal/handshake"
	"github.com/basket/swarmctl/internal/lifecycle"
	"github.com/basket/swarmctl/internal/persistence"
	"github.com/basket/swarmctl/internal/roster"
	"github.com/basket/swarmctl/internal/router"
	"github.com/basket/swarmctl/internal/swarm"
)

type pipeline struct {
	manager   *dispatch.Manager
	server    *httptest.Server
	storePath string
	auditPath string
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "tasks.jsonl")
	auditPath := filepath.Join(dir, "audit.jsonl")

	tasks, err := persistence.OpenTaskStore(storePath)
	if err != nil {
		t.Fatalf("open task store: %v", err)
	}
	t.Cleanup(func() { tasks.Close() })

	auditStore, err := persistence.OpenAuditStore(auditPath)
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { auditStore.Close() })

	b := bus.New()
	mgr := dispatch.NewManager(dispatch.Config{
		Tasks:         tasks,
		Audit:         auditStore,
		Bus:           b,
		Weights:       router.DefaultWeights(),
		Secret:        "smoke-secret",
		KeyID:         "smoke",
		AuditPath:     auditPath,
		MaxRetries:    2,
		TaskTimeoutMs: 60_000,
	}, nil)

	gw := gateway.New(gateway.Config{
		Manager: mgr,
		Roster:  roster.New(),
		Bus:     b,
		Handshake: handshake.Options{
			SupportedProtocols:   []string{"swarm/0.1"},
			RequiredCapabilities: []string{"task_exchange"},
		},
	})
	ts := httptest.NewServer(gw.Handler())
	t.Cleanup(ts.Close)

	return &pipeline{manager: mgr, server: ts, storePath: storePath, auditPath: auditPath}
}

func connectAgent(t *testing.T, p *pipeline, agentID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(p.server.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	if err := wsjson.Write(ctx, conn, handshake.Request{
		Kind:               "handshake_request",
		ID:                 "hs-" + agentID,
		From:               agentID,
		SupportedProtocols: []string{"swarm/0.1"},
		Capabilities:       []string{"task_exchange", "heartbeat"},
		Timestamp:          swarm.NowMs(),
	}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	var resp handshake.Response
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("handshake declined: %+v", resp)
	}

	if err := wsjson.Write(ctx, conn, map[string]any{
		"kind": "heartbeat", "id": agentID, "status": "idle",
		"load": 0.1, "timestamp": swarm.NowMs(),
	}); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	var ack map[string]any
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		t.Fatalf("read heartbeat ack: %v", err)
	}
	return conn
}

// Full path: agent connects, a task routes to it, the agent completes
// it, every step lands in the journal, and the audit chain over those
// writes verifies.
func TestSmoke_TaskLifecycleLeavesVerifiableTrail(t *testing.T) {
	p := startPipeline(t)
	conn := connectAgent(t, p, "agent:worker")
	ctx := context.Background()

	req := swarm.NewTaskRequest("agent:worker", "", "collect metrics", swarm.PriorityNormal)
	if err := wsjson.Write(ctx, conn, map[string]any{
		"kind": "task_request", "request": req,
	}); err != nil {
		t.Fatalf("write task request: %v", err)
	}
	var routed map[string]any
	if err := wsjson.Read(ctx, conn, &routed); err != nil {
		t.Fatalf("read routed: %v", err)
	}
	if routed["kind"] != "task_routed" {
		t.Fatalf("reply = %v", routed)
	}

	for _, msg := range []map[string]any{
		{"kind": "task_ack", "taskId": req.ID},
		{"kind": "task_result", "taskId": req.ID, "status": "completed"},
	} {
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			t.Fatalf("write %v: %v", msg["kind"], err)
		}
		var update map[string]any
		if err := wsjson.Read(ctx, conn, &update); err != nil {
			t.Fatalf("read update: %v", err)
		}
	}

	records, err := persistence.LoadRecords(p.storePath)
	if err != nil {
		t.Fatalf("load journal: %v", err)
	}
	rec, ok := records[req.ID]
	if !ok || rec.Status != swarm.StatusCompleted {
		t.Fatalf("journaled record = %+v", rec)
	}
	if len(rec.History) < 4 {
		t.Fatalf("history has %d events, want at least created/dispatched/acknowledged/completed", len(rec.History))
	}

	entries, err := persistence.LoadAuditEntries(p.auditPath)
	if err != nil {
		t.Fatalf("load audit: %v", err)
	}
	report := audit.VerifyChain(entries, "smoke-secret")
	if !report.OK {
		t.Fatalf("audit chain invalid: %s (entry %d)", report.Reason, report.FailedIndex)
	}
	if report.Entries < 2 {
		t.Fatalf("audit entries = %d, want at least task_created and task_routed", report.Entries)
	}
}

// Operator path against the same journal the daemon writes: the CLI's
// reroute semantics apply cleanly to a record the daemon dispatched.
func TestSmoke_OperatorRerouteOverDaemonJournal(t *testing.T) {
	p := startPipeline(t)
	conn := connectAgent(t, p, "agent:worker")
	ctx := context.Background()

	req := swarm.NewTaskRequest("agent:worker", "", "rotate certs", swarm.PriorityNormal)
	if err := wsjson.Write(ctx, conn, map[string]any{
		"kind": "task_request", "request": req,
	}); err != nil {
		t.Fatalf("write task request: %v", err)
	}
	var routed map[string]any
	if err := wsjson.Read(ctx, conn, &routed); err != nil {
		t.Fatalf("read routed: %v", err)
	}

	records, err := persistence.LoadRecords(p.storePath)
	if err != nil {
		t.Fatalf("load journal: %v", err)
	}
	updated, rec, err := lifecycle.Reroute(records, req.ID, "agent:backup",
		lifecycle.Intervention{Actor: "ops@example", Reason: "worker draining"})
	if err != nil {
		t.Fatalf("reroute: %v", err)
	}
	if rec.Target != "agent:backup" {
		t.Fatalf("target = %q, want agent:backup", rec.Target)
	}

	store, err := persistence.OpenTaskStore(p.storePath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	if err := store.Compact(updated); err != nil {
		t.Fatalf("compact: %v", err)
	}

	reloaded, err := persistence.LoadRecords(p.storePath)
	if err != nil {
		t.Fatalf("reload journal: %v", err)
	}
	if reloaded[req.ID].Target != "agent:backup" {
		t.Fatalf("reloaded target = %q, want agent:backup", reloaded[req.ID].Target)
	}
}
