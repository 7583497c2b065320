// Package dispatch owns the daemon's live task state. It routes new
// requests against the roster, drives lifecycle transitions, persists
// every change to the journal, and signs an audit entry per mutation.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/basket/swarmctl/internal/audit"
	"github.com/basket/swarmctl/internal/bus"
	"github.com/basket/swarmctl/internal/lifecycle"
	"github.com/basket/swarmctl/internal/otel"
	"github.com/basket/swarmctl/internal/persistence"
	"github.com/basket/swarmctl/internal/router"
	"github.com/basket/swarmctl/internal/shared"
	"github.com/basket/swarmctl/internal/swarm"
)

type Config struct {
	Tasks   *persistence.TaskStore
	Audit   *persistence.AuditStore // nil disables audit signing
	Archive *persistence.Archive    // nil disables sqlite archival
	Bus     *bus.Bus
	Logger  *slog.Logger
	Metrics *otel.Metrics

	Weights router.Weights

	// Secret signs audit entries. Empty means mutations are journaled
	// but not audited; the daemon logs a warning at startup.
	Secret string
	KeyID  string

	AuditPath string

	MaxRetries     int
	RetryBackoffMs int64
	TaskTimeoutMs  int64
}

// Manager serializes all task mutations behind one mutex. Reads hand
// out clones so callers never alias live state.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	records map[string]swarm.TaskRecord
}

func NewManager(cfg Config, records map[string]swarm.TaskRecord) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TaskTimeoutMs <= 0 {
		cfg.TaskTimeoutMs = 5 * 60 * 1000
	}
	if cfg.RetryBackoffMs <= 0 {
		cfg.RetryBackoffMs = 30 * 1000
	}
	if records == nil {
		records = make(map[string]swarm.TaskRecord)
	}
	return &Manager{cfg: cfg, records: records}
}

// Record returns a clone of one record.
func (m *Manager) Record(taskID string) (swarm.TaskRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[taskID]
	if !ok {
		return swarm.TaskRecord{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns a cloned copy of the full record set.
func (m *Manager) Snapshot() map[string]swarm.TaskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]swarm.TaskRecord, len(m.records))
	for id, rec := range m.records {
		out[id] = rec.Clone()
	}
	return out
}

// Summary reports queue counts by status.
func (m *Manager) Summary() lifecycle.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lifecycle.Summarize(m.records)
}

// Submit registers a new task request and routes it against the given
// roster snapshot. Critical-priority requests park in awaiting_approval
// instead of routing. The routing decision comes back even when no
// agent was eligible; the task then stays in created for a later sweep.
func (m *Manager) Submit(req swarm.TaskRequest, agents []swarm.AgentHeartbeat) (swarm.TaskRecord, router.RouteResult, error) {
	if req.ID == "" {
		return swarm.TaskRecord{}, router.RouteResult{}, fmt.Errorf("task request has no id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[req.ID]; exists {
		return swarm.TaskRecord{}, router.RouteResult{}, fmt.Errorf("task %q already exists", req.ID)
	}

	record := swarm.NewTaskRecord(req)
	// The audit entry follows the journal write on every path; a failed
	// commit must not leave a signed entry for a mutation that never
	// happened.
	auditCreated := func() {
		m.audit("task_created", req.From, map[string]any{
			"taskId":   record.TaskID,
			"target":   record.Target,
			"priority": string(req.Priority),
		})
	}

	if req.Priority == swarm.PriorityCritical {
		parked, err := lifecycle.RequestApproval(record)
		if err != nil {
			return swarm.TaskRecord{}, router.RouteResult{}, err
		}
		if err := m.commit(parked); err != nil {
			return swarm.TaskRecord{}, router.RouteResult{}, err
		}
		auditCreated()
		m.cfg.Logger.Info("task awaiting approval",
			"task_id", parked.TaskID, "priority", string(req.Priority))
		return parked.Clone(), router.RouteResult{}, nil
	}

	result := router.Route(req, agents, swarm.NowMs(), m.cfg.Weights)
	if !result.Routed {
		if err := m.commit(record); err != nil {
			return swarm.TaskRecord{}, result, err
		}
		auditCreated()
		m.publish(bus.TopicTaskUnroutable, bus.TaskUnroutableEvent{
			TaskID: record.TaskID,
			Reason: result.Reason,
		})
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.TasksUnroutable.Add(context.Background(), 1)
		}
		m.cfg.Logger.Warn("task unroutable",
			"task_id", record.TaskID, "reason", result.Reason)
		return record.Clone(), result, nil
	}

	record.Target = result.SelectedAgentID
	record.Request.Target = result.SelectedAgentID
	dispatched, err := lifecycle.MarkDispatched(record, result.SelectedAgentID, swarm.NowMs()+m.cfg.TaskTimeoutMs)
	if err != nil {
		return swarm.TaskRecord{}, result, err
	}
	if err := m.commit(dispatched); err != nil {
		return swarm.TaskRecord{}, result, err
	}
	auditCreated()

	m.publish(bus.TopicTaskRouted, bus.TaskRoutedEvent{
		TaskID:  dispatched.TaskID,
		AgentID: result.SelectedAgentID,
		Score:   result.Score,
	})
	m.audit("task_routed", "swarmd", map[string]any{
		"taskId":  dispatched.TaskID,
		"agentId": result.SelectedAgentID,
	})
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.TasksRouted.Add(context.Background(), 1)
	}
	m.cfg.Logger.Info("task routed",
		"task_id", dispatched.TaskID,
		"agent_id", result.SelectedAgentID,
		"score", result.Score)
	return dispatched.Clone(), result, nil
}

// Acknowledge records an agent's receipt of a dispatched task.
func (m *Manager) Acknowledge(taskID, agentID string) (swarm.TaskRecord, error) {
	return m.mutate(taskID, func(rec swarm.TaskRecord) (swarm.TaskRecord, error) {
		return lifecycle.MarkAcknowledged(rec, agentID)
	})
}

// Complete closes a task with the agent's reported outcome. Result
// fields that look secret-bearing are flagged before they hit the
// journal.
func (m *Manager) Complete(taskID string, outcome swarm.TaskStatus, fields map[string]any) (swarm.TaskRecord, error) {
	for key, val := range fields {
		text, ok := val.(string)
		if !ok {
			continue
		}
		for _, warn := range shared.ScanForLeaks(text) {
			m.cfg.Logger.Warn("secret-shaped content in task result",
				"task_id", taskID, "field", key, "pattern", warn.Pattern, "sample", warn.Sample)
		}
	}
	return m.mutate(taskID, func(rec swarm.TaskRecord) (swarm.TaskRecord, error) {
		return lifecycle.RecordResult(rec, outcome, fields)
	})
}

// FailDelivery notes a send failure, then either schedules a retry or
// closes the task as a transport error once attempts are exhausted.
func (m *Manager) FailDelivery(taskID, detail string) (swarm.TaskRecord, error) {
	return m.mutate(taskID, func(rec swarm.TaskRecord) (swarm.TaskRecord, error) {
		failed, err := lifecycle.RecordSendFailure(rec, detail)
		if err != nil {
			return swarm.TaskRecord{}, err
		}
		if failed.Attempts > m.cfg.MaxRetries {
			return lifecycle.MarkTransportError(failed, detail)
		}
		backoff := m.cfg.RetryBackoffMs * int64(failed.Attempts)
		return lifecycle.ScheduleRetry(failed, swarm.NowMs()+backoff)
	})
}

// SweepResult reports what one maintenance pass changed.
type SweepResult struct {
	Requeued   []string
	Redispatch []string
	TimedOut   []string
}

// Sweep requeues tasks whose retry timer elapsed, re-routes anything
// sitting in created, and times out in-flight tasks past their
// deadline.
func (m *Manager) Sweep(nowMs int64, agents []swarm.AgentHeartbeat) SweepResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result SweepResult
	for _, rec := range lifecycle.SortedByCreation(m.records) {
		switch {
		case rec.Status == swarm.StatusRetryScheduled && rec.NextRetryAt > 0 && rec.NextRetryAt <= nowMs:
			requeued, err := lifecycle.Requeue(rec)
			if err != nil {
				m.cfg.Logger.Error("sweep: requeue failed", "task_id", rec.TaskID, "error", err)
				continue
			}
			if err := m.commit(requeued); err != nil {
				m.cfg.Logger.Error("sweep: persist requeue failed", "task_id", rec.TaskID, "error", err)
				continue
			}
			m.audit("task_requeued", "swarmd", map[string]any{"taskId": rec.TaskID})
			result.Requeued = append(result.Requeued, rec.TaskID)

		case (rec.Status == swarm.StatusDispatched || rec.Status == swarm.StatusAcknowledged) &&
			rec.DeadlineAt > 0 && rec.DeadlineAt <= nowMs:
			timedOut, err := lifecycle.MarkTimedOut(rec)
			if err != nil {
				m.cfg.Logger.Error("sweep: timeout failed", "task_id", rec.TaskID, "error", err)
				continue
			}
			if err := m.commit(timedOut); err != nil {
				m.cfg.Logger.Error("sweep: persist timeout failed", "task_id", rec.TaskID, "error", err)
				continue
			}
			m.audit("task_timed_out", "swarmd", map[string]any{"taskId": rec.TaskID})
			m.cfg.Logger.Warn("task timed out", "task_id", rec.TaskID, "deadline_at", rec.DeadlineAt)
			result.TimedOut = append(result.TimedOut, rec.TaskID)
		}
	}

	// Requeued tasks land in created; give them a routing attempt in
	// the same pass.
	for _, rec := range lifecycle.SortedByCreation(m.records) {
		if rec.Status != swarm.StatusCreated {
			continue
		}
		if m.dispatchLocked(rec, agents, nowMs) {
			result.Redispatch = append(result.Redispatch, rec.TaskID)
		}
	}
	return result
}

// dispatchLocked routes one created task. Caller holds the mutex.
func (m *Manager) dispatchLocked(rec swarm.TaskRecord, agents []swarm.AgentHeartbeat, nowMs int64) bool {
	res := router.Route(rec.Request, agents, nowMs, m.cfg.Weights)
	if !res.Routed {
		return false
	}
	rec.Target = res.SelectedAgentID
	rec.Request.Target = res.SelectedAgentID
	dispatched, err := lifecycle.MarkDispatched(rec, res.SelectedAgentID, nowMs+m.cfg.TaskTimeoutMs)
	if err != nil {
		m.cfg.Logger.Error("dispatch failed", "task_id", rec.TaskID, "error", err)
		return false
	}
	if err := m.commit(dispatched); err != nil {
		m.cfg.Logger.Error("persist dispatch failed", "task_id", rec.TaskID, "error", err)
		return false
	}
	m.publish(bus.TopicTaskRouted, bus.TaskRoutedEvent{
		TaskID:  dispatched.TaskID,
		AgentID: res.SelectedAgentID,
		Score:   res.Score,
	})
	m.audit("task_routed", "swarmd", map[string]any{
		"taskId":  dispatched.TaskID,
		"agentId": res.SelectedAgentID,
	})
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.TasksRouted.Add(context.Background(), 1)
	}
	return true
}

// ArchiveTerminal copies terminal records into the sqlite archive and
// compacts the journal to a single snapshot line.
func (m *Manager) ArchiveTerminal(ctx context.Context) (int, error) {
	if m.cfg.Archive == nil {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var terminal []swarm.TaskRecord
	for _, rec := range m.records {
		if rec.Status.IsTerminal() {
			terminal = append(terminal, rec.Clone())
		}
	}
	if len(terminal) == 0 {
		return 0, nil
	}
	if err := m.cfg.Archive.ArchiveTerminal(ctx, terminal); err != nil {
		return 0, fmt.Errorf("archive terminal records: %w", err)
	}
	if m.cfg.Tasks != nil {
		if err := m.cfg.Tasks.Compact(m.records); err != nil {
			return len(terminal), fmt.Errorf("compact journal: %w", err)
		}
	}
	return len(terminal), nil
}

// VerifyChain re-reads the audit log and checks every link. A broken
// chain is published on the bus so the notifier can page someone.
func (m *Manager) VerifyChain() audit.Report {
	if m.cfg.Secret == "" || m.cfg.AuditPath == "" {
		return audit.Report{OK: true}
	}
	entries, err := persistence.LoadAuditEntries(m.cfg.AuditPath)
	if err != nil {
		m.cfg.Logger.Error("audit verify: load failed", "error", err)
		return audit.Report{OK: false, FailedIndex: -1, Reason: "load_failed", Detail: err.Error()}
	}
	report := audit.VerifyChain(entries, m.cfg.Secret)
	if !report.OK {
		m.publish(bus.TopicAuditChainInvalid, bus.ChainInvalidEvent{
			FailedIndex: report.FailedIndex,
			Reason:      report.Reason,
		})
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.AuditChainFailures.Add(context.Background(), 1)
		}
		m.cfg.Logger.Error("audit chain invalid",
			"failed_index", report.FailedIndex, "reason", report.Reason)
	}
	return report
}

// mutate applies fn to one record under the lock and persists the
// result.
func (m *Manager) mutate(taskID string, fn func(swarm.TaskRecord) (swarm.TaskRecord, error)) (swarm.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[taskID]
	if !ok {
		return swarm.TaskRecord{}, lifecycle.ErrTaskNotFound
	}
	updated, err := fn(rec)
	if err != nil {
		return swarm.TaskRecord{}, err
	}
	if err := m.commit(updated); err != nil {
		return swarm.TaskRecord{}, err
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.TaskTransitions.Add(context.Background(), 1)
	}
	return updated.Clone(), nil
}

// commit stores the record in memory and appends it to the journal.
// Caller holds the mutex.
func (m *Manager) commit(rec swarm.TaskRecord) error {
	if m.cfg.Tasks != nil {
		if err := m.cfg.Tasks.Append(rec); err != nil {
			return fmt.Errorf("append task record: %w", err)
		}
	}
	m.records[rec.TaskID] = rec
	return nil
}

func (m *Manager) publish(topic string, payload any) {
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(topic, payload)
	}
}

// audit signs and appends one entry. Failures are logged, not fatal;
// the journal already has the mutation. Caller holds the mutex.
func (m *Manager) audit(eventType, actor string, payload map[string]any) {
	if m.cfg.Secret == "" || m.cfg.Audit == nil {
		return
	}
	entry, err := audit.Sign(swarm.AuditEntry{
		EventType: eventType,
		Actor:     actor,
		Payload:   payload,
	}, audit.SignOptions{
		Secret:       m.cfg.Secret,
		KeyID:        m.cfg.KeyID,
		PreviousHash: m.cfg.Audit.TailDigest(),
	})
	if err != nil {
		m.cfg.Logger.Error("audit sign failed", "event_type", eventType, "error", err)
		return
	}
	if err := m.cfg.Audit.Append(entry); err != nil {
		m.cfg.Logger.Error("audit append failed", "event_type", eventType, "error", err)
		return
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.AuditEntriesSigned.Add(context.Background(), 1)
	}
}
