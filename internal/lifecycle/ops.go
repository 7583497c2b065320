package lifecycle

import (
	"fmt"
	"sort"

	"github.com/basket/swarmctl/internal/shared"
	"github.com/basket/swarmctl/internal/swarm"
)

// Intervention identifies who asked for an operator action and why.
// The reason is redacted before it reaches any history event.
type Intervention struct {
	Actor  string
	Reason string
}

// Summary aggregates a record set for the status command.
type Summary struct {
	Total            int                      `json:"total"`
	Open             int                      `json:"open"`
	Terminal         int                      `json:"terminal"`
	PendingApprovals int                      `json:"pendingApprovals"`
	ByStatus         map[swarm.TaskStatus]int `json:"byStatus"`
	ByTarget         map[string]int           `json:"byTarget"`
}

// Summarize counts records by status and target. Read-only.
func Summarize(records map[string]swarm.TaskRecord) Summary {
	s := Summary{
		ByStatus: map[swarm.TaskStatus]int{},
		ByTarget: map[string]int{},
	}
	for _, r := range records {
		s.Total++
		s.ByStatus[r.Status]++
		s.ByTarget[r.Target]++
		if r.Status.IsTerminal() {
			s.Terminal++
		} else {
			s.Open++
		}
		if r.Status == swarm.StatusAwaitingApproval {
			s.PendingApprovals++
		}
	}
	return s
}

// QueueOptions filter ListQueue.
type QueueOptions struct {
	ApprovalsOnly bool
	Target        string
	Limit         int
}

// ListQueue returns open records sorted by UpdatedAt descending,
// newest activity first. Limit defaults to 50 and clamps to at least 1.
func ListQueue(records map[string]swarm.TaskRecord, opts QueueOptions) []swarm.TaskRecord {
	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	if limit < 1 {
		limit = 1
	}

	var out []swarm.TaskRecord
	for _, r := range records {
		if opts.ApprovalsOnly {
			if r.Status != swarm.StatusAwaitingApproval {
				continue
			}
		} else if r.Status.IsTerminal() {
			continue
		}
		if opts.Target != "" && r.Target != opts.Target {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].TaskID < out[j].TaskID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Replay is a read-only projection of one task's journey.
type Replay struct {
	TaskID      string           `json:"taskId"`
	Status      swarm.TaskStatus `json:"status"`
	Target      string           `json:"target"`
	Attempts    int              `json:"attempts"`
	CreatedAt   int64            `json:"createdAt"`
	UpdatedAt   int64            `json:"updatedAt"`
	ClosedAt    int64            `json:"closedAt,omitempty"`
	NextRetryAt int64            `json:"nextRetryAt,omitempty"`
	DeadlineAt  int64            `json:"deadlineAt,omitempty"`
	History     []swarm.Event    `json:"history"`
	Timeline    []TimelineEntry  `json:"timeline"`
}

// ReplayTask projects a record for display, or nil when unknown. Never
// mutates anything, terminal records included.
func ReplayTask(records map[string]swarm.TaskRecord, taskID string) *Replay {
	r, ok := records[taskID]
	if !ok {
		return nil
	}
	clone := r.Clone()
	return &Replay{
		TaskID:      clone.TaskID,
		Status:      clone.Status,
		Target:      clone.Target,
		Attempts:    clone.Attempts,
		CreatedAt:   clone.CreatedAt,
		UpdatedAt:   clone.UpdatedAt,
		ClosedAt:    clone.ClosedAt,
		NextRetryAt: clone.NextRetryAt,
		DeadlineAt:  clone.DeadlineAt,
		History:     clone.History,
		Timeline:    BuildTimeline(clone),
	}
}

// Reroute points an open task at a new target and resets it for
// redispatch. Fails on unknown or terminal tasks.
func Reroute(records map[string]swarm.TaskRecord, taskID, newTarget string, who Intervention) (map[string]swarm.TaskRecord, swarm.TaskRecord, error) {
	return reroute(records, taskID, newTarget, EventOperatorReroute, who)
}

func reroute(records map[string]swarm.TaskRecord, taskID, newTarget, eventKind string, who Intervention) (map[string]swarm.TaskRecord, swarm.TaskRecord, error) {
	record, ok := records[taskID]
	if !ok {
		return nil, swarm.TaskRecord{}, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if record.Status.IsTerminal() {
		return nil, swarm.TaskRecord{}, fmt.Errorf("task %s status %s: %w", taskID, record.Status, ErrTerminalStatus)
	}

	now := swarm.NowMs()
	updated, err := Apply(record, swarm.Event{
		At:     now,
		Event:  eventKind,
		Actor:  who.Actor,
		Reason: shared.Redact(who.Reason),
		Fields: map[string]any{
			"fromTarget": record.Target,
			"toTarget":   newTarget,
		},
	})
	if err != nil {
		return nil, swarm.TaskRecord{}, err
	}
	updated.Target = newTarget
	updated.Request.Target = newTarget
	updated.NextRetryAt = 0
	updated.DeadlineAt = now

	out := cloneSet(records)
	out[taskID] = updated
	return out, updated, nil
}

// DrainOptions configure Drain. An empty RedirectTarget pauses the
// target's open tasks in place; a non-empty one reroutes them.
type DrainOptions struct {
	RedirectTarget string
	Actor          string
	Reason         string
}

// Drain takes every open task off a target. Terminal tasks and tasks
// already paused by a previous drain are untouched, so repeating a
// drain with no new work returns an empty updated list.
func Drain(records map[string]swarm.TaskRecord, target string, opts DrainOptions) (map[string]swarm.TaskRecord, []swarm.TaskRecord, error) {
	out := cloneSet(records)
	var updated []swarm.TaskRecord

	for _, record := range SortedByCreation(records) {
		if record.Target != target || record.Status.IsTerminal() {
			continue
		}
		who := Intervention{Actor: opts.Actor, Reason: opts.Reason}
		if opts.RedirectTarget != "" {
			next, moved, err := reroute(out, record.TaskID, opts.RedirectTarget, EventOperatorDrainReroute, who)
			if err != nil {
				return nil, nil, err
			}
			out = next
			updated = append(updated, moved)
			continue
		}
		if record.Status == swarm.StatusPausedDrain {
			continue
		}
		paused, err := Apply(record, swarm.Event{
			Event:  EventOperatorDrainPause,
			Actor:  opts.Actor,
			Reason: shared.Redact(opts.Reason),
			Fields: map[string]any{"target": target},
		})
		if err != nil {
			return nil, nil, err
		}
		out[record.TaskID] = paused
		updated = append(updated, paused)
	}
	return out, updated, nil
}

// OverrideApproval resolves a pending approval. Approving resets the
// task to created for redispatch; denying closes it as rejected.
// Fails on unknown tasks and on any status other than awaiting_approval.
func OverrideApproval(records map[string]swarm.TaskRecord, taskID string, approved bool, who Intervention) (map[string]swarm.TaskRecord, swarm.TaskRecord, error) {
	record, ok := records[taskID]
	if !ok {
		return nil, swarm.TaskRecord{}, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if record.Status.IsTerminal() {
		return nil, swarm.TaskRecord{}, fmt.Errorf("task %s status %s: %w", taskID, record.Status, ErrTerminalStatus)
	}
	if record.Status != swarm.StatusAwaitingApproval {
		return nil, swarm.TaskRecord{}, fmt.Errorf("task %s status %s, need %s: %w",
			taskID, record.Status, swarm.StatusAwaitingApproval, ErrWrongStatus)
	}

	now := swarm.NowMs()
	eventKind := EventOverrideApproved
	approvalStatus := swarm.ApprovalApproved
	if !approved {
		eventKind = EventOverrideDenied
		approvalStatus = swarm.ApprovalDenied
	}
	reason := shared.Redact(who.Reason)

	updated, err := Apply(record, swarm.Event{
		At:     now,
		Event:  eventKind,
		Actor:  who.Actor,
		Reason: reason,
	})
	if err != nil {
		return nil, swarm.TaskRecord{}, err
	}
	updated.Approval = &swarm.Approval{
		Status:       approvalStatus,
		ReviewedAt:   now,
		Reviewer:     who.Actor,
		ReviewReason: reason,
	}

	out := cloneSet(records)
	out[taskID] = updated
	return out, updated, nil
}

// TailOptions filter CollectEvents.
type TailOptions struct {
	TaskID string
	Target string
	Limit  int
}

// TailEvent is one history event with its owning task's identity.
type TailEvent struct {
	TaskID string           `json:"taskId"`
	Target string           `json:"target"`
	Status swarm.TaskStatus `json:"status"`
	Event  swarm.Event      `json:"-"`

	At     int64          `json:"at"`
	Kind   string         `json:"event"`
	Actor  string         `json:"actor,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// CollectEvents flattens every record's history into one
// reverse-chronological stream. Limit defaults to 50, minimum 1.
func CollectEvents(records map[string]swarm.TaskRecord, opts TailOptions) []TailEvent {
	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	if limit < 1 {
		limit = 1
	}

	var out []TailEvent
	for _, r := range records {
		if opts.TaskID != "" && r.TaskID != opts.TaskID {
			continue
		}
		if opts.Target != "" && r.Target != opts.Target {
			continue
		}
		clone := r.Clone()
		for _, ev := range clone.History {
			out = append(out, TailEvent{
				TaskID: clone.TaskID,
				Target: clone.Target,
				Status: clone.Status,
				Event:  ev,
				At:     ev.At,
				Kind:   ev.Event,
				Actor:  ev.Actor,
				Reason: ev.Reason,
				Fields: ev.Fields,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At != out[j].At {
			return out[i].At > out[j].At
		}
		return out[i].TaskID < out[j].TaskID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortedByCreation orders a record set by CreatedAt then TaskID.
func SortedByCreation(records map[string]swarm.TaskRecord) []swarm.TaskRecord {
	out := make([]swarm.TaskRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

func cloneSet(records map[string]swarm.TaskRecord) map[string]swarm.TaskRecord {
	out := make(map[string]swarm.TaskRecord, len(records))
	for id, r := range records {
		out[id] = r.Clone()
	}
	return out
}
