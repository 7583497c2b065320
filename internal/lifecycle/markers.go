package lifecycle

import (
	"github.com/basket/swarmctl/internal/swarm"
)

// Event-application helpers used by the daemon's dispatch loop. Each is
// a thin wrapper over Apply that fills in the bookkeeping the event
// implies (attempt counts, retry timers, deadlines).

// MarkDispatched records a delivery attempt and starts the delivery
// deadline clock.
func MarkDispatched(record swarm.TaskRecord, agentID string, deadlineAt int64) (swarm.TaskRecord, error) {
	updated, err := Apply(record, swarm.Event{
		Event:  EventSendAttempt,
		Fields: map[string]any{"agentId": agentID, "attempt": record.Attempts + 1},
	})
	if err != nil {
		return swarm.TaskRecord{}, err
	}
	updated.Attempts++
	updated.DeadlineAt = deadlineAt
	return updated, nil
}

// MarkAcknowledged records the agent's receipt.
func MarkAcknowledged(record swarm.TaskRecord, agentID string) (swarm.TaskRecord, error) {
	return Apply(record, swarm.Event{
		Event:  EventAck,
		Fields: map[string]any{"agentId": agentID},
	})
}

// RecordSendFailure notes a failed delivery attempt without deciding
// the task's fate; the caller follows up with ScheduleRetry or
// MarkTransportError.
func RecordSendFailure(record swarm.TaskRecord, detail string) (swarm.TaskRecord, error) {
	return Apply(record, swarm.Event{
		Event:  EventSendFailed,
		Reason: detail,
	})
}

// ScheduleRetry parks the task until nextRetryAt.
func ScheduleRetry(record swarm.TaskRecord, nextRetryAt int64) (swarm.TaskRecord, error) {
	updated, err := Apply(record, swarm.Event{
		Event:  EventRetryScheduled,
		Fields: map[string]any{"nextRetryAt": nextRetryAt},
	})
	if err != nil {
		return swarm.TaskRecord{}, err
	}
	updated.NextRetryAt = nextRetryAt
	return updated, nil
}

// Requeue returns a parked or drained task to created so the dispatch
// loop picks it up again.
func Requeue(record swarm.TaskRecord) (swarm.TaskRecord, error) {
	updated, err := Apply(record, swarm.Event{Event: EventRequeued})
	if err != nil {
		return swarm.TaskRecord{}, err
	}
	updated.NextRetryAt = 0
	return updated, nil
}

// RecordResult closes the task with the agent's reported outcome.
// Outcome must be completed, partial, or failed.
func RecordResult(record swarm.TaskRecord, outcome swarm.TaskStatus, fields map[string]any) (swarm.TaskRecord, error) {
	var kind string
	switch outcome {
	case swarm.StatusCompleted:
		kind = EventResultCompleted
	case swarm.StatusPartial:
		kind = EventResultPartial
	default:
		kind = EventResultFailed
	}
	return Apply(record, swarm.Event{
		Event:  kind,
		Fields: fields,
	})
}

// MarkTimedOut closes a task that blew through its deadline.
func MarkTimedOut(record swarm.TaskRecord) (swarm.TaskRecord, error) {
	return Apply(record, swarm.Event{
		Event:  EventTimeout,
		Fields: map[string]any{"deadlineAt": record.DeadlineAt},
	})
}

// MarkTransportError closes a task whose delivery can no longer be
// attempted.
func MarkTransportError(record swarm.TaskRecord, detail string) (swarm.TaskRecord, error) {
	return Apply(record, swarm.Event{
		Event:  EventTransportError,
		Reason: detail,
	})
}

// RequestApproval parks a freshly created task for operator review.
// The daemon uses this for critical-priority requests.
func RequestApproval(record swarm.TaskRecord) (swarm.TaskRecord, error) {
	return Apply(record, swarm.Event{
		Event:  EventApprovalRequested,
		Fields: map[string]any{"priority": string(record.Request.Priority)},
	})
}
