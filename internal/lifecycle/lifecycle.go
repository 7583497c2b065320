// Package lifecycle is the task state machine and the operator control
// surface over it. All operations are pure transformations over record
// sets: they validate, clone, mutate the clone, and return it. The
// caller (Store/CLI/daemon) owns load-mutate-persist sequencing.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/basket/swarmctl/internal/swarm"
)

// Precondition errors. Wrapped with task context; match with errors.Is.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTerminalStatus    = errors.New("task is in a terminal status")
	ErrWrongStatus       = errors.New("task is in the wrong status for this operation")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// History event kinds. The transition table below is keyed on these;
// an event kind not present for the current status is rejected.
const (
	EventTaskCreated       = "task_created"
	EventApprovalRequested = "approval_requested"
	EventSendAttempt       = "send_attempt"
	EventSendFailed        = "send_failed"
	EventAck               = "ack"
	EventResultCompleted   = "result_completed"
	EventResultPartial     = "result_partial"
	EventResultFailed      = "result_failed"
	EventTimeout           = "timeout"
	EventTransportError    = "transport_error"
	EventRetryScheduled    = "retry_scheduled"
	EventRequeued          = "requeued"

	EventOperatorReroute      = "operator_reroute"
	EventOperatorDrainPause   = "operator_drain_pause"
	EventOperatorDrainReroute = "operator_drain_reroute"
	EventOverrideApproved     = "operator_override_approved"
	EventOverrideDenied       = "operator_override_denied"
)

// transitions declares every legal (status, event) edge. Anything not
// listed here is rejected by Apply, so new edges have to be added
// deliberately rather than slipping in through a caller.
var transitions = map[swarm.TaskStatus]map[string]swarm.TaskStatus{
	swarm.StatusCreated: {
		EventSendAttempt:          swarm.StatusDispatched,
		EventApprovalRequested:    swarm.StatusAwaitingApproval,
		EventOperatorReroute:      swarm.StatusCreated,
		EventOperatorDrainReroute: swarm.StatusCreated,
		EventOperatorDrainPause:   swarm.StatusPausedDrain,
	},
	swarm.StatusAwaitingApproval: {
		EventOverrideApproved:     swarm.StatusCreated,
		EventOverrideDenied:       swarm.StatusRejected,
		EventOperatorReroute:      swarm.StatusCreated,
		EventOperatorDrainReroute: swarm.StatusCreated,
		EventOperatorDrainPause:   swarm.StatusPausedDrain,
	},
	swarm.StatusDispatched: {
		EventAck:                  swarm.StatusAcknowledged,
		EventSendFailed:           swarm.StatusDispatched,
		EventRetryScheduled:       swarm.StatusRetryScheduled,
		EventTimeout:              swarm.StatusTimedOut,
		EventTransportError:       swarm.StatusTransportError,
		EventOperatorReroute:      swarm.StatusCreated,
		EventOperatorDrainReroute: swarm.StatusCreated,
		EventOperatorDrainPause:   swarm.StatusPausedDrain,
	},
	swarm.StatusAcknowledged: {
		EventResultCompleted:      swarm.StatusCompleted,
		EventResultPartial:        swarm.StatusPartial,
		EventResultFailed:         swarm.StatusFailed,
		EventTimeout:              swarm.StatusTimedOut,
		EventOperatorReroute:      swarm.StatusCreated,
		EventOperatorDrainReroute: swarm.StatusCreated,
		EventOperatorDrainPause:   swarm.StatusPausedDrain,
	},
	swarm.StatusRetryScheduled: {
		EventRequeued:             swarm.StatusCreated,
		EventOperatorReroute:      swarm.StatusCreated,
		EventOperatorDrainReroute: swarm.StatusCreated,
		EventOperatorDrainPause:   swarm.StatusPausedDrain,
	},
	swarm.StatusPausedDrain: {
		EventRequeued:             swarm.StatusCreated,
		EventOperatorReroute:      swarm.StatusCreated,
		EventOperatorDrainReroute: swarm.StatusCreated,
	},
}

// Apply runs one event through the transition table and returns the
// updated record. The input record is never mutated.
func Apply(record swarm.TaskRecord, ev swarm.Event) (swarm.TaskRecord, error) {
	if record.Status.IsTerminal() {
		return swarm.TaskRecord{}, fmt.Errorf("task %s status %s: %w", record.TaskID, record.Status, ErrTerminalStatus)
	}
	next, ok := transitions[record.Status][ev.Event]
	if !ok {
		return swarm.TaskRecord{}, fmt.Errorf("task %s: %s does not accept %q: %w",
			record.TaskID, record.Status, ev.Event, ErrInvalidTransition)
	}
	if ev.At == 0 {
		ev.At = swarm.NowMs()
	}

	out := record.Clone()
	out.Status = next
	out.History = append(out.History, ev)
	out.UpdatedAt = ev.At
	if next.IsTerminal() {
		out.ClosedAt = ev.At
	}
	return out, nil
}

// CanApply reports whether the transition table has an edge for the
// event in the record's current status.
func CanApply(record swarm.TaskRecord, eventKind string) bool {
	if record.Status.IsTerminal() {
		return false
	}
	_, ok := transitions[record.Status][eventKind]
	return ok
}
