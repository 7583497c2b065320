package swarm

import (
	"encoding/json"
	"maps"
)

// TaskStatus is the lifecycle state of a durable task record.
type TaskStatus string

const (
	StatusCreated          TaskStatus = "created"
	StatusAwaitingApproval TaskStatus = "awaiting_approval"
	StatusDispatched       TaskStatus = "dispatched"
	StatusAcknowledged     TaskStatus = "acknowledged"
	StatusRetryScheduled   TaskStatus = "retry_scheduled"
	StatusPausedDrain      TaskStatus = "paused_drain"

	StatusCompleted      TaskStatus = "completed"
	StatusPartial        TaskStatus = "partial"
	StatusFailed         TaskStatus = "failed"
	StatusRejected       TaskStatus = "rejected"
	StatusTimedOut       TaskStatus = "timed_out"
	StatusTransportError TaskStatus = "transport_error"
)

var terminalStatuses = map[TaskStatus]bool{
	StatusCompleted:      true,
	StatusPartial:        true,
	StatusFailed:         true,
	StatusRejected:       true,
	StatusTimedOut:       true,
	StatusTransportError: true,
}

// IsTerminal reports whether s permits no further lifecycle mutation.
func (s TaskStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// ApprovalStatus is the review outcome recorded on a task record.
type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// Approval records an operator's review decision.
type Approval struct {
	Status       ApprovalStatus `json:"status"`
	ReviewedAt   int64          `json:"reviewedAt"`
	Reviewer     string         `json:"reviewer,omitempty"`
	ReviewReason string         `json:"reviewReason,omitempty"`
}

// Event is one append-only history entry. Fields carries any
// event-specific keys beyond the typed core and is flattened into the
// JSON object, so arbitrary caller data round-trips.
type Event struct {
	At     int64
	Event  string
	Actor  string
	Reason string
	Fields map[string]any
}

// MarshalJSON flattens Fields into the event object.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Fields)+4)
	maps.Copy(obj, e.Fields)
	obj["at"] = e.At
	obj["event"] = e.Event
	if e.Actor != "" {
		obj["actor"] = e.Actor
	}
	if e.Reason != "" {
		obj["reason"] = e.Reason
	}
	return json.Marshal(obj)
}

// UnmarshalJSON pulls the typed core out of the object and keeps the
// remaining keys in Fields.
func (e *Event) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if v, ok := obj["at"].(float64); ok {
		e.At = int64(v)
	}
	if v, ok := obj["event"].(string); ok {
		e.Event = v
	}
	if v, ok := obj["actor"].(string); ok {
		e.Actor = v
	}
	if v, ok := obj["reason"].(string); ok {
		e.Reason = v
	}
	delete(obj, "at")
	delete(obj, "event")
	delete(obj, "actor")
	delete(obj, "reason")
	if len(obj) > 0 {
		e.Fields = obj
	} else {
		e.Fields = nil
	}
	return nil
}

// TaskRecord is the durable, mutable unit of work. History is append-only
// and chronological; once Status is terminal the record is frozen except
// for reads and replay.
type TaskRecord struct {
	TaskID      string      `json:"taskId"`
	Status      TaskStatus  `json:"status"`
	Target      string      `json:"target"`
	Request     TaskRequest `json:"request"`
	Attempts    int         `json:"attempts"`
	CreatedAt   int64       `json:"createdAt"`
	UpdatedAt   int64       `json:"updatedAt"`
	ClosedAt    int64       `json:"closedAt,omitempty"`
	NextRetryAt int64       `json:"nextRetryAt,omitempty"`
	DeadlineAt  int64       `json:"deadlineAt,omitempty"`
	Approval    *Approval   `json:"approval,omitempty"`
	History     []Event     `json:"history"`
}

// NewTaskRecord packages a request for dispatch. The record starts in
// StatusCreated with a creation event in its history.
func NewTaskRecord(req TaskRequest) TaskRecord {
	now := NowMs()
	return TaskRecord{
		TaskID:    req.ID,
		Status:    StatusCreated,
		Target:    req.Target,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
		History: []Event{{
			At:    now,
			Event: "task_created",
		}},
	}
}

// Clone returns a deep copy. Lifecycle operations mutate clones and
// return them, never the caller's record.
func (r TaskRecord) Clone() TaskRecord {
	out := r
	if r.Request.Context != nil {
		out.Request.Context = maps.Clone(r.Request.Context)
	}
	if r.Request.Constraints != nil {
		out.Request.Constraints = append([]string(nil), r.Request.Constraints...)
	}
	if r.Approval != nil {
		approval := *r.Approval
		out.Approval = &approval
	}
	if r.History != nil {
		out.History = make([]Event, len(r.History))
		copy(out.History, r.History)
		for i := range out.History {
			if out.History[i].Fields != nil {
				out.History[i].Fields = maps.Clone(out.History[i].Fields)
			}
		}
	}
	return out
}

// CloneRecords deep-copies a record set.
func CloneRecords(records []TaskRecord) []TaskRecord {
	out := make([]TaskRecord, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}
	return out
}
