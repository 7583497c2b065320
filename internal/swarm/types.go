// Package swarm holds the data model shared by the router, lifecycle
// engine, stores and gateway: task requests, agent heartbeats, durable
// task records and signed audit entries.
//
// All timestamps are epoch milliseconds (int64) so records round-trip
// unchanged against the JSON the agents put on the wire.
package swarm

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders task requests for routing and approval gating.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority maps a wire string to a Priority, defaulting to normal.
func ParsePriority(raw string) Priority {
	switch Priority(raw) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return Priority(raw)
	default:
		return PriorityNormal
	}
}

// TaskRequest is the immutable request envelope built once by a producer.
// Context is an open map; the engine only inspects requiredCapabilities.
type TaskRequest struct {
	ID          string         `json:"id"`
	From        string         `json:"from"`
	Target      string         `json:"target"`
	Priority    Priority       `json:"priority"`
	Task        string         `json:"task"`
	Context     map[string]any `json:"context,omitempty"`
	Constraints []string       `json:"constraints,omitempty"`
	CreatedAt   int64          `json:"createdAt"`
}

// NewTaskRequest builds a request envelope with a fresh ID and timestamp.
func NewTaskRequest(from, target, task string, priority Priority) TaskRequest {
	return TaskRequest{
		ID:        uuid.NewString(),
		From:      from,
		Target:    target,
		Priority:  priority,
		Task:      task,
		CreatedAt: NowMs(),
	}
}

// RequiredCapabilities reads context.requiredCapabilities tolerantly:
// producers send either a []string or a JSON array of arbitrary values.
// Non-string entries are ignored.
func (r TaskRequest) RequiredCapabilities() []string {
	if r.Context == nil {
		return nil
	}
	raw, ok := r.Context["requiredCapabilities"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// NowMs returns the current time in epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
