package swarm

// AgentStatus is the liveness state an agent reports in its heartbeat.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// Benchmark carries recent performance samples for an agent. The router
// only trusts it when Samples is meaningful.
type Benchmark struct {
	Samples      int     `json:"samples"`
	SuccessRate  float64 `json:"successRate"`
	TimeoutRate  float64 `json:"timeoutRate"`
	FailureRate  float64 `json:"failureRate"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	P95LatencyMs float64 `json:"p95LatencyMs"`
}

// AgentHeartbeat is a volatile, externally supplied snapshot. It is fed
// to the router per call and never stored by it.
//
// Timestamp is deliberately untyped: agents in the wild send epoch
// millis, strings, or nothing at all, and the router has to classify
// those cases rather than fail decoding.
type AgentHeartbeat struct {
	ID           string      `json:"id"`
	Status       AgentStatus `json:"status"`
	Load         float64     `json:"load"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Timestamp    any         `json:"timestamp,omitempty"`
	Benchmark    *Benchmark  `json:"benchmark,omitempty"`
	FailureRate  *float64    `json:"failureRate,omitempty"`
	TimeoutRate  *float64    `json:"timeoutRate,omitempty"`
	SuccessRate  *float64    `json:"successRate,omitempty"`
}

// TimestampMs classifies the heartbeat timestamp. present reports whether
// any value was supplied; numeric whether it could be read as epoch
// millis. ms is only valid when both are true.
func (h AgentHeartbeat) TimestampMs() (ms int64, present, numeric bool) {
	if h.Timestamp == nil {
		return 0, false, false
	}
	switch v := h.Timestamp.(type) {
	case int64:
		return v, true, true
	case int:
		return int64(v), true, true
	case float64:
		return int64(v), true, true
	case float32:
		return int64(v), true, true
	default:
		return 0, true, false
	}
}

// HasCapability reports whether the heartbeat advertises cap.
func (h AgentHeartbeat) HasCapability(cap string) bool {
	for _, c := range h.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
