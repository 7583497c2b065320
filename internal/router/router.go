// Package router picks the best agent for a task from the latest
// heartbeat per agent. It is pure: no clocks, no I/O, no globals. The
// caller supplies the heartbeats and the current time, and identical
// inputs always produce identical decisions.
package router

import (
	"sort"

	"github.com/basket/swarmctl/internal/swarm"
)

// Ineligibility reasons reported per excluded agent.
const (
	ReasonOffline           = "offline"
	ReasonMissingCapability = "missing_capability"
	ReasonInvalidHeartbeat  = "invalid_heartbeat"
	ReasonStaleHeartbeat    = "stale_heartbeat"
	ReasonNoAgents          = "no_agents"
	ReasonNoEligibleAgents  = "no_eligible_agents"
)

// Weights tune the scoring formula. Penalties subtract from a base of
// 1.0; the benchmark adjustment may add or subtract.
type Weights struct {
	Load            float64
	FailureRate     float64
	TimeoutRate     float64
	SuccessGap      float64
	Staleness       float64
	BenchBonus      float64
	LatencyPen      float64
	P95Pen          float64
	MaxStalenessMs  int64
	MaxFutureSkewMs int64
	// Benchmark fields are ignored below this sample count.
	MinBenchmarkSamples int
}

// DefaultWeights is the tuning used in production.
func DefaultWeights() Weights {
	return Weights{
		Load:                0.45,
		FailureRate:         0.30,
		TimeoutRate:         0.20,
		SuccessGap:          0.10,
		Staleness:           0.15,
		BenchBonus:          0.05,
		LatencyPen:          0.05,
		P95Pen:              0.02,
		MaxStalenessMs:      120_000,
		MaxFutureSkewMs:     30_000,
		MinBenchmarkSamples: 5,
	}
}

// RankedAgent is one agent's routing evaluation. Each scoring component
// is surfaced so routing decisions can be explained and tested.
type RankedAgent struct {
	AgentID             string  `json:"agentId"`
	Eligible            bool    `json:"eligible"`
	Reason              string  `json:"reason,omitempty"`
	Score               float64 `json:"score"`
	LoadPenalty         float64 `json:"loadPenalty"`
	ReliabilityPenalty  float64 `json:"reliabilityPenalty"`
	StalenessPenalty    float64 `json:"stalenessPenalty"`
	BenchmarkAdjustment float64 `json:"benchmarkAdjustment"`
}

// Selection pairs the winning agent with the full ranking.
type Selection struct {
	SelectedAgentID string        `json:"selectedAgentId"`
	Ranked          []RankedAgent `json:"ranked"`
}

// RouteResult is the outcome of a routing pass. Routed false with an
// empty SelectedAgentID means no capacity; that is an answer, not an
// error.
type RouteResult struct {
	Routed          bool          `json:"routed"`
	SelectedAgentID string        `json:"selectedAgentId,omitempty"`
	Score           float64       `json:"score,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Ranked          []RankedAgent `json:"ranked,omitempty"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// optRate dereferences an optional heartbeat rate, defaulting when the
// agent did not report it.
func optRate(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// eligibility returns "" when the agent may receive the task.
func eligibility(hb swarm.AgentHeartbeat, required []string, nowMs int64, w Weights) string {
	if hb.Status == swarm.AgentOffline {
		return ReasonOffline
	}
	for _, cap := range required {
		if !hb.HasCapability(cap) {
			return ReasonMissingCapability
		}
	}
	ts, present, numeric := hb.TimestampMs()
	if !present {
		// Unknown freshness is scored, not excluded.
		return ""
	}
	if !numeric {
		return ReasonInvalidHeartbeat
	}
	if ts-nowMs > w.MaxFutureSkewMs {
		return ReasonInvalidHeartbeat
	}
	if nowMs-ts > w.MaxStalenessMs {
		return ReasonStaleHeartbeat
	}
	return ""
}

func evaluate(hb swarm.AgentHeartbeat, nowMs int64, w Weights) RankedAgent {
	r := RankedAgent{AgentID: hb.ID, Eligible: true}

	r.LoadPenalty = w.Load * clamp01(hb.Load)

	failure, timeout, success := 0.0, 0.0, 1.0
	if hb.Benchmark != nil && hb.Benchmark.Samples >= w.MinBenchmarkSamples {
		failure = hb.Benchmark.FailureRate
		timeout = hb.Benchmark.TimeoutRate
		success = hb.Benchmark.SuccessRate
	}
	failure = optRate(hb.FailureRate, failure)
	timeout = optRate(hb.TimeoutRate, timeout)
	success = optRate(hb.SuccessRate, success)
	r.ReliabilityPenalty = w.FailureRate*clamp01(failure) +
		w.TimeoutRate*clamp01(timeout) +
		w.SuccessGap*clamp01(1-success)

	ts, present, numeric := hb.TimestampMs()
	if present && numeric {
		age := nowMs - ts
		if age < 0 {
			age = 0
		}
		r.StalenessPenalty = w.Staleness * clamp01(float64(age)/float64(w.MaxStalenessMs))
	} else {
		// No timestamp: reachable, but freshness is unknowable. Half
		// the full penalty, so fresh beats unknown beats stale.
		r.StalenessPenalty = w.Staleness * 0.5
	}

	if hb.Benchmark != nil && hb.Benchmark.Samples >= w.MinBenchmarkSamples {
		r.BenchmarkAdjustment = w.BenchBonus*clamp01(hb.Benchmark.SuccessRate) -
			w.LatencyPen*clamp01(hb.Benchmark.AvgLatencyMs/5000) -
			w.P95Pen*clamp01(hb.Benchmark.P95LatencyMs/10000)
	}

	r.Score = 1.0 - r.LoadPenalty - r.ReliabilityPenalty - r.StalenessPenalty + r.BenchmarkAdjustment
	return r
}

// Rank evaluates every heartbeat and returns the agents sorted best
// first, eligible before ineligible. Ties break on ascending agent id
// so the ranking is total and reproducible.
func Rank(req swarm.TaskRequest, heartbeats []swarm.AgentHeartbeat, nowMs int64, w Weights) []RankedAgent {
	required := req.RequiredCapabilities()
	ranked := make([]RankedAgent, 0, len(heartbeats))
	for _, hb := range heartbeats {
		if reason := eligibility(hb, required, nowMs, w); reason != "" {
			ranked = append(ranked, RankedAgent{AgentID: hb.ID, Reason: reason})
			continue
		}
		ranked = append(ranked, evaluate(hb, nowMs, w))
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Eligible != ranked[j].Eligible {
			return ranked[i].Eligible
		}
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].AgentID < ranked[j].AgentID
	})
	return ranked
}

// SelectBest ranks the agents and names the winner. SelectedAgentID is
// empty when nothing is eligible.
func SelectBest(req swarm.TaskRequest, heartbeats []swarm.AgentHeartbeat, nowMs int64, w Weights) Selection {
	ranked := Rank(req, heartbeats, nowMs, w)
	sel := Selection{Ranked: ranked}
	if len(ranked) > 0 && ranked[0].Eligible {
		sel.SelectedAgentID = ranked[0].AgentID
	}
	return sel
}

// Route picks the best eligible agent for the request.
func Route(req swarm.TaskRequest, heartbeats []swarm.AgentHeartbeat, nowMs int64, w Weights) RouteResult {
	if len(heartbeats) == 0 {
		return RouteResult{Routed: false, Reason: ReasonNoAgents}
	}
	sel := SelectBest(req, heartbeats, nowMs, w)
	if sel.SelectedAgentID == "" {
		return RouteResult{Routed: false, Reason: ReasonNoEligibleAgents, Ranked: sel.Ranked}
	}
	return RouteResult{
		Routed:          true,
		SelectedAgentID: sel.SelectedAgentID,
		Score:           sel.Ranked[0].Score,
		Ranked:          sel.Ranked,
	}
}
