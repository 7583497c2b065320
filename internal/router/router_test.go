package router

import (
	"testing"

	"github.com/basket/swarmctl/internal/swarm"
)

const nowMs = int64(1_700_000_000_000)

func f(v float64) *float64 { return &v }

func idleAgent(id string, load float64) swarm.AgentHeartbeat {
	return swarm.AgentHeartbeat{
		ID:        id,
		Status:    swarm.AgentIdle,
		Load:      load,
		Timestamp: nowMs,
	}
}

func request(caps ...string) swarm.TaskRequest {
	req := swarm.NewTaskRequest("agent:planner", "", "route me", swarm.PriorityNormal)
	if len(caps) > 0 {
		req.Context = map[string]any{"requiredCapabilities": caps}
	}
	return req
}

func score(t *testing.T, hb swarm.AgentHeartbeat) float64 {
	t.Helper()
	r := evaluate(hb, nowMs, DefaultWeights())
	return r.Score
}

func TestRoute_NoAgents(t *testing.T) {
	res := Route(request(), nil, nowMs, DefaultWeights())
	if res.Routed {
		t.Fatal("routed with no agents")
	}
	if res.Reason != ReasonNoAgents {
		t.Fatalf("reason = %q, want %q", res.Reason, ReasonNoAgents)
	}
}

func TestRoute_PrefersLowerLoad(t *testing.T) {
	hbs := []swarm.AgentHeartbeat{
		idleAgent("agent:busy", 0.9),
		idleAgent("agent:calm", 0.1),
	}
	res := Route(request(), hbs, nowMs, DefaultWeights())
	if !res.Routed || res.SelectedAgentID != "agent:calm" {
		t.Fatalf("result = %+v, want agent:calm", res)
	}
}

func TestRoute_TieBreaksOnAgentID(t *testing.T) {
	hbs := []swarm.AgentHeartbeat{
		idleAgent("agent:zeta", 0.5),
		idleAgent("agent:alpha", 0.5),
	}
	res := Route(request(), hbs, nowMs, DefaultWeights())
	if res.SelectedAgentID != "agent:alpha" {
		t.Fatalf("tie broke to %q, want agent:alpha", res.SelectedAgentID)
	}
}

func TestRoute_OfflineExcluded(t *testing.T) {
	offline := idleAgent("agent:gone", 0.0)
	offline.Status = swarm.AgentOffline
	hbs := []swarm.AgentHeartbeat{offline, idleAgent("agent:up", 0.8)}

	res := Route(request(), hbs, nowMs, DefaultWeights())
	if res.SelectedAgentID != "agent:up" {
		t.Fatalf("routed to %q, want agent:up", res.SelectedAgentID)
	}
	for _, r := range res.Ranked {
		if r.AgentID == "agent:gone" {
			if r.Eligible || r.Reason != ReasonOffline {
				t.Fatalf("offline entry = %+v", r)
			}
		}
	}
}

func TestRoute_CapabilityGate(t *testing.T) {
	capable := idleAgent("agent:search", 0.7)
	capable.Capabilities = []string{"search", "summarize"}
	incapable := idleAgent("agent:plain", 0.1)

	res := Route(request("search"), []swarm.AgentHeartbeat{capable, incapable}, nowMs, DefaultWeights())
	if !res.Routed || res.SelectedAgentID != "agent:search" {
		t.Fatalf("result = %+v, want agent:search", res)
	}
}

func TestRoute_AllIneligibleIsNotAnError(t *testing.T) {
	offline := idleAgent("agent:gone", 0.0)
	offline.Status = swarm.AgentOffline

	res := Route(request(), []swarm.AgentHeartbeat{offline}, nowMs, DefaultWeights())
	if res.Routed || res.SelectedAgentID != "" {
		t.Fatalf("result = %+v, want unrouted", res)
	}
	if res.Reason != ReasonNoEligibleAgents {
		t.Fatalf("reason = %q, want %q", res.Reason, ReasonNoEligibleAgents)
	}
}

func TestRoute_StaleHeartbeatExcluded(t *testing.T) {
	w := DefaultWeights()
	stale := idleAgent("agent:stale", 0.1)
	stale.Timestamp = nowMs - w.MaxStalenessMs - 1
	fresh := idleAgent("agent:fresh", 0.9)

	res := Route(request(), []swarm.AgentHeartbeat{stale, fresh}, nowMs, w)
	if res.SelectedAgentID != "agent:fresh" {
		t.Fatalf("routed to %q, want agent:fresh", res.SelectedAgentID)
	}
	ranked := Rank(request(), []swarm.AgentHeartbeat{stale}, nowMs, w)
	if ranked[0].Eligible || ranked[0].Reason != ReasonStaleHeartbeat {
		t.Fatalf("stale entry = %+v", ranked[0])
	}
}

func TestRank_InvalidTimestamps(t *testing.T) {
	w := DefaultWeights()
	cases := []struct {
		name string
		ts   any
	}{
		{"non-numeric", "last tuesday"},
		{"future skew", nowMs + w.MaxFutureSkewMs + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hb := idleAgent("agent:odd", 0.1)
			hb.Timestamp = tc.ts
			ranked := Rank(request(), []swarm.AgentHeartbeat{hb}, nowMs, w)
			if ranked[0].Eligible || ranked[0].Reason != ReasonInvalidHeartbeat {
				t.Fatalf("entry = %+v, want invalid_heartbeat", ranked[0])
			}
		})
	}
}

func TestRank_AbsentTimestampStaysEligible(t *testing.T) {
	w := DefaultWeights()
	unknown := swarm.AgentHeartbeat{ID: "agent:quiet", Status: swarm.AgentIdle}
	ranked := Rank(request(), []swarm.AgentHeartbeat{unknown}, nowMs, w)
	if !ranked[0].Eligible {
		t.Fatalf("entry = %+v, want eligible", ranked[0])
	}
	if want := w.Staleness * 0.5; ranked[0].StalenessPenalty != want {
		t.Fatalf("staleness penalty = %v, want %v", ranked[0].StalenessPenalty, want)
	}
}

func TestScore_FresherBeatsStaler(t *testing.T) {
	w := DefaultWeights()
	fresh := idleAgent("agent:a", 0.5)
	staler := idleAgent("agent:a", 0.5)
	staler.Timestamp = nowMs - w.MaxStalenessMs/2

	if score(t, staler) >= score(t, fresh) {
		t.Fatal("staler heartbeat should score below fresher one")
	}
}

func TestScore_FailureRatesPenalize(t *testing.T) {
	clean := idleAgent("agent:a", 0.5)
	flaky := idleAgent("agent:a", 0.5)
	flaky.FailureRate = f(0.5)
	flaky.TimeoutRate = f(0.3)
	flaky.SuccessRate = f(0.6)

	if score(t, flaky) >= score(t, clean) {
		t.Fatal("flaky agent should score below clean agent")
	}
}

func TestScore_BenchmarkRequiresSamples(t *testing.T) {
	w := DefaultWeights()
	base := idleAgent("agent:a", 0.5)

	thin := base
	thin.Benchmark = &swarm.Benchmark{Samples: w.MinBenchmarkSamples - 1, SuccessRate: 1.0}
	if score(t, thin) != score(t, base) {
		t.Fatal("benchmark below sample floor should be ignored")
	}

	proven := base
	proven.Benchmark = &swarm.Benchmark{Samples: w.MinBenchmarkSamples, SuccessRate: 1.0}
	if score(t, proven) <= score(t, base) {
		t.Fatal("strong benchmark should raise the score")
	}
}

func TestRank_SurfacesComponents(t *testing.T) {
	hb := idleAgent("agent:a", 0.4)
	hb.FailureRate = f(0.2)
	hb.Benchmark = &swarm.Benchmark{Samples: 10, SuccessRate: 0.9, AvgLatencyMs: 1000, P95LatencyMs: 2500}

	ranked := Rank(request(), []swarm.AgentHeartbeat{hb}, nowMs, DefaultWeights())
	r := ranked[0]
	if r.LoadPenalty <= 0 || r.ReliabilityPenalty <= 0 || r.BenchmarkAdjustment == 0 {
		t.Fatalf("components not surfaced: %+v", r)
	}
	got := 1.0 - r.LoadPenalty - r.ReliabilityPenalty - r.StalenessPenalty + r.BenchmarkAdjustment
	if diff := got - r.Score; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("score %v does not decompose into components (%v)", r.Score, got)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	hbs := []swarm.AgentHeartbeat{
		idleAgent("agent:a", 0.3),
		idleAgent("agent:b", 0.6),
		idleAgent("agent:c", 0.2),
	}
	first := Route(request(), hbs, nowMs, DefaultWeights())
	for i := 0; i < 10; i++ {
		again := Route(request(), hbs, nowMs, DefaultWeights())
		if again.SelectedAgentID != first.SelectedAgentID || again.Score != first.Score {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestSelectBest_OrdersIneligibleLast(t *testing.T) {
	offline := idleAgent("agent:gone", 0.0)
	offline.Status = swarm.AgentOffline
	sel := SelectBest(request(), []swarm.AgentHeartbeat{offline, idleAgent("agent:up", 0.5)}, nowMs, DefaultWeights())
	if sel.SelectedAgentID != "agent:up" {
		t.Fatalf("selected %q, want agent:up", sel.SelectedAgentID)
	}
	if !sel.Ranked[0].Eligible || sel.Ranked[1].Eligible {
		t.Fatalf("ordering wrong: %+v", sel.Ranked)
	}
}
