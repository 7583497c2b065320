// Package roster tracks the last heartbeat seen from each agent. The
// gateway feeds it; the router reads a snapshot when scoring.
package roster

import (
	"sync"

	"github.com/basket/swarmctl/internal/swarm"
)

// Roster is a mutex-guarded map of agent id to latest heartbeat.
type Roster struct {
	mu     sync.RWMutex
	agents map[string]swarm.AgentHeartbeat
}

func New() *Roster {
	return &Roster{
		agents: make(map[string]swarm.AgentHeartbeat),
	}
}

// Update replaces the stored heartbeat for hb.ID. Heartbeats without an
// agent id are dropped.
func (r *Roster) Update(hb swarm.AgentHeartbeat) bool {
	if hb.ID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[hb.ID] = hb
	return true
}

// Get returns the latest heartbeat for an agent.
func (r *Roster) Get(agentID string) (swarm.AgentHeartbeat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hb, ok := r.agents[agentID]
	return hb, ok
}

// Remove drops an agent from the roster.
func (r *Roster) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Snapshot returns the current heartbeats. The slice is a copy; callers
// may mutate it freely.
func (r *Roster) Snapshot() []swarm.AgentHeartbeat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]swarm.AgentHeartbeat, 0, len(r.agents))
	for _, hb := range r.agents {
		out = append(out, hb)
	}
	return out
}

// Size returns the number of tracked agents.
func (r *Roster) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Prune removes agents whose heartbeat timestamp is older than ttlMs.
// Heartbeats without a usable timestamp are kept; the router already
// penalizes them. Returns the ids removed.
func (r *Roster) Prune(nowMs, ttlMs int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, hb := range r.agents {
		ts, present, numeric := hb.TimestampMs()
		if !present || !numeric {
			continue
		}
		if nowMs-ts > ttlMs {
			delete(r.agents, id)
			removed = append(removed, id)
		}
	}
	return removed
}
