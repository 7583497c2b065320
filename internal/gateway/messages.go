package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/basket/swarmctl/internal/bus"
	"github.com/basket/swarmctl/internal/handshake"
	"github.com/basket/swarmctl/internal/swarm"
)

// Wire message kinds agents send.
const (
	kindHandshakeRequest = "handshake_request"
	kindHeartbeat        = "heartbeat"
	kindTaskRequest      = "task_request"
	kindTaskAck          = "task_ack"
	kindTaskResult       = "task_result"
)

type heartbeatMsg struct {
	Kind string `json:"kind"`
	swarm.AgentHeartbeat
}

type taskRequestMsg struct {
	Kind    string            `json:"kind"`
	Request swarm.TaskRequest `json:"request"`
}

type taskAckMsg struct {
	Kind    string `json:"kind"`
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
}

type taskResultMsg struct {
	Kind   string         `json:"kind"`
	TaskID string         `json:"taskId"`
	Status string         `json:"status"`
	Fields map[string]any `json:"fields,omitempty"`
}

type errorMsg struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func wsError(detail string) *errorMsg {
	return &errorMsg{Kind: "error", Detail: detail}
}

// handleMessage interprets one inbound envelope and returns the reply
// to write, or nil for fire-and-forget messages.
func (s *Server) handleMessage(ctx context.Context, c *client, raw json.RawMessage) any {
	var peek struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return wsError("malformed message")
	}

	switch peek.Kind {
	case kindHandshakeRequest:
		return s.handleHandshake(ctx, c, raw)
	case kindHeartbeat:
		return s.handleHeartbeat(c, raw)
	case kindTaskRequest:
		return s.handleTaskRequest(c, raw)
	case kindTaskAck:
		return s.handleTaskAck(c, raw)
	case kindTaskResult:
		return s.handleTaskResult(c, raw)
	default:
		return wsError("unknown message kind " + peek.Kind)
	}
}

func (s *Server) handleHandshake(ctx context.Context, c *client, raw json.RawMessage) any {
	started := time.Now()
	var req handshake.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return wsError("malformed handshake request")
	}

	resp := handshake.Answer(s.cfg.DaemonID, &req, s.cfg.Handshake)
	if resp.Accepted {
		c.handshaken = true
		c.agentID = req.From
	}

	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(bus.TopicHandshakeCompleted, bus.HandshakeCompletedEvent{
			HandshakeID: req.ID,
			From:        req.From,
			Accepted:    resp.Accepted,
			Protocol:    resp.Protocol,
		})
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.HandshakeDuration.Record(ctx, time.Since(started).Seconds())
		if !resp.Accepted {
			s.cfg.Metrics.HandshakeFailures.Add(ctx, 1)
		}
	}
	s.cfg.Logger.Info("handshake answered",
		"handshake_id", req.ID,
		"from", req.From,
		"accepted", resp.Accepted,
		"protocol", resp.Protocol,
		"reason", resp.Reason)
	return resp
}

func (s *Server) handleHeartbeat(c *client, raw json.RawMessage) any {
	if !c.handshaken {
		return wsError("handshake required")
	}
	var msg heartbeatMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wsError("malformed heartbeat")
	}
	if !s.cfg.Roster.Update(msg.AgentHeartbeat) {
		return wsError("heartbeat missing agent id")
	}
	s.cfg.Logger.Debug("heartbeat",
		"agent_id", msg.ID, "status", string(msg.Status), "load", msg.Load)
	return map[string]any{"kind": "heartbeat_ack", "agentId": msg.ID}
}

func (s *Server) handleTaskRequest(c *client, raw json.RawMessage) any {
	if !c.handshaken {
		return wsError("handshake required")
	}
	var msg taskRequestMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wsError("malformed task request")
	}
	req := msg.Request
	if req.ID == "" {
		req = swarm.NewTaskRequest(c.agentID, req.Target, req.Task, req.Priority)
		req.Context = msg.Request.Context
		req.Constraints = msg.Request.Constraints
	}
	if req.From == "" {
		req.From = c.agentID
	}

	rec, res, err := s.cfg.Manager.Submit(req, s.cfg.Roster.Snapshot())
	if err != nil {
		return wsError(err.Error())
	}
	switch {
	case rec.Status == swarm.StatusAwaitingApproval:
		return map[string]any{"kind": "task_pending_approval", "taskId": rec.TaskID}
	case res.Routed:
		return map[string]any{
			"kind":    "task_routed",
			"taskId":  rec.TaskID,
			"agentId": res.SelectedAgentID,
			"score":   res.Score,
		}
	default:
		return map[string]any{
			"kind":   "task_unroutable",
			"taskId": rec.TaskID,
			"reason": res.Reason,
		}
	}
}

func (s *Server) handleTaskAck(c *client, raw json.RawMessage) any {
	if !c.handshaken {
		return wsError("handshake required")
	}
	var msg taskAckMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wsError("malformed ack")
	}
	agentID := msg.AgentID
	if agentID == "" {
		agentID = c.agentID
	}
	rec, err := s.cfg.Manager.Acknowledge(msg.TaskID, agentID)
	if err != nil {
		return wsError(err.Error())
	}
	return map[string]any{"kind": "task_update", "taskId": rec.TaskID, "status": string(rec.Status)}
}

func (s *Server) handleTaskResult(c *client, raw json.RawMessage) any {
	if !c.handshaken {
		return wsError("handshake required")
	}
	var msg taskResultMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wsError("malformed result")
	}
	outcome := swarm.TaskStatus(msg.Status)
	switch outcome {
	case swarm.StatusCompleted, swarm.StatusPartial, swarm.StatusFailed:
	default:
		return wsError("result status must be completed, partial, or failed")
	}
	rec, err := s.cfg.Manager.Complete(msg.TaskID, outcome, msg.Fields)
	if err != nil {
		return wsError(err.Error())
	}
	return map[string]any{"kind": "task_update", "taskId": rec.TaskID, "status": string(rec.Status)}
}
