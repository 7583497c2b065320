package swarm

import (
	"encoding/json"
	"testing"
)

func TestEvent_JSONFlattensFields(t *testing.T) {
	ev := Event{
		At:     1700000000000,
		Event:  "operator_reroute",
		Actor:  "ops:alice",
		Reason: "agent overloaded",
		Fields: map[string]any{"fromTarget": "agent:a", "toTarget": "agent:b"},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if obj["fromTarget"] != "agent:a" {
		t.Fatalf("fromTarget = %v, want agent:a", obj["fromTarget"])
	}
	if obj["event"] != "operator_reroute" {
		t.Fatalf("event = %v, want operator_reroute", obj["event"])
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if back.At != ev.At || back.Event != ev.Event || back.Actor != ev.Actor || back.Reason != ev.Reason {
		t.Fatalf("core fields changed: %+v", back)
	}
	if back.Fields["toTarget"] != "agent:b" {
		t.Fatalf("toTarget = %v, want agent:b", back.Fields["toTarget"])
	}
	if _, ok := back.Fields["event"]; ok {
		t.Fatal("typed core leaked into Fields")
	}
}

func TestTaskRecord_CloneIsIndependent(t *testing.T) {
	req := NewTaskRequest("agent:p", "agent:w", "index the docs", PriorityHigh)
	req.Context = map[string]any{"requiredCapabilities": []string{"search"}}
	rec := NewTaskRecord(req)

	clone := rec.Clone()
	clone.Status = StatusDispatched
	clone.History = append(clone.History, Event{At: NowMs(), Event: "send_attempt"})
	clone.Request.Context["requiredCapabilities"] = []string{"mutated"}

	if rec.Status != StatusCreated {
		t.Fatalf("original status = %q, want created", rec.Status)
	}
	if len(rec.History) != 1 {
		t.Fatalf("original history length = %d, want 1", len(rec.History))
	}
	caps := rec.Request.RequiredCapabilities()
	if len(caps) != 1 || caps[0] != "search" {
		t.Fatalf("original context mutated: %v", caps)
	}
}

func TestRequiredCapabilities_ToleratesWireShapes(t *testing.T) {
	cases := []struct {
		name string
		ctx  map[string]any
		want int
	}{
		{"nil context", nil, 0},
		{"absent key", map[string]any{"foo": 1}, 0},
		{"string slice", map[string]any{"requiredCapabilities": []string{"a", "b"}}, 2},
		{"any slice", map[string]any{"requiredCapabilities": []any{"a", 3, "b"}}, 2},
		{"wrong type", map[string]any{"requiredCapabilities": "search"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := TaskRequest{Context: tc.ctx}
			if got := len(req.RequiredCapabilities()); got != tc.want {
				t.Fatalf("len = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHeartbeat_TimestampClassification(t *testing.T) {
	cases := []struct {
		name    string
		ts      any
		present bool
		numeric bool
	}{
		{"absent", nil, false, false},
		{"float64 from JSON", float64(1700000000000), true, true},
		{"int64", int64(1700000000000), true, true},
		{"string", "yesterday", true, false},
		{"bool", true, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hb := AgentHeartbeat{ID: "agent:x", Timestamp: tc.ts}
			_, present, numeric := hb.TimestampMs()
			if present != tc.present || numeric != tc.numeric {
				t.Fatalf("present=%v numeric=%v, want %v/%v", present, numeric, tc.present, tc.numeric)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	terminal := []TaskStatus{StatusCompleted, StatusPartial, StatusFailed, StatusRejected, StatusTimedOut, StatusTransportError}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%q should be terminal", s)
		}
	}
	open := []TaskStatus{StatusCreated, StatusAwaitingApproval, StatusDispatched, StatusAcknowledged, StatusRetryScheduled, StatusPausedDrain}
	for _, s := range open {
		if s.IsTerminal() {
			t.Fatalf("%q should not be terminal", s)
		}
	}
}

func TestParsePriority_Defaults(t *testing.T) {
	if got := ParsePriority("critical"); got != PriorityCritical {
		t.Fatalf("got %q, want critical", got)
	}
	if got := ParsePriority("urgent-ish"); got != PriorityNormal {
		t.Fatalf("got %q, want normal", got)
	}
}
