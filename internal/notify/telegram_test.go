package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basket/swarmctl/internal/bus"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		name string
		ev   bus.Event
		want string
	}{
		{
			"drain",
			bus.Event{Payload: bus.OperatorActionEvent{Action: "drain", Target: "agent:a", Actor: "ops", Updated: 3}},
			"drain of agent:a",
		},
		{
			"reroute",
			bus.Event{Payload: bus.OperatorActionEvent{Action: "reroute", TaskID: "t1", Target: "agent:b", Actor: "ops"}},
			"task t1 rerouted to agent:b",
		},
		{
			"chain invalid",
			bus.Event{Payload: bus.ChainInvalidEvent{FailedIndex: 2, Reason: "bad_signature"}},
			"audit chain invalid at entry 2",
		},
		{
			"unroutable",
			bus.Event{Payload: bus.TaskUnroutableEvent{TaskID: "t1", Reason: "no_eligible_agents"}},
			"task t1 unroutable",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Format(tc.ev)
			if !strings.Contains(got, tc.want) {
				t.Fatalf("Format = %q, want substring %q", got, tc.want)
			}
		})
	}

	if got := Format(bus.Event{Payload: 42}); got != "" {
		t.Fatalf("unknown payload rendered %q", got)
	}
}

func TestNotifierForwardsBusEvents(t *testing.T) {
	b := bus.New()
	n := NewNotifier("", []int64{42, 43}, b, nil)

	var mu sync.Mutex
	var sent []string
	n.send = func(chatID int64, text string) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, text)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- n.Start(ctx) }()

	// Let the subscriptions land before publishing.
	deadline := time.Now().Add(time.Second)
	for b.SubscriberCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("notifier never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	b.Publish(bus.TopicOperatorDrain, bus.OperatorActionEvent{Action: "drain", Target: "agent:a", Actor: "ops", Updated: 1})

	deadline = time.Now().Add(time.Second)
	for {
		mu.Lock()
		count := len(sent)
		mu.Unlock()
		if count >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sent %d messages, want 2 (one per chat id)", count)
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop")
	}
}
