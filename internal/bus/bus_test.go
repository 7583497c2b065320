package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicTaskRouted)
	defer b.Unsubscribe(sub)

	b.Publish(TopicTaskRouted, TaskRoutedEvent{TaskID: "t1", AgentID: "agent:a"})

	select {
	case ev := <-sub.Ch():
		payload, ok := ev.Payload.(TaskRoutedEvent)
		if !ok {
			t.Fatalf("payload type %T", ev.Payload)
		}
		if payload.TaskID != "t1" || payload.AgentID != "agent:a" {
			t.Fatalf("payload = %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPrefixMatching(t *testing.T) {
	b := New()
	operator := b.Subscribe("operator.")
	all := b.Subscribe("")
	defer b.Unsubscribe(operator)
	defer b.Unsubscribe(all)

	b.Publish(TopicOperatorDrain, OperatorActionEvent{Action: "drain", Target: "agent:a"})
	b.Publish(TopicTaskUnroutable, TaskUnroutableEvent{TaskID: "t1"})

	select {
	case ev := <-operator.Ch():
		if ev.Topic != TopicOperatorDrain {
			t.Fatalf("topic = %q, want %q", ev.Topic, TopicOperatorDrain)
		}
	case <-time.After(time.Second):
		t.Fatal("operator event not delivered")
	}
	select {
	case ev := <-operator.Ch():
		t.Fatalf("unexpected second event on operator sub: %q", ev.Topic)
	default:
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all.Ch():
		case <-time.After(time.Second):
			t.Fatalf("catch-all missed event %d", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch(); ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", b.SubscriberCount())
	}
	// Double unsubscribe is harmless.
	b.Unsubscribe(sub)
}

func TestSlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize+10; i++ {
			b.Publish(TopicTaskRouted, TaskRoutedEvent{TaskID: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow consumer")
	}
}
