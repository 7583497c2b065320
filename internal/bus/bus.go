// Package bus is a small in-process pub/sub bus with topic prefix
// matching. The daemon publishes routing, operator, and audit events on
// it; the notifier and websocket clients subscribe.
package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload any
}

// Routing and operator topics.
const (
	TopicTaskRouted         = "task.routed"
	TopicTaskUnroutable     = "task.unroutable"
	TopicOperatorReroute    = "operator.reroute"
	TopicOperatorDrain      = "operator.drain"
	TopicOperatorOverride   = "operator.override"
	TopicAuditChainInvalid  = "audit.chain_invalid"
	TopicHandshakeCompleted = "handshake.completed"
)

// TaskRoutedEvent is published when the router assigns a task.
type TaskRoutedEvent struct {
	TaskID  string
	AgentID string
	Score   float64
}

// TaskUnroutableEvent is published when no agent was eligible.
type TaskUnroutableEvent struct {
	TaskID string
	Reason string
}

// OperatorActionEvent is published for reroute, drain, and override.
type OperatorActionEvent struct {
	Action  string // reroute, drain, override_approved, override_denied
	TaskID  string // empty for drains, which span tasks
	Target  string
	Actor   string
	Updated int // records touched
}

// ChainInvalidEvent is published when periodic re-verification finds a
// broken audit chain.
type ChainInvalidEvent struct {
	FailedIndex int
	Reason      string
}

// HandshakeCompletedEvent is published after the gateway answers a
// handshake request.
type HandshakeCompletedEvent struct {
	HandshakeID string
	From        string
	Accepted    bool
	Protocol    string
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix
// matching.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Subscribe creates a subscription for events matching the given topic
// prefix. An empty prefix matches all topics. The returned channel has
// a buffer of 100 events; slow consumers miss events (non-blocking
// send).
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers. Delivery is
// non-blocking: if a subscriber's buffer is full, the event is dropped.
func (b *Bus) Publish(topic string, payload any) {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
				// Buffer full, drop event for this subscriber.
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
