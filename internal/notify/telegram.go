// Package notify pushes operator-relevant events to Telegram. It is
// outbound only: drains, overrides, unroutable tasks, and broken audit
// chains become messages to the allowed chat ids.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/swarmctl/internal/bus"
)

// Notifier forwards bus events to Telegram chats.
type Notifier struct {
	token      string
	allowedIDs []int64
	eventBus   *bus.Bus
	logger     *slog.Logger

	// send is swapped out in tests.
	send func(chatID int64, text string) error
}

func NewNotifier(token string, allowedIDs []int64, eventBus *bus.Bus, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		token:      token,
		allowedIDs: allowedIDs,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// Start connects the bot and forwards events until ctx is done.
func (n *Notifier) Start(ctx context.Context) error {
	if n.send == nil {
		bot, err := tgbotapi.NewBotAPI(n.token)
		if err != nil {
			return fmt.Errorf("telegram init failed: %w", err)
		}
		n.logger.Info("telegram notifier started", "user", bot.Self.UserName)
		n.send = func(chatID int64, text string) error {
			msg := tgbotapi.NewMessage(chatID, text)
			_, err := bot.Send(msg)
			return err
		}
	}

	subs := []*bus.Subscription{
		n.eventBus.Subscribe("operator."),
		n.eventBus.Subscribe("audit."),
		n.eventBus.Subscribe(bus.TopicTaskUnroutable),
	}
	defer func() {
		for _, sub := range subs {
			n.eventBus.Unsubscribe(sub)
		}
	}()

	merged := make(chan bus.Event, 64)
	for _, sub := range subs {
		go func(sub *bus.Subscription) {
			for ev := range sub.Ch() {
				select {
				case merged <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-merged:
			text := Format(ev)
			if text == "" {
				continue
			}
			n.broadcast(text)
		}
	}
}

func (n *Notifier) broadcast(text string) {
	for _, chatID := range n.allowedIDs {
		if err := n.send(chatID, text); err != nil {
			n.logger.Warn("telegram send failed", "chat_id", chatID, "error", err)
		}
	}
}

// Format renders one bus event as a notification line. Unknown payloads
// render empty and are skipped.
func Format(ev bus.Event) string {
	switch payload := ev.Payload.(type) {
	case bus.OperatorActionEvent:
		switch payload.Action {
		case "drain":
			return fmt.Sprintf("⚠️ drain of %s by %s: %d task(s) paused", payload.Target, payload.Actor, payload.Updated)
		case "reroute":
			return fmt.Sprintf("↪️ task %s rerouted to %s by %s", payload.TaskID, payload.Target, payload.Actor)
		case "override_approved":
			return fmt.Sprintf("✅ task %s approved by %s", payload.TaskID, payload.Actor)
		case "override_denied":
			return fmt.Sprintf("⛔ task %s denied by %s", payload.TaskID, payload.Actor)
		default:
			return fmt.Sprintf("operator action %s on %s by %s", payload.Action, payload.TaskID, payload.Actor)
		}
	case bus.ChainInvalidEvent:
		return fmt.Sprintf("🚨 audit chain invalid at entry %d: %s", payload.FailedIndex, payload.Reason)
	case bus.TaskUnroutableEvent:
		return fmt.Sprintf("🛑 task %s unroutable: %s", payload.TaskID, payload.Reason)
	default:
		return ""
	}
}
