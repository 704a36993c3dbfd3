// Package notify delivers operator alerts for engine events. Alerts are
// dispatched to all configured senders (Telegram, Discord) and filtered by
// event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"coinbot/internal/config"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. It maintains a set of
// allowed event types; events outside the set are dropped. Delivery failures
// are logged, never propagated, so a flaky webhook cannot stall trading.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types; empty means all
	logger  *slog.Logger
}

// titles maps engine event types to the alert titles operators see.
var titles = map[string]string{
	"order_filled":         "Order Filled",
	"pair_halted":          "Pair Halted",
	"daily_loss_tripped":   "Daily Loss Limit Reached",
	"daily_reset":          "Daily Reset",
	"shutdown_outstanding": "Outstanding Orders at Shutdown",
	"stream_degraded":      "Market Data Degraded",
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// events whose type appears in the events slice are forwarded; if events is
// empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// FromConfig builds a Notifier with the senders the configuration enables.
// Returns nil when no channel is configured so callers can skip wiring.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return NewNotifier(senders, cfg.Events, logger)
}

// Notify delivers an alert for the given event type to all senders, subject
// to the configured event filter.
func (n *Notifier) Notify(ctx context.Context, event, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return
	}
	n.dispatch(ctx, titleFor(event), message)
}

// NotifyAll delivers an alert to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) {
	n.dispatch(ctx, title, message)
}

// dispatch iterates over all senders; a single sender failure does not
// prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// titleFor returns the display title for an event type, falling back to the
// raw event name for types without a mapping.
func titleFor(event string) string {
	if t, ok := titles[event]; ok {
		return t
	}
	return fmt.Sprintf("Event: %s", event)
}
