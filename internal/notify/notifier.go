// Package notify alerts operators about order outcomes over Discord and
// Telegram. Messages can be filtered by event name so operators receive only
// the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// Event names accepted by the notify.events filter.
const (
	EventOrderConfirmed = "order_confirmed"
	EventOrderFailed    = "order_failed"
)

// Field is one labelled value rendered under the message body.
type Field struct {
	Name  string
	Value string
}

// Message is a channel-agnostic notification.
type Message struct {
	Event  string
	Title  string
	Body   string
	Fields []Field
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders, forwarding only
// messages whose event is in the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. If
// events is empty, all event types are allowed.
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

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends msg to all senders if its event passes the filter.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}
	return n.dispatch(ctx, msg)
}

// NotifyOrder reports a persisted terminal outcome.
func (n *Notifier) NotifyOrder(ctx context.Context, o domain.PersistedOrder) error {
	return n.Notify(ctx, OrderMessage(o))
}

// OrderMessage renders a terminal order record.
func OrderMessage(o domain.PersistedOrder) Message {
	msg := Message{
		Fields: []Field{{Name: "Order", Value: o.OrderID}},
	}
	switch o.Status {
	case domain.OrderStatusConfirmed:
		msg.Event = EventOrderConfirmed
		msg.Title = "Order confirmed"
		msg.Body = fmt.Sprintf("Order %s settled.", o.OrderID)
	default:
		msg.Event = EventOrderFailed
		msg.Title = "Order failed"
		msg.Body = fmt.Sprintf("Order %s did not settle.", o.OrderID)
	}
	if o.TxHash != nil {
		msg.Fields = append(msg.Fields, Field{Name: "Tx", Value: *o.TxHash})
	}
	if o.ExecutionPrice != nil {
		msg.Fields = append(msg.Fields, Field{Name: "Price", Value: o.ExecutionPrice.String()})
	}
	if o.Reason != nil {
		msg.Fields = append(msg.Fields, Field{Name: "Reason", Value: *o.Reason})
	}
	return msg
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
