// Package notify turns trading events into operator messages and fans them out
// to the configured channels.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"cryptoCrossBot/internal/domain"
	"cryptoCrossBot/internal/ports"
)

// Notifier implements ports.Notifier over a set of Senders with an event filter.
type Notifier struct {
	senders []Sender
	events  map[ports.EventType]bool // allowed event types, empty allows all
	logger  ports.Logger
}

// NewNotifier creates a Notifier. An empty events list lets every event through.
func NewNotifier(senders []Sender, events []string, logger ports.Logger) *Notifier {
	allowed := make(map[ports.EventType]bool, len(events))
	for _, e := range events {
		allowed[ports.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{senders: senders, events: allowed, logger: logger}
}

// Notify formats event and sends it to every sender if its type is allowed.
func (n *Notifier) Notify(ctx context.Context, event ports.Event) error {
	if len(n.events) > 0 && !n.events[event.Type] {
		n.logger.Debug(ctx, "Notification filtered out", map[string]interface{}{"event": event.Type})
		return nil
	}
	title, message := Format(event)
	return n.dispatch(ctx, title, message)
}

// dispatch sends to all senders; one failing sender does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error(ctx, err, "Notification sender failed", map[string]interface{}{"sender": s.Name()})
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.Debug(ctx, "Notification sent", map[string]interface{}{"sender": s.Name(), "title": title})
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Format renders an event as a title and a Markdown body.
func Format(event ports.Event) (string, string) {
	var b strings.Builder
	switch event.Type {
	case ports.EventTrade, ports.EventStopLoss, ports.EventTakeProfit:
		title := "TRADE ALERT"
		switch event.Type {
		case ports.EventStopLoss:
			title = "STOP LOSS"
		case ports.EventTakeProfit:
			title = "TAKE PROFIT"
		}
		fmt.Fprintf(&b, "*%s* %s %s at $%.2f\n", event.Side, formatAmount(event.Amount), event.Symbol, event.Price)
		fmt.Fprintf(&b, "Total: $%.2f", event.Amount*event.Price)
		if event.Side == domain.Sell {
			fmt.Fprintf(&b, "\nProfit/Loss: $%.2f", event.ProfitLoss)
		}
		return title, b.String()

	case ports.EventSignal:
		fmt.Fprintf(&b, "*%s SIGNAL* for %s at $%.2f\n", event.Signal, event.Symbol, event.Price)
		if len(event.Indicators) > 0 {
			b.WriteString("\n*Indicators:*\n")
			keys := make([]string, 0, len(event.Indicators))
			for k := range event.Indicators {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "- %s: %.2f\n", k, event.Indicators[k])
			}
		}
		return "SIGNAL ALERT", strings.TrimRight(b.String(), "\n")

	case ports.EventError:
		msg := event.Message
		if event.Err != nil {
			if msg != "" {
				msg += ": "
			}
			msg += event.Err.Error()
		}
		if event.Symbol != "" {
			msg = event.Symbol + " " + msg
		}
		return "ERROR ALERT", msg

	default:
		return "STATUS", event.Message
	}
}

func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}
