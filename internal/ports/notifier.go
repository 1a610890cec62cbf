package ports

import (
	"context"
	"time"

	"cryptoCrossBot/internal/domain"
)

// EventType classifies notification events.
type EventType string

const (
	EventSignal     EventType = "signal"
	EventTrade      EventType = "trade"
	EventStopLoss   EventType = "stop_loss"
	EventTakeProfit EventType = "take_profit"
	EventError      EventType = "error"
	EventStatus     EventType = "status"
)

// Event is the structured payload handed to the notification collaborator.
// Formatting into text is the notifier's job.
type Event struct {
	Type       EventType
	Symbol     string
	Signal     domain.Signal
	Side       domain.OrderSide
	Price      float64
	Amount     float64
	ProfitLoss float64
	Indicators map[string]float64
	Message    string
	Err        error
	Time       time.Time
}

// Notifier delivers events to operators.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
