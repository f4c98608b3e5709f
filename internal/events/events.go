package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"homestyle/internal/model"
)

// Event types published after a ledger write commits.
const (
	TypeBookingCreated  = "new_booking"
	TypeBookingStatus   = "booking_status"
	TypeBookingReminder = "booking_reminder"
)

// Event represents a booking domain event.
type Event struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Booking   model.Booking `json:"data"`
	CreatedAt time.Time     `json:"createdAt"`
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event Event) error

// EventBus provides in-process pub/sub for events. Delivery is best effort:
// handler errors are logged and never reach the publisher.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; sinks that block must hand off internally.
		if err := handler(ctx, event); err != nil {
			b.logger.Warn().Err(err).
				Str("event_id", event.ID).
				Str("type", event.Type).
				Int64("booking_id", event.Booking.ID).
				Msg("event handler failed")
		}
	}
}
