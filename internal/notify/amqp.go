package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"homestyle/internal/events"
)

// DefaultQueue receives every booking event.
const DefaultQueue = "booking.events"

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (amqpChannel, io.Closer, error)

func dialAMQP(url string) (amqpChannel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn, nil
}

// Publisher forwards booking events to a durable RabbitMQ queue. The
// connection is opened lazily and reopened after a failed publish.
type Publisher struct {
	url   string
	queue string
	dial  dialFunc

	mu   sync.Mutex
	ch   amqpChannel
	conn io.Closer

	logger zerolog.Logger
}

// NewPublisher creates a publisher for queue on the broker at url.
func NewPublisher(url, queue string, logger *zerolog.Logger) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{
		url:    url,
		queue:  queue,
		dial:   dialAMQP,
		logger: logger.With().Str("component", "amqp").Str("queue", queue).Logger(),
	}
}

func (p *Publisher) channel() (amqpChannel, error) {
	if p.ch != nil {
		return p.ch, nil
	}

	ch, conn, err := p.dial(p.url)
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	p.ch, p.conn = ch, conn
	p.logger.Info().Msg("connected to broker")
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// HandleEvent is an events.EventHandler that publishes ev as a persistent
// JSON message.
func (p *Publisher) HandleEvent(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("amqp: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("amqp publish: %w", err)
	}

	p.logger.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Int64("booking_id", ev.Booking.ID).Msg("event published")
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
