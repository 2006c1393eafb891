/*
Package kafka publishes engine domain events to a Kafka topic.

PURPOSE:
  Downstream consumers (notification mailers, billing exports) react to
  booking changes without polling. The engine calls Publish after a mutation
  commits and only logs failures.

MESSAGE FORMAT:
  key:     booking id, or the normalized worker key for leave events
  headers: event_type
  value:   JSON, see eventMessage

ORDERING:
  The Hash balancer keeps one key on one partition, so events for the same
  booking are consumed in publish order.
*/
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/warp/lab-booking/engine"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures NewWriter.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	MaxAttempts  int
}

// NewWriter builds a kafka.Writer for domain events.
func NewWriter(cfg Config, logger *slog.Logger) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{}, // Hash by key for ordering
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxAttempts,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
		Logger:                 kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
	}, nil
}

// Publisher implements engine.Publisher.
type Publisher struct {
	writer MessageWriter
	mu     sync.RWMutex
	closed bool
}

var _ engine.Publisher = (*Publisher)(nil)

func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

// Publish writes events as one batch.
func (p *Publisher) Publish(ctx context.Context, events ...engine.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msg, err := encode(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

type eventMessage struct {
	Type       string          `json:"type"`
	BookingID  string          `json:"booking_id,omitempty"`
	ServiceID  string          `json:"service_id,omitempty"`
	WorkerKey  string          `json:"worker_key,omitempty"`
	LeaveDate  string          `json:"leave_date,omitempty"`
	ActorID    string          `json:"actor_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Booking    *bookingMessage `json:"booking,omitempty"`
}

type bookingMessage struct {
	ServiceName   string          `json:"service_name"`
	WorkerName    string          `json:"worker_name,omitempty"`
	Start         time.Time       `json:"start_time"`
	End           time.Time       `json:"end_time"`
	Department    string          `json:"department,omitempty"`
	PriceType     string          `json:"price_type,omitempty"`
	Rate          decimal.Decimal `json:"rate"`
	RemarksStatus string          `json:"remarks_status"`
	Cancelled     bool            `json:"cancelled"`
}

func encode(ev engine.Event) (kafka.Message, error) {
	m := eventMessage{
		Type:       string(ev.Type),
		BookingID:  string(ev.BookingID),
		ServiceID:  string(ev.ServiceID),
		WorkerKey:  ev.WorkerKey.String(),
		ActorID:    ev.ActorID,
		OccurredAt: ev.OccurredAt.UTC(),
	}
	if ev.LeaveDate != nil {
		m.LeaveDate = ev.LeaveDate.Format(time.DateOnly)
	}
	if b := ev.Booking; b != nil {
		m.Booking = &bookingMessage{
			ServiceName:   b.ServiceName,
			WorkerName:    b.WorkerName,
			Start:         b.Start.UTC(),
			End:           b.End.UTC(),
			Department:    b.Department,
			PriceType:     b.PriceType,
			Rate:          b.Rate,
			RemarksStatus: string(b.RemarksStatus),
			Cancelled:     b.IsCancelled(),
		}
	}

	value, err := json.Marshal(m)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	return kafka.Message{
		Key:   []byte(ev.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
		Time: ev.OccurredAt,
	}, nil
}
