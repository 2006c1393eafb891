package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lab-booking/engine"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublish_EncodesBookingEvent(t *testing.T) {
	// GIVEN: a booking event
	w := &fakeWriter{}
	p := NewPublisher(w)
	at := time.Date(2030, time.March, 10, 9, 0, 0, 0, time.UTC)
	b := engine.Booking{
		ID:            "b-1",
		ServiceID:     "7",
		ServiceName:   "Confocal",
		WorkerName:    "Jane Doe",
		WorkerKey:     "jane doe",
		Start:         at,
		End:           at.Add(2 * time.Hour),
		Rate:          decimal.RequireFromString("12.50"),
		RemarksStatus: engine.RemarksWaiting,
	}
	ev := engine.Event{
		Type:       engine.EventBookingCreated,
		BookingID:  b.ID,
		ServiceID:  b.ServiceID,
		WorkerKey:  b.WorkerKey,
		ActorID:    "admin-1",
		OccurredAt: at,
		Booking:    &b,
	}

	// WHEN: publishing
	require.NoError(t, p.Publish(context.Background(), ev))

	// THEN: one message keyed by booking id with a JSON body
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "b-1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "booking.created", string(msg.Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "booking.created", body["type"])
	assert.Equal(t, "7", body["service_id"])
	booking := body["booking"].(map[string]any)
	assert.Equal(t, "Confocal", booking["service_name"])
	assert.Equal(t, "12.5", booking["rate"])
}

func TestPublish_LeaveEventKeyedByWorker(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w)
	date := time.Date(2030, time.March, 10, 0, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), engine.Event{
		Type:      engine.EventLeaveSet,
		WorkerKey: "jane doe",
		LeaveDate: &date,
	})

	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "jane doe", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"leave_date":"2030-03-10"`)
}

func TestPublish_WriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := NewPublisher(w)

	err := p.Publish(context.Background(), engine.Event{Type: engine.EventBookingCancelled, BookingID: "b-1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestPublish_AfterClose(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Publish(context.Background(), engine.Event{Type: engine.EventBookingCreated, BookingID: "b-1"})

	assert.ErrorIs(t, err, ErrPublisherClosed)
	assert.True(t, w.closed)
}

func TestNewWriter_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewWriter(Config{Topic: "bookings"}, logger)
	assert.Error(t, err)

	_, err = NewWriter(Config{Brokers: []string{"localhost:9092"}}, logger)
	assert.Error(t, err)

	w, err := NewWriter(Config{Brokers: []string{"localhost:9092"}, Topic: "bookings"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "bookings", w.Topic)
	assert.Equal(t, 3, w.MaxAttempts)
}
