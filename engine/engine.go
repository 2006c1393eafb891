package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Engine is the single authoritative entry point for booking rules.
// It is safe for concurrent use.
type Engine struct {
	store     TxStore
	locker    Locker
	clock     Clock
	publisher Publisher
	logger    *slog.Logger
	location  *time.Location
	newID     func() BookingID
}

// Options configures an Engine. Zero fields get defaults.
type Options struct {
	Clock     Clock          // default SystemClock
	Locker    Locker         // default in-process KeyedMutex
	Publisher Publisher      // default NopPublisher
	Logger    *slog.Logger   // default slog.Default()
	Location  *time.Location // calendar used for leave days; default UTC
	NewID     func() BookingID
}

// New creates an engine over store.
func New(store TxStore, opts Options) *Engine {
	e := &Engine{
		store:     store,
		locker:    opts.Locker,
		clock:     opts.Clock,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		location:  opts.Location,
		newID:     opts.NewID,
	}
	if e.locker == nil {
		e.locker = NewKeyedMutex()
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.publisher == nil {
		e.publisher = NopPublisher{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.newID == nil {
		e.newID = newBookingID
	}
	return e
}

// Now returns the engine clock's current instant.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Location returns the calendar location used for leave days.
func (e *Engine) Location() *time.Location { return e.location }

// newBookingID returns a time-ordered UUID so that id order follows creation
// order.
func newBookingID() BookingID {
	id, err := uuid.NewV7()
	if err != nil {
		return BookingID(uuid.NewString())
	}
	return BookingID(id.String())
}

// publish delivers events and logs failures; the mutation has already
// committed.
func (e *Engine) publish(ctx context.Context, events ...Event) {
	if len(events) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, events...); err != nil {
		e.logger.WarnContext(ctx, "failed to publish events",
			"type", string(events[0].Type),
			"count", len(events),
			"error", err,
		)
	}
}

// withServiceLock runs fn in a store transaction while holding the service's
// lock.
func (e *Engine) withServiceLock(ctx context.Context, id ServiceID, op string, fn func(Store) error) error {
	unlock, err := e.locker.Lock(ctx, serviceLockKey(id))
	if err != nil {
		return storeErr(op+": lock", err)
	}
	defer unlock()
	return storeErr(op, e.store.WithTx(ctx, fn))
}
