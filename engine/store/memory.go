// Package store provides engine.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/lab-booking/engine"
	"github.com/warp/lab-booking/identity"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps committed data in tables that are replaced, never edited, by
// a transaction. Writers queue on writeMu; mu only guards the swap, so a
// read never waits for an open transaction.
type Memory struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	data    *tables
}

type tables struct {
	bookings    map[engine.BookingID]engine.Booking
	leaves      map[identity.Key]engine.WorkerLeave
	assignments map[assignmentKey]engine.Assignment
}

type assignmentKey struct {
	ServiceID engine.ServiceID
	WorkerKey identity.Key
}

var _ engine.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: newTables()}
}

func newTables() *tables {
	return &tables{
		bookings:    make(map[engine.BookingID]engine.Booking),
		leaves:      make(map[identity.Key]engine.WorkerLeave),
		assignments: make(map[assignmentKey]engine.Assignment),
	}
}

// read runs fn against the committed tables.
func (m *Memory) read(fn func(*tables)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.data)
}

// write applies fn to a copy of the committed tables and publishes the copy
// if fn succeeds.
func (m *Memory) write(fn func(*tables) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	work := m.data.clone()
	m.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}

	m.mu.Lock()
	m.data = work
	m.mu.Unlock()
	return nil
}

func (m *Memory) InsertBooking(_ context.Context, b engine.Booking) error {
	return m.write(func(t *tables) error { return t.insertBooking(b) })
}

func (m *Memory) UpdateBooking(_ context.Context, b engine.Booking) error {
	return m.write(func(t *tables) error { return t.updateBooking(b) })
}

func (m *Memory) GetBooking(_ context.Context, id engine.BookingID) (b *engine.Booking, _ error) {
	m.read(func(t *tables) { b = t.getBooking(id) })
	return b, nil
}

func (m *Memory) FindBookings(_ context.Context, q engine.BookingQuery) (bs []engine.Booking, _ error) {
	m.read(func(t *tables) { bs = t.findBookings(q) })
	return bs, nil
}

func (m *Memory) OverlappingBookings(_ context.Context, serviceID engine.ServiceID, start, end time.Time) (bs []engine.Booking, _ error) {
	m.read(func(t *tables) { bs = t.overlapping(serviceID, start, end) })
	return bs, nil
}

func (m *Memory) GetLeave(_ context.Context, key identity.Key) (l *engine.WorkerLeave, _ error) {
	m.read(func(t *tables) { l = t.getLeave(key) })
	return l, nil
}

func (m *Memory) SaveLeave(_ context.Context, l engine.WorkerLeave) error {
	return m.write(func(t *tables) error {
		t.leaves[l.Key] = l
		return nil
	})
}

func (m *Memory) DeleteLeave(_ context.Context, key identity.Key) error {
	return m.write(func(t *tables) error {
		delete(t.leaves, key)
		return nil
	})
}

func (m *Memory) ListLeaves(_ context.Context) (ls []engine.WorkerLeave, _ error) {
	m.read(func(t *tables) { ls = t.listLeaves() })
	return ls, nil
}

func (m *Memory) SaveAssignment(_ context.Context, a engine.Assignment) error {
	return m.write(func(t *tables) error {
		t.saveAssignment(a)
		return nil
	})
}

func (m *Memory) AssignmentsByService(_ context.Context, serviceID engine.ServiceID) (as []engine.Assignment, _ error) {
	m.read(func(t *tables) {
		as = t.assignmentsWhere(func(a engine.Assignment) bool { return a.ServiceID == serviceID })
	})
	return as, nil
}

func (m *Memory) AssignmentsByWorker(_ context.Context, key identity.Key) (as []engine.Assignment, _ error) {
	m.read(func(t *tables) {
		as = t.assignmentsWhere(func(a engine.Assignment) bool { return a.WorkerKey == key })
	})
	return as, nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	return m.write(func(t *tables) error {
		*t = *newTables()
		return nil
	})
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// =============================================================================
// TABLES
// =============================================================================

func (t *tables) clone() *tables {
	c := &tables{
		bookings:    make(map[engine.BookingID]engine.Booking, len(t.bookings)),
		leaves:      make(map[identity.Key]engine.WorkerLeave, len(t.leaves)),
		assignments: make(map[assignmentKey]engine.Assignment, len(t.assignments)),
	}
	for k, v := range t.bookings {
		c.bookings[k] = v
	}
	for k, v := range t.leaves {
		c.leaves[k] = v
	}
	for k, v := range t.assignments {
		c.assignments[k] = v
	}
	return c
}

func (t *tables) insertBooking(b engine.Booking) error {
	if _, ok := t.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	t.bookings[b.ID] = b
	return nil
}

func (t *tables) updateBooking(b engine.Booking) error {
	if _, ok := t.bookings[b.ID]; !ok {
		return engine.ErrNotFound
	}
	t.bookings[b.ID] = b
	return nil
}

func (t *tables) getBooking(id engine.BookingID) *engine.Booking {
	b, ok := t.bookings[id]
	if !ok {
		return nil
	}
	return &b
}

func (t *tables) findBookings(q engine.BookingQuery) []engine.Booking {
	var result []engine.Booking
	for _, b := range t.bookings {
		if engine.MatchBooking(b, q) {
			result = append(result, b)
		}
	}
	sortByStart(result)
	return result
}

func (t *tables) overlapping(serviceID engine.ServiceID, start, end time.Time) []engine.Booking {
	var result []engine.Booking
	for _, b := range t.bookings {
		if b.ServiceID == serviceID && !b.IsCancelled() && b.Overlaps(start, end) {
			result = append(result, b)
		}
	}
	sortByStart(result)
	return result
}

func (t *tables) getLeave(key identity.Key) *engine.WorkerLeave {
	l, ok := t.leaves[key]
	if !ok {
		return nil
	}
	l.DisplayNames = append([]string(nil), l.DisplayNames...)
	return &l
}

func (t *tables) listLeaves() []engine.WorkerLeave {
	result := make([]engine.WorkerLeave, 0, len(t.leaves))
	for _, l := range t.leaves {
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

func (t *tables) saveAssignment(a engine.Assignment) {
	k := assignmentKey{ServiceID: a.ServiceID, WorkerKey: a.WorkerKey}
	if existing, ok := t.assignments[k]; ok {
		a.CreatedAt = existing.CreatedAt
	}
	t.assignments[k] = a
}

func (t *tables) assignmentsWhere(match func(engine.Assignment) bool) []engine.Assignment {
	var result []engine.Assignment
	for _, a := range t.assignments {
		if match(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ServiceID != result[j].ServiceID {
			return result[i].ServiceID < result[j].ServiceID
		}
		return result[i].WorkerKey < result[j].WorkerKey
	})
	return result
}

func sortByStart(bs []engine.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].Start.Equal(bs[j].Start) {
			return bs[i].Start.Before(bs[j].Start)
		}
		return bs[i].ID < bs[j].ID
	})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a private copy of the tables. The copy replaces
// the committed tables only if fn succeeds, so a failed fn leaves no trace
// and readers never see a half-applied transaction.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	return m.write(func(t *tables) error {
		return fn(&txView{t: t})
	})
}

// txView is the Store handed to WithTx callbacks. It owns its tables until
// commit, so it takes no locks.
type txView struct {
	t *tables
}

func (tv *txView) InsertBooking(_ context.Context, b engine.Booking) error {
	return tv.t.insertBooking(b)
}

func (tv *txView) UpdateBooking(_ context.Context, b engine.Booking) error {
	return tv.t.updateBooking(b)
}

func (tv *txView) GetBooking(_ context.Context, id engine.BookingID) (*engine.Booking, error) {
	return tv.t.getBooking(id), nil
}

func (tv *txView) FindBookings(_ context.Context, q engine.BookingQuery) ([]engine.Booking, error) {
	return tv.t.findBookings(q), nil
}

func (tv *txView) OverlappingBookings(_ context.Context, serviceID engine.ServiceID, start, end time.Time) ([]engine.Booking, error) {
	return tv.t.overlapping(serviceID, start, end), nil
}

func (tv *txView) GetLeave(_ context.Context, key identity.Key) (*engine.WorkerLeave, error) {
	return tv.t.getLeave(key), nil
}

func (tv *txView) SaveLeave(_ context.Context, l engine.WorkerLeave) error {
	tv.t.leaves[l.Key] = l
	return nil
}

func (tv *txView) DeleteLeave(_ context.Context, key identity.Key) error {
	delete(tv.t.leaves, key)
	return nil
}

func (tv *txView) ListLeaves(_ context.Context) ([]engine.WorkerLeave, error) {
	return tv.t.listLeaves(), nil
}

func (tv *txView) SaveAssignment(_ context.Context, a engine.Assignment) error {
	tv.t.saveAssignment(a)
	return nil
}

func (tv *txView) AssignmentsByService(_ context.Context, serviceID engine.ServiceID) ([]engine.Assignment, error) {
	return tv.t.assignmentsWhere(func(a engine.Assignment) bool { return a.ServiceID == serviceID }), nil
}

func (tv *txView) AssignmentsByWorker(_ context.Context, key identity.Key) ([]engine.Assignment, error) {
	return tv.t.assignmentsWhere(func(a engine.Assignment) bool { return a.WorkerKey == key }), nil
}
