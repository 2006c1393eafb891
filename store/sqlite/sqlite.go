/*
Package sqlite provides a SQLite-backed implementation of engine.TxStore.

PURPOSE:
  Persists bookings, worker leave entries and the service roster. The engine
  serializes check-then-act sequences through WithTx; this package only has
  to make each transaction atomic.

KEY TABLES:
  bookings:      One row per booking, cancelled rows included
  worker_leaves: At most one row per normalized worker name
  assignments:   Roster rows, unique on (service_id, worker_key)

INDEXES:
  - idx_bookings_service_window: Overlap scans (hot path)
  - idx_bookings_worker:         Leave propagation lookups
  - idx_bookings_remarks:        Pending approvals queue

TIME ENCODING:
  Instants are stored as fixed-width UTC text (timeLayout) so that string
  comparison in SQL matches chronological order. Leave dates are stored as
  YYYY-MM-DD.

CONCURRENCY:
  Writers (single statements and WithTx) queue on writeMu. Reads take no Go
  lock: in WAL mode a reader sees the last committed state while a
  transaction is open. The ":memory:" database has one connection, so there
  a read waits for the pool until the open transaction ends.

USAGE:
  store, err := sqlite.New("./data/labbook.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := engine.New(store, engine.Options{})

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/lab-booking/engine"
	"github.com/warp/lab-booking/identity"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements engine.TxStore using SQLite.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

var _ engine.TxStore = (*Store)(nil)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		service_id TEXT NOT NULL,
		service_name TEXT NOT NULL DEFAULT '',
		worker_name TEXT NOT NULL DEFAULT '',
		worker_key TEXT NOT NULL DEFAULT '',
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		price_type TEXT NOT NULL DEFAULT '',
		rate TEXT NOT NULL DEFAULT '0',
		remarks TEXT NOT NULL DEFAULT '',
		remarks_status TEXT NOT NULL DEFAULT 'waiting',
		remarks_reviewed_by TEXT,
		remarks_reviewed_at TEXT,
		created_by TEXT NOT NULL DEFAULT '',
		assigned_by TEXT NOT NULL DEFAULT '',
		cancelled_at TEXT,
		cancelled_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (start_time < end_time)
	);

	-- Overlap scans: service_id = ? AND start_time < ? AND end_time > ?
	CREATE INDEX IF NOT EXISTS idx_bookings_service_window
		ON bookings(service_id, start_time, end_time);
	CREATE INDEX IF NOT EXISTS idx_bookings_worker
		ON bookings(worker_key) WHERE worker_key != '';
	CREATE INDEX IF NOT EXISTS idx_bookings_remarks
		ON bookings(remarks_status) WHERE remarks != '';

	-- One active leave date per normalized worker name
	CREATE TABLE IF NOT EXISTS worker_leaves (
		normalized_name TEXT PRIMARY KEY,
		leave_date TEXT NOT NULL,
		display_names_json TEXT NOT NULL DEFAULT '[]',
		set_by TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	-- Service roster
	CREATE TABLE IF NOT EXISTS assignments (
		service_id TEXT NOT NULL,
		worker_key TEXT NOT NULL,
		display_name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (service_id, worker_key)
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_worker
		ON assignments(worker_key);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `
	id, service_id, service_name, worker_name, worker_key, start_time, end_time,
	category, department, price_type, rate, remarks, remarks_status,
	remarks_reviewed_by, remarks_reviewed_at, created_by, assigned_by,
	cancelled_at, cancelled_by, created_at, updated_at`

func (s *Store) InsertBooking(ctx context.Context, b engine.Booking) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return insertBooking(ctx, s.db, b)
}

func insertBooking(ctx context.Context, db dbtx, b engine.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.ExecContext(ctx, query,
		string(b.ID),
		string(b.ServiceID),
		b.ServiceName,
		b.WorkerName,
		b.WorkerKey.String(),
		formatTime(b.Start),
		formatTime(b.End),
		b.Category,
		b.Department,
		b.PriceType,
		b.Rate.String(),
		b.Remarks,
		string(b.RemarksStatus),
		nullString(b.RemarksReviewedBy),
		nullTime(b.RemarksReviewedAt),
		b.CreatedBy,
		b.AssignedBy,
		nullTime(b.CancelledAt),
		nullString(b.CancelledBy),
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("booking %s already exists: %w", b.ID, err)
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (s *Store) UpdateBooking(ctx context.Context, b engine.Booking) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return updateBooking(ctx, s.db, b)
}

func updateBooking(ctx context.Context, db dbtx, b engine.Booking) error {
	query := `
		UPDATE bookings SET
			service_name = ?, worker_name = ?, worker_key = ?, start_time = ?, end_time = ?,
			category = ?, department = ?, price_type = ?, rate = ?, remarks = ?,
			remarks_status = ?, remarks_reviewed_by = ?, remarks_reviewed_at = ?,
			cancelled_at = ?, cancelled_by = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := db.ExecContext(ctx, query,
		b.ServiceName,
		b.WorkerName,
		b.WorkerKey.String(),
		formatTime(b.Start),
		formatTime(b.End),
		b.Category,
		b.Department,
		b.PriceType,
		b.Rate.String(),
		b.Remarks,
		string(b.RemarksStatus),
		nullString(b.RemarksReviewedBy),
		nullTime(b.RemarksReviewedAt),
		nullTime(b.CancelledAt),
		nullString(b.CancelledBy),
		formatTime(b.UpdatedAt),
		string(b.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id engine.BookingID) (*engine.Booking, error) {
	return getBooking(ctx, s.db, id)
}

func getBooking(ctx context.Context, db dbtx, id engine.BookingID) (*engine.Booking, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query booking: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	b, err := scanBooking(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) FindBookings(ctx context.Context, q engine.BookingQuery) ([]engine.Booking, error) {
	return findBookings(ctx, s.db, q)
}

func findBookings(ctx context.Context, db dbtx, q engine.BookingQuery) ([]engine.Booking, error) {
	var (
		where []string
		args  []any
	)
	if !q.IncludeCancelled {
		where = append(where, "cancelled_at IS NULL")
	}
	if q.ServiceID != "" {
		where = append(where, "service_id = ?")
		args = append(args, string(q.ServiceID))
	}
	if !q.WorkerKey.IsZero() {
		where = append(where, "worker_key = ?")
		args = append(args, q.WorkerKey.String())
	}
	if q.Department != "" {
		where = append(where, "department = ?")
		args = append(args, q.Department)
	}
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, q.Category)
	}
	if !q.From.IsZero() {
		where = append(where, "end_time > ?")
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, formatTime(q.To))
	}
	if q.RemarksStatus != "" {
		where = append(where, "remarks_status = ?")
		args = append(args, string(q.RemarksStatus))
	}
	if q.WithRemarksOnly {
		where = append(where, "remarks != ''")
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time ASC, id ASC`

	return queryBookings(ctx, db, query, args...)
}

func (s *Store) OverlappingBookings(ctx context.Context, serviceID engine.ServiceID, start, end time.Time) ([]engine.Booking, error) {
	return overlappingBookings(ctx, s.db, serviceID, start, end)
}

func overlappingBookings(ctx context.Context, db dbtx, serviceID engine.ServiceID, start, end time.Time) ([]engine.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE service_id = ? AND cancelled_at IS NULL
		  AND start_time < ? AND end_time > ?
		ORDER BY start_time ASC, id ASC`
	return queryBookings(ctx, db, query, string(serviceID), formatTime(end), formatTime(start))
}

func queryBookings(ctx context.Context, db dbtx, query string, args ...any) ([]engine.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var result []engine.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanBooking(rows *sql.Rows) (engine.Booking, error) {
	var (
		b                                   engine.Booking
		id, serviceID, workerKey            string
		start, end, rate, remarksStatus     string
		reviewedBy, reviewedAt, cancelledBy sql.NullString
		cancelledAt                         sql.NullString
		createdAt, updatedAt                string
	)
	err := rows.Scan(
		&id, &serviceID, &b.ServiceName, &b.WorkerName, &workerKey, &start, &end,
		&b.Category, &b.Department, &b.PriceType, &rate, &b.Remarks, &remarksStatus,
		&reviewedBy, &reviewedAt, &b.CreatedBy, &b.AssignedBy,
		&cancelledAt, &cancelledBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return b, fmt.Errorf("failed to scan booking: %w", err)
	}

	b.ID = engine.BookingID(id)
	b.ServiceID = engine.ServiceID(serviceID)
	b.WorkerKey = identity.Key(workerKey)
	b.RemarksStatus = engine.RemarksStatus(remarksStatus)
	b.RemarksReviewedBy = reviewedBy.String
	b.CancelledBy = cancelledBy.String

	if b.Rate, err = decimal.NewFromString(rate); err != nil {
		return b, fmt.Errorf("booking %s: invalid rate %q: %w", id, rate, err)
	}
	if b.Start, err = parseTime(start); err != nil {
		return b, err
	}
	if b.End, err = parseTime(end); err != nil {
		return b, err
	}
	if b.RemarksReviewedAt, err = parseNullTime(reviewedAt); err != nil {
		return b, err
	}
	if b.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return b, err
	}
	b.CreatedAt, _ = parseTime(createdAt)
	b.UpdatedAt, _ = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// WORKER LEAVES
// =============================================================================

func (s *Store) GetLeave(ctx context.Context, key identity.Key) (*engine.WorkerLeave, error) {
	return getLeave(ctx, s.db, key)
}

func getLeave(ctx context.Context, db dbtx, key identity.Key) (*engine.WorkerLeave, error) {
	leaves, err := queryLeaves(ctx, db, `
		SELECT normalized_name, leave_date, display_names_json, set_by, updated_at
		FROM worker_leaves WHERE normalized_name = ?`, key.String())
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return nil, nil
	}
	return &leaves[0], nil
}

func (s *Store) SaveLeave(ctx context.Context, l engine.WorkerLeave) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return saveLeave(ctx, s.db, l)
}

func saveLeave(ctx context.Context, db dbtx, l engine.WorkerLeave) error {
	names, err := json.Marshal(l.DisplayNames)
	if err != nil {
		return fmt.Errorf("failed to encode display names: %w", err)
	}
	query := `
		INSERT INTO worker_leaves (normalized_name, leave_date, display_names_json, set_by, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(normalized_name) DO UPDATE SET
			leave_date = excluded.leave_date,
			display_names_json = excluded.display_names_json,
			set_by = excluded.set_by,
			updated_at = excluded.updated_at
	`
	_, err = db.ExecContext(ctx, query,
		l.Key.String(),
		l.Date.Format(time.DateOnly),
		string(names),
		l.SetBy,
		formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save leave: %w", err)
	}
	return nil
}

func (s *Store) DeleteLeave(ctx context.Context, key identity.Key) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return deleteLeave(ctx, s.db, key)
}

func deleteLeave(ctx context.Context, db dbtx, key identity.Key) error {
	_, err := db.ExecContext(ctx, "DELETE FROM worker_leaves WHERE normalized_name = ?", key.String())
	if err != nil {
		return fmt.Errorf("failed to delete leave: %w", err)
	}
	return nil
}

func (s *Store) ListLeaves(ctx context.Context) ([]engine.WorkerLeave, error) {
	return listLeaves(ctx, s.db)
}

func listLeaves(ctx context.Context, db dbtx) ([]engine.WorkerLeave, error) {
	return queryLeaves(ctx, db, `
		SELECT normalized_name, leave_date, display_names_json, set_by, updated_at
		FROM worker_leaves ORDER BY normalized_name ASC`)
}

func queryLeaves(ctx context.Context, db dbtx, query string, args ...any) ([]engine.WorkerLeave, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaves: %w", err)
	}
	defer rows.Close()

	var result []engine.WorkerLeave
	for rows.Next() {
		var l engine.WorkerLeave
		var key, date, names, upd string
		if err := rows.Scan(&key, &date, &names, &l.SetBy, &upd); err != nil {
			return nil, fmt.Errorf("failed to scan leave: %w", err)
		}
		l.Key = identity.Key(key)
		if l.Date, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("leave %s: invalid date %q: %w", key, date, err)
		}
		if err := json.Unmarshal([]byte(names), &l.DisplayNames); err != nil {
			return nil, fmt.Errorf("leave %s: invalid display names: %w", key, err)
		}
		l.UpdatedAt, _ = parseTime(upd)
		result = append(result, l)
	}
	return result, rows.Err()
}

// =============================================================================
// ROSTER
// =============================================================================

func (s *Store) SaveAssignment(ctx context.Context, a engine.Assignment) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return saveAssignment(ctx, s.db, a)
}

func saveAssignment(ctx context.Context, db dbtx, a engine.Assignment) error {
	// created_at keeps the first registration.
	query := `
		INSERT INTO assignments (service_id, worker_key, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service_id, worker_key) DO UPDATE SET
			display_name = excluded.display_name
	`
	_, err := db.ExecContext(ctx, query,
		string(a.ServiceID),
		a.WorkerKey.String(),
		a.DisplayName,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (s *Store) AssignmentsByService(ctx context.Context, serviceID engine.ServiceID) ([]engine.Assignment, error) {
	return assignmentsBy(ctx, s.db, "service_id", string(serviceID))
}

func (s *Store) AssignmentsByWorker(ctx context.Context, key identity.Key) ([]engine.Assignment, error) {
	return assignmentsBy(ctx, s.db, "worker_key", key.String())
}

// assignmentsBy filters on column, which is always a constant from this file.
func assignmentsBy(ctx context.Context, db dbtx, column, value string) ([]engine.Assignment, error) {
	query := `
		SELECT service_id, worker_key, display_name, created_at
		FROM assignments WHERE ` + column + ` = ?
		ORDER BY service_id ASC, worker_key ASC`

	rows, err := db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var result []engine.Assignment
	for rows.Next() {
		var a engine.Assignment
		var serviceID, workerKey, createdAt string
		if err := rows.Scan(&serviceID, &workerKey, &a.DisplayName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.ServiceID = engine.ServiceID(serviceID)
		a.WorkerKey = identity.Key(workerKey)
		a.CreatedAt, _ = parseTime(createdAt)
		result = append(result, a)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Reads inside fn
// see the transaction's own writes.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertBooking(ctx context.Context, b engine.Booking) error {
	return insertBooking(ctx, ts.tx, b)
}

func (ts *txStore) UpdateBooking(ctx context.Context, b engine.Booking) error {
	return updateBooking(ctx, ts.tx, b)
}

func (ts *txStore) GetBooking(ctx context.Context, id engine.BookingID) (*engine.Booking, error) {
	return getBooking(ctx, ts.tx, id)
}

func (ts *txStore) FindBookings(ctx context.Context, q engine.BookingQuery) ([]engine.Booking, error) {
	return findBookings(ctx, ts.tx, q)
}

func (ts *txStore) OverlappingBookings(ctx context.Context, serviceID engine.ServiceID, start, end time.Time) ([]engine.Booking, error) {
	return overlappingBookings(ctx, ts.tx, serviceID, start, end)
}

func (ts *txStore) GetLeave(ctx context.Context, key identity.Key) (*engine.WorkerLeave, error) {
	return getLeave(ctx, ts.tx, key)
}

func (ts *txStore) SaveLeave(ctx context.Context, l engine.WorkerLeave) error {
	return saveLeave(ctx, ts.tx, l)
}

func (ts *txStore) DeleteLeave(ctx context.Context, key identity.Key) error {
	return deleteLeave(ctx, ts.tx, key)
}

func (ts *txStore) ListLeaves(ctx context.Context) ([]engine.WorkerLeave, error) {
	return listLeaves(ctx, ts.tx)
}

func (ts *txStore) SaveAssignment(ctx context.Context, a engine.Assignment) error {
	return saveAssignment(ctx, ts.tx, a)
}

func (ts *txStore) AssignmentsByService(ctx context.Context, serviceID engine.ServiceID) ([]engine.Assignment, error) {
	return assignmentsBy(ctx, ts.tx, "service_id", string(serviceID))
}

func (ts *txStore) AssignmentsByWorker(ctx context.Context, key identity.Key) ([]engine.Assignment, error) {
	return assignmentsBy(ctx, ts.tx, "worker_key", key.String())
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tables := []string{"bookings", "worker_leaves", "assignments"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
