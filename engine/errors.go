/*
errors.go - Error taxonomy of the booking engine

PURPOSE:
  All engine errors in one place. Every error is recoverable by the caller
  (fix the input, retry); none is fatal to the process. The engine never
  retries on its own.

ERROR CATEGORIES:
  1. Input errors      - ErrInvalidRange, ErrInvalidDate, ErrInvalidInput
  2. Scheduling errors - ErrConflict (ConflictError), ErrBookingCancelled
  3. Lookup errors     - ErrNotFound
  4. Access errors     - ErrForbidden
  5. Store errors      - ErrStoreUnavailable (StoreError)

USAGE:
  if errors.Is(err, engine.ErrConflict) {
      var ce *engine.ConflictError
      errors.As(err, &ce) // ce.BookingID / ce.Reason
  }

SEE ALSO:
  - api/errors.go: HTTP status mapping
*/
package engine

import (
	"errors"
	"fmt"

	"github.com/warp/lab-booking/identity"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRange is returned when start is not strictly before end.
	ErrInvalidRange = errors.New("invalid range: start must precede end")

	// ErrConflict is returned when an availability check fails.
	ErrConflict = errors.New("booking conflict")

	// ErrNotFound is returned for an unknown booking or worker.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDate is returned when a leave date lies in the past.
	ErrInvalidDate = errors.New("invalid date: leave date is in the past")

	// ErrStoreUnavailable is returned when the persistence layer fails.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidInput is returned for malformed drafts and patches.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned when the actor's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrBookingCancelled is returned when editing a cancelled booking.
	ErrBookingCancelled = errors.New("booking is cancelled")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError carries the reason a window is unavailable.
type ConflictError struct {
	BookingID BookingID
	Reason    ConflictReason
	WorkerKey identity.Key
}

func (e *ConflictError) Error() string {
	if e.Reason == ReasonWorkerOnLeave {
		return fmt.Sprintf("booking conflict: worker %q on leave", e.WorkerKey)
	}
	return fmt.Sprintf("booking conflict: overlaps booking %s", e.BookingID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// invalidInput builds an ErrInvalidInput with a message.
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storeErr wraps err as a StoreError unless it already carries an engine
// error; domain errors raised inside a transaction pass through unchanged.
func storeErr(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrBookingCancelled)
}
