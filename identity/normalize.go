/*
Package identity canonicalizes worker names.

PURPOSE:
  Manpower records and bookings identify a worker by free-text display name.
  The same person shows up under several variants ("Jane Doe", " jane  doe",
  "JANE DOE") across service assignments. Normalize folds those variants to a
  single Key so leave dates and roster lookups apply uniformly.

RULES:
  1. Trim leading/trailing whitespace
  2. Collapse every internal whitespace run to one ASCII space
  3. Unicode full case folding (ß folds to ss, final sigma to sigma)

LIMITATION:
  Two different people with the same name collide on purpose. The join key is
  a name, not a worker id; this package is the only place that knows it, so a
  move to a real worker id only touches Normalize and Key.

SEE ALSO:
  - engine/leave.go: WorkerLeave is keyed by Key
  - engine/availability.go: resolves roster workers by Key
*/
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Key is the canonical form of a worker's display name.
type Key string

// String returns the key as a plain string.
func (k Key) String() string { return string(k) }

// IsZero reports whether the key represents an unassigned worker.
func (k Key) IsZero() bool { return k == "" }

// Normalize returns the canonical key for a display name. It never fails;
// a blank name yields the zero Key.
func Normalize(display string) Key {
	var b strings.Builder
	b.Grow(len(display))

	pendingSpace := false
	for _, r := range display {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	// Full folding, so "straße" and "STRASSE" meet. A Caser holds state and
	// is not safe to share across goroutines.
	return Key(cases.Fold().String(b.String()))
}
