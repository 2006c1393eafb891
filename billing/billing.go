/*
Package billing computes booking costs from a rate table.

PURPOSE:
  Turns a booking's duration and a (service_id, price_type) rate into a line
  cost, and aggregates lines into the totals used by the cost report. It
  never fails a booking: a missing rate is a zero-cost line.

FORMULA:
  cost = hours(end - start) * rate, rounded to 2 places half away from zero.
  Seconds are multiplied before dividing by 3600 so the result is exact
  before rounding.

SEE ALSO:
  - rates.go: Rate table loading
  - api/handlers.go: GET /reports/costs
*/
package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lab-booking/engine"
)

var secondsPerHour = decimal.NewFromInt(3600)

// Cost returns hours times rate for b. It ignores cancellation; Summarize
// decides what a cancelled line is worth.
func Cost(b engine.Booking, rates RateTable) decimal.Decimal {
	return Amount(b.Duration(), rates.Lookup(b.ServiceID, b.PriceType))
}

// Amount returns d in hours times rate, rounded for currency display.
func Amount(d time.Duration, rate decimal.Decimal) decimal.Decimal {
	if d <= 0 || rate.IsZero() {
		return decimal.Zero
	}
	seconds := decimal.New(int64(d/time.Microsecond), -6)
	return seconds.Mul(rate).Div(secondsPerHour).Round(2)
}

// =============================================================================
// REPORT
// =============================================================================

// Line is one booking in a cost report.
type Line struct {
	BookingID  engine.BookingID
	ServiceID  engine.ServiceID
	Department string
	PriceType  string
	Status     engine.Status
	Hours      decimal.Decimal
	Rate       decimal.Decimal
	Cost       decimal.Decimal
	RateFound  bool
}

// Summary aggregates lines. Cancelled bookings are listed at zero and
// excluded from totals.
type Summary struct {
	Lines        []Line
	ByDepartment map[string]decimal.Decimal
	ByService    map[engine.ServiceID]decimal.Decimal
	Total        decimal.Decimal

	// MissingRates lists bookings priced at zero because no rate matched.
	MissingRates []engine.BookingID
}

// Summarize builds a report over views in the given order.
func Summarize(views []engine.BookingView, rates RateTable) Summary {
	s := Summary{
		Lines:        make([]Line, 0, len(views)),
		ByDepartment: make(map[string]decimal.Decimal),
		ByService:    make(map[engine.ServiceID]decimal.Decimal),
		Total:        decimal.Zero,
	}

	for _, v := range views {
		rate, found := rates.Get(v.ServiceID, v.PriceType)
		cost := Cost(v.Booking, rates)
		if v.IsCancelled() {
			cost = decimal.Zero
		}
		line := Line{
			BookingID:  v.ID,
			ServiceID:  v.ServiceID,
			Department: v.Department,
			PriceType:  v.PriceType,
			Status:     v.Status,
			Hours:      decimal.NewFromFloat(v.Duration().Hours()).Round(2),
			Rate:       rate,
			Cost:       cost,
			RateFound:  found,
		}
		s.Lines = append(s.Lines, line)

		if v.IsCancelled() {
			continue
		}
		if !found {
			s.MissingRates = append(s.MissingRates, v.ID)
		}
		s.ByDepartment[v.Department] = s.ByDepartment[v.Department].Add(line.Cost)
		s.ByService[v.ServiceID] = s.ByService[v.ServiceID].Add(line.Cost)
		s.Total = s.Total.Add(line.Cost)
	}
	return s
}

// Departments returns the department keys of ByDepartment, sorted.
func (s Summary) Departments() []string {
	keys := make([]string, 0, len(s.ByDepartment))
	for k := range s.ByDepartment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
