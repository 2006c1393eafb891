package billing

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/lab-booking/engine"
)

// RateKey identifies a price row.
type RateKey struct {
	ServiceID engine.ServiceID
	PriceType string
}

// RateTable is static price reference data.
type RateTable map[RateKey]decimal.Decimal

// Get returns the rate for a service and price type.
func (t RateTable) Get(serviceID engine.ServiceID, priceType string) (decimal.Decimal, bool) {
	r, ok := t[RateKey{ServiceID: serviceID, PriceType: priceType}]
	if !ok {
		return decimal.Zero, false
	}
	return r, true
}

// Lookup returns the rate or zero when absent.
func (t RateTable) Lookup(serviceID engine.ServiceID, priceType string) decimal.Decimal {
	r, _ := t.Get(serviceID, priceType)
	return r
}

// rateRow is the on-disk form of one rate.
type rateRow struct {
	ServiceID string          `json:"service_id"`
	PriceType string          `json:"price_type"`
	Rate      decimal.Decimal `json:"rate"`
}

// LoadRateTable reads a JSON rate file. An empty path yields an empty table.
func LoadRateTable(path string) (RateTable, error) {
	if path == "" {
		return RateTable{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rate table: %w", err)
	}
	defer f.Close()
	return ParseRateTable(f)
}

// ParseRateTable decodes [{"service_id","price_type","rate"}, ...].
// Duplicate (service_id, price_type) pairs and negative rates are rejected.
func ParseRateTable(r io.Reader) (RateTable, error) {
	var rows []rateRow
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode rate table: %w", err)
	}

	table := make(RateTable, len(rows))
	for i, row := range rows {
		if row.ServiceID == "" {
			return nil, fmt.Errorf("rate table row %d: service_id is required", i)
		}
		if row.Rate.IsNegative() {
			return nil, fmt.Errorf("rate table row %d: negative rate %s", i, row.Rate)
		}
		key := RateKey{ServiceID: engine.ServiceID(row.ServiceID), PriceType: row.PriceType}
		if _, dup := table[key]; dup {
			return nil, fmt.Errorf("rate table row %d: duplicate rate for service %s price type %q", i, row.ServiceID, row.PriceType)
		}
		table[key] = row.Rate
	}
	return table, nil
}
