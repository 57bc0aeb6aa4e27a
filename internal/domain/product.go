package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// basePrecision is the number of decimal places recorded for crypto
	// base currency sizes before they are sent to the exchange.
	basePrecision = 8
	// quotePrecision is the number of decimal places for fiat quote amounts.
	quotePrecision = 2
)

// SizeEpsilon is the threshold below which a remaining order size is
// considered fully filled.
var SizeEpsilon = decimal.New(1, -basePrecision)

// Product describes a tradable currency pair. Loaded once from the
// exchange at construction and immutable afterwards.
type Product struct {
	ID             string
	Status         string
	BaseCurrency   string
	QuoteCurrency  string
	QuoteIncrement decimal.Decimal
	BaseMinSize    decimal.Decimal
	BaseMaxSize    decimal.Decimal
}

// Validate checks the product invariants: a positive price increment and
// a sane size range.
func (p Product) Validate() error {
	if !p.QuoteIncrement.IsPositive() {
		return fmt.Errorf("product %s: quote increment %s must be positive", p.ID, p.QuoteIncrement)
	}
	if p.BaseMinSize.GreaterThan(p.BaseMaxSize) {
		return fmt.Errorf("product %s: min size %s exceeds max size %s", p.ID, p.BaseMinSize, p.BaseMaxSize)
	}
	return nil
}

// SnapPrice snaps a price to the nearest multiple of the product's quote
// increment. Exchanges reject orders priced off the allowed grid. The
// price is first rounded to the whole unit, then the sub-unit remainder is
// expressed in increments:
//
//	snap(p) = round(p) + round((p - round(p)) / increment) * increment
//
// Snapping is idempotent: a price already on the grid maps to itself.
func (p Product) SnapPrice(price decimal.Decimal) decimal.Decimal {
	whole := price.Round(0)
	increments := price.Sub(whole).Div(p.QuoteIncrement).Round(0)
	return whole.Add(increments.Mul(p.QuoteIncrement))
}

// RoundBase rounds a base currency size to the precision recorded in the
// ledger and accepted by the exchange.
func RoundBase(size decimal.Decimal) decimal.Decimal {
	return size.Round(basePrecision)
}

// RoundQuote rounds a quote currency amount to fiat precision.
func RoundQuote(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(quotePrecision)
}
