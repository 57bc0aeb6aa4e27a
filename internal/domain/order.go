package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the order side from our perspective.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side. Match events report the taker's side,
// so reconciliation flips it when we were the maker.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes resting limit orders from stop orders.
type OrderType string

const (
	OrderTypeLimit OrderType = "limit"
	OrderTypeStop  OrderType = "stop"
)

// Order is a single exchange order. Orders are owned exclusively by the
// ledger; everything else reads copies.
type Order struct {
	ID        string
	ProductID string
	Side      Side
	Type      OrderType
	Price     decimal.Decimal
	Size      decimal.Decimal
	Filled    decimal.Decimal
	// Funds caps quote spend for stop buys. Without it the exchange would
	// consume the entire quote balance.
	Funds    decimal.Decimal
	PostOnly bool
	Settled  bool
}

// Remaining returns the unfilled size.
func (o Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.Filled)
}

// Complete reports whether the order is fully filled, within epsilon.
func (o Order) Complete() bool {
	return o.Remaining().LessThanOrEqual(SizeEpsilon)
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s %s@%s filled %s", o.ID, o.Side, o.Type, o.Size, o.Price, o.Filled)
}

// Account is one row of the exchange account snapshot.
type Account struct {
	Currency  string
	Available decimal.Decimal
	Balance   decimal.Decimal
}

// Ticker is the current market quote for a product.
type Ticker struct {
	Price decimal.Decimal
	Bid   decimal.Decimal
	Ask   decimal.Decimal
}
