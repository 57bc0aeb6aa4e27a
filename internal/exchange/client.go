// Package exchange defines the gateway boundary between the trading engine
// and an exchange. The engine depends only on these interfaces; concrete
// transports live in subpackages.
package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chesswiz16/trader/internal/domain"
)

// OrderRequest is a single order submission.
type OrderRequest struct {
	ProductID string
	Side      domain.Side
	Type      domain.OrderType
	Price     decimal.Decimal
	Size      decimal.Decimal
	// Funds caps quote spend; required for stop buys.
	Funds    decimal.Decimal
	PostOnly bool
}

// RejectionError is an exchange-side refusal to accept an order, most
// commonly "would take liquidity" on a post-only submission. It is the
// retryable error class for the decaying placement protocol; transport
// errors are not wrapped in it.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Message)
}

// Client is the synchronous REST surface consumed by the engine. All calls
// block the processing thread for their duration.
type Client interface {
	GetProducts(ctx context.Context) ([]domain.Product, error)
	GetAccounts(ctx context.Context) ([]domain.Account, error)
	// GetOrders returns the current open orders for the product.
	GetOrders(ctx context.Context, productID string) ([]domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetTicker(ctx context.Context, productID string) (domain.Ticker, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context, productID string) error
}

// Feed delivers order-lifecycle events for a product. Implementations own
// reconnection; Events is closed only when Run returns.
type Feed interface {
	// Run blocks, reading the stream and pushing decoded events until the
	// context is canceled.
	Run(ctx context.Context) error
	Events() <-chan domain.Event
}
