// Package ledger is the single source of truth for what the engine holds
// and which orders are outstanding. It is never persisted: state is rebuilt
// from the exchange on every restart and after any reconciliation failure.
package ledger

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/internal/domain"
)

// snapshotClient is the slice of the exchange gateway the ledger pulls
// authoritative state from.
type snapshotClient interface {
	GetAccounts(ctx context.Context) ([]domain.Account, error)
	GetOrders(ctx context.Context, productID string) ([]domain.Order, error)
}

// Ledger tracks per-currency available balances and the open-order map for
// one product. All mutations happen on the single processing goroutine, so
// no locking is needed.
type Ledger struct {
	client   snapshotClient
	product  domain.Product
	logger   *zap.Logger
	balances map[string]decimal.Decimal
	orders   map[string]*domain.Order
}

func New(logger *zap.Logger, client snapshotClient, product domain.Product) *Ledger {
	return &Ledger{
		client:   client,
		product:  product,
		logger:   logger,
		balances: make(map[string]decimal.Decimal),
		orders:   make(map[string]*domain.Order),
	}
}

// ResetBalances replaces the balance map with the exchange account
// snapshot. Both the base and quote currency must be present; a missing
// currency means the exchange profile is misconfigured and is fatal for
// this instance.
func (l *Ledger) ResetBalances(ctx context.Context) error {
	accounts, err := l.client.GetAccounts(ctx)
	if err != nil {
		return errors.Wrap(err, "pull account snapshot")
	}

	balances := make(map[string]decimal.Decimal, len(accounts))
	for _, a := range accounts {
		balances[a.Currency] = a.Available
	}

	for _, currency := range []string{l.product.BaseCurrency, l.product.QuoteCurrency} {
		if _, ok := balances[currency]; !ok {
			return errors.Wrapf(domain.ErrAccountBalance, "%s not in snapshot", currency)
		}
	}

	l.balances = balances
	l.logger.Info("balances reset",
		zap.String(l.product.BaseCurrency, l.balances[l.product.BaseCurrency].String()),
		zap.String(l.product.QuoteCurrency, l.balances[l.product.QuoteCurrency].String()))
	return nil
}

// ResetOpenOrders replaces the open-order map wholesale with the exchange
// order snapshot. Used at startup and whenever reconciliation state is
// judged untrustworthy.
func (l *Ledger) ResetOpenOrders(ctx context.Context) error {
	open, err := l.client.GetOrders(ctx, l.product.ID)
	if err != nil {
		return errors.Wrap(err, "pull order snapshot")
	}

	orders := make(map[string]*domain.Order, len(open))
	for _, o := range open {
		order := o
		orders[order.ID] = &order
	}

	l.orders = orders
	l.logger.Info("open orders reset", zap.Int("count", len(orders)))
	return nil
}

// GetBalance returns the available balance for a currency, zero when the
// currency has never been recorded.
func (l *Ledger) GetBalance(currency string) decimal.Decimal {
	return l.balances[currency]
}

// Credit adds to a currency balance.
func (l *Ledger) Credit(currency string, amount decimal.Decimal) {
	l.balances[currency] = l.balances[currency].Add(amount)
}

// Debit subtracts from a currency balance.
func (l *Ledger) Debit(currency string, amount decimal.Decimal) {
	l.balances[currency] = l.balances[currency].Sub(amount)
}

// AddOrder records an order confirmed by the exchange and reserves the
// funds it holds: quote for a buy, base for a sell. Reservation happens
// only here, after the placement call succeeded, never optimistically.
func (l *Ledger) AddOrder(o domain.Order) {
	order := o
	l.orders[order.ID] = &order

	if order.Side == domain.SideBuy {
		l.Debit(l.product.QuoteCurrency, domain.RoundQuote(order.Size.Mul(order.Price)))
	} else {
		l.Debit(l.product.BaseCurrency, domain.RoundBase(order.Size))
	}
}

// Order returns a copy of a tracked order.
func (l *Ledger) Order(id string) (domain.Order, bool) {
	o, ok := l.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Orders returns copies of all tracked open orders.
func (l *Ledger) Orders() []domain.Order {
	out := make([]domain.Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, *o)
	}
	return out
}

// Len returns the number of tracked open orders.
func (l *Ledger) Len() int {
	return len(l.orders)
}

// RemoveOrder drops an order from the map without touching balances. This
// is the event path: a streamed cancellation releases nothing because the
// explicit cancel already did, and the settlement rebalance trues up the
// rest.
func (l *Ledger) RemoveOrder(id string) (domain.Order, bool) {
	o, ok := l.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	delete(l.orders, id)
	return *o, true
}

// ReleaseOrder drops an order and credits back the reserve held for its
// unfilled remainder. This is the explicit-cancel path.
func (l *Ledger) ReleaseOrder(id string) (domain.Order, bool) {
	o, ok := l.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	delete(l.orders, id)

	if o.Side == domain.SideBuy {
		l.Credit(l.product.QuoteCurrency, domain.RoundQuote(o.Remaining().Mul(o.Price)))
	} else {
		l.Credit(l.product.BaseCurrency, domain.RoundBase(o.Remaining()))
	}
	return *o, true
}

// ApplyFill advances an order's filled size by delta and credits the
// proceeds: base currency for a buy, quote currency for a sell. The quote
// debit for a buy (and base debit for a sell) already happened at
// placement time. Returns a copy of the updated order.
func (l *Ledger) ApplyFill(id string, delta, price decimal.Decimal) (domain.Order, error) {
	o, ok := l.orders[id]
	if !ok {
		return domain.Order{}, errors.Wrapf(domain.ErrOrderFill, "order %s not tracked", id)
	}

	o.Filled = domain.RoundBase(o.Filled.Add(delta))

	if o.Side == domain.SideBuy {
		l.Credit(l.product.BaseCurrency, domain.RoundBase(delta))
	} else {
		l.Credit(l.product.QuoteCurrency, domain.RoundQuote(delta.Mul(price)))
	}
	return *o, nil
}

// Product returns the traded product definition.
func (l *Ledger) Product() domain.Product {
	return l.product
}
