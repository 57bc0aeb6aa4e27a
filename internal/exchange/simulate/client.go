// Package simulate is an in-memory exchange used by the backtester and by
// engine tests. It models available-balance holds the way the real
// exchange does, fills resting orders when a candle crosses their price,
// and reports every completed order as settled.
package simulate

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/internal/domain"
	"github.com/chesswiz16/trader/internal/exchange"
)

var two = decimal.NewFromInt(2)

// Client implements exchange.Client against in-memory state.
type Client struct {
	logger    *zap.Logger
	product   domain.Product
	balances  map[string]decimal.Decimal
	open      map[string]*domain.Order
	completed map[string]domain.Order
	lastPrice decimal.Decimal
}

// New starts the simulated exchange with the given quote balance and no
// base currency.
func New(logger *zap.Logger, product domain.Product, startingQuote decimal.Decimal) *Client {
	return &Client{
		logger:  logger,
		product: product,
		balances: map[string]decimal.Decimal{
			product.BaseCurrency:  decimal.Zero,
			product.QuoteCurrency: startingQuote,
		},
		open:      make(map[string]*domain.Order),
		completed: make(map[string]domain.Order),
	}
}

// SetPrice moves the simulated market price without filling anything.
func (c *Client) SetPrice(p decimal.Decimal) {
	c.lastPrice = p
}

func (c *Client) GetProducts(context.Context) ([]domain.Product, error) {
	return []domain.Product{c.product}, nil
}

func (c *Client) GetAccounts(context.Context) ([]domain.Account, error) {
	accounts := make([]domain.Account, 0, len(c.balances))
	for currency, available := range c.balances {
		accounts = append(accounts, domain.Account{
			Currency:  currency,
			Available: available,
			Balance:   available,
		})
	}
	return accounts, nil
}

func (c *Client) GetOrders(_ context.Context, productID string) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(c.open))
	for _, o := range c.open {
		if o.ProductID == productID {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (c *Client) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	if o, ok := c.open[orderID]; ok {
		return *o, nil
	}
	if o, ok := c.completed[orderID]; ok {
		return o, nil
	}
	return domain.Order{}, errors.Errorf("order %s not found", orderID)
}

func (c *Client) GetTicker(context.Context, string) (domain.Ticker, error) {
	return domain.Ticker{Price: c.lastPrice, Bid: c.lastPrice, Ask: c.lastPrice}, nil
}

func (c *Client) PlaceOrder(_ context.Context, req exchange.OrderRequest) (domain.Order, error) {
	order := domain.Order{
		ID:        uuid.NewString(),
		ProductID: req.ProductID,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Size:      req.Size,
		Funds:     req.Funds,
		PostOnly:  req.PostOnly,
	}

	// hold the funds the way the exchange would
	if req.Side == domain.SideBuy {
		hold := req.Size.Mul(req.Price)
		if c.balances[c.product.QuoteCurrency].LessThan(hold) {
			return domain.Order{}, &exchange.RejectionError{Message: "insufficient funds"}
		}
		c.balances[c.product.QuoteCurrency] = c.balances[c.product.QuoteCurrency].Sub(hold)
	} else {
		if c.balances[c.product.BaseCurrency].LessThan(req.Size) {
			return domain.Order{}, &exchange.RejectionError{Message: "insufficient funds"}
		}
		c.balances[c.product.BaseCurrency] = c.balances[c.product.BaseCurrency].Sub(req.Size)
	}

	c.open[order.ID] = &order
	return order, nil
}

func (c *Client) CancelOrder(_ context.Context, orderID string) error {
	o, ok := c.open[orderID]
	if !ok {
		return errors.Errorf("order %s not open", orderID)
	}
	delete(c.open, orderID)

	// release the hold on the unfilled remainder
	if o.Side == domain.SideBuy {
		c.balances[c.product.QuoteCurrency] = c.balances[c.product.QuoteCurrency].Add(o.Remaining().Mul(o.Price))
	} else {
		c.balances[c.product.BaseCurrency] = c.balances[c.product.BaseCurrency].Add(o.Remaining())
	}
	return nil
}

func (c *Client) CancelAll(ctx context.Context, productID string) error {
	for id, o := range c.open {
		if o.ProductID == productID {
			if err := c.CancelOrder(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnTick advances the market through one candle. At most one resting order
// fills per tick, mirroring serial event delivery; the engine's reaction
// replaces the rest of the bracket anyway. Returns the fill event, if any.
func (c *Client) OnTick(low, high decimal.Decimal) (domain.Event, bool) {
	c.lastPrice = low.Add(high).Div(two)

	for id, o := range c.open {
		if !c.triggered(*o, low, high) {
			continue
		}

		filled := *o
		filled.Filled = filled.Size
		filled.Settled = true
		delete(c.open, id)
		c.completed[id] = filled

		// settle the trade on the exchange side
		if filled.Side == domain.SideBuy {
			c.balances[c.product.BaseCurrency] = c.balances[c.product.BaseCurrency].Add(filled.Size)
		} else {
			c.balances[c.product.QuoteCurrency] = c.balances[c.product.QuoteCurrency].Add(filled.Size.Mul(filled.Price))
		}

		c.logger.Debug("simulated fill",
			zap.String("id", id),
			zap.String("side", string(filled.Side)),
			zap.String("price", filled.Price.String()))

		return domain.MatchEvent{
			MakerOrderID: id,
			Side:         filled.Side,
			Size:         filled.Size,
			Price:        filled.Price,
		}, true
	}
	return nil, false
}

func (c *Client) triggered(o domain.Order, low, high decimal.Decimal) bool {
	switch {
	case o.Type == domain.OrderTypeStop:
		// stop buys trigger when the market trades up through the stop
		return high.GreaterThanOrEqual(o.Price)
	case o.Side == domain.SideBuy:
		return low.LessThanOrEqual(o.Price)
	default:
		return high.GreaterThanOrEqual(o.Price)
	}
}
