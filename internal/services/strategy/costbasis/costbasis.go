// Package costbasis implements the cost-basis averaging-ladder strategy: a
// sell leg always priced a fixed percentage above the blended cost basis,
// and a buy leg sized so that its fill would move the basis down by the
// same percentage, capped at a configured number of sequential buys.
package costbasis

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/internal/domain"
	"github.com/chesswiz16/trader/internal/metrics"
)

// State labels for logging and tests.
const (
	StateUnseeded    = "unseeded"
	StateSeeded      = "seeded"
	StateBracketed   = "bracketed"
	StateLiquidating = "liquidating"
)

var one = decimal.NewFromInt(1)

// orderEngine is the slice of the engine the strategy drives.
type orderEngine interface {
	PlaceLimit(ctx context.Context, side domain.Side, size, price decimal.Decimal, postOnly bool) (domain.Order, error)
	PlaceStopBuy(ctx context.Context, size, price decimal.Decimal) (domain.Order, error)
	CancelAll(ctx context.Context) error
	GetBalance(currency string) decimal.Decimal
	OpenOrders() []domain.Order
	Ticker(ctx context.Context) (decimal.Decimal, error)
}

// CostBasis holds the strategy state machine. It owns no orders and no
// balances; it only reads ledger copies through the engine and reacts to
// settled fills.
type CostBasis struct {
	engine  orderEngine
	logger  *zap.Logger
	metrics *metrics.Metrics
	product domain.Product

	maxDepth int
	fraction decimal.Decimal
	delta    decimal.Decimal

	depth      int
	quotePaid  decimal.Decimal
	baseBought decimal.Decimal
}

func New(logger *zap.Logger, eng orderEngine, product domain.Product, maxDepth int, fraction, delta decimal.Decimal, m *metrics.Metrics) (*CostBasis, error) {
	if maxDepth < 1 {
		return nil, errors.Errorf("order depth must be at least 1, got %d", maxDepth)
	}
	if !fraction.IsPositive() || fraction.GreaterThan(one) {
		return nil, errors.Errorf("wallet fraction must be in (0, 1], got %s", fraction)
	}
	if !delta.IsPositive() || delta.GreaterThanOrEqual(one) {
		return nil, errors.Errorf("delta must be in (0, 1), got %s", delta)
	}

	return &CostBasis{
		engine:     eng,
		logger:     logger,
		metrics:    m,
		product:    product,
		maxDepth:   maxDepth,
		fraction:   fraction,
		delta:      delta,
		quotePaid:  decimal.Zero,
		baseBought: decimal.Zero,
	}, nil
}

// Depth is the count of completed buy legs since the last full liquidation.
func (s *CostBasis) Depth() int { return s.depth }

// QuotePaid is the cumulative quote currency spent on the open position.
func (s *CostBasis) QuotePaid() decimal.Decimal { return s.quotePaid }

// BaseBought is the cumulative base currency accumulated.
func (s *CostBasis) BaseBought() decimal.Decimal { return s.baseBought }

// CostBasis is the average price paid per unit held, zero when flat.
func (s *CostBasis) CostBasis() decimal.Decimal {
	if s.baseBought.IsZero() {
		return decimal.Zero
	}
	return s.quotePaid.Div(s.baseBought)
}

// State derives the strategy state label.
func (s *CostBasis) State() string {
	switch {
	case s.depth == 0 && len(s.engine.OpenOrders()) == 0:
		return StateUnseeded
	case s.depth == 0:
		return StateSeeded
	case s.depth <= s.maxDepth:
		return StateBracketed
	default:
		return StateLiquidating
	}
}

// OnStart reconstructs strategy state purely from whatever open orders the
// exchange currently reports, then seeds when starting flat.
func (s *CostBasis) OnStart(ctx context.Context) error {
	orders := s.engine.OpenOrders()

	switch len(orders) {
	case 0:
		return s.seed(ctx)

	case 1:
		o := orders[0]
		if o.Side == domain.SideSell {
			// lone sell: ladder is capped and liquidating
			s.inferFromSell(o)
			s.logger.Info("recovered liquidating state",
				zap.Int("depth", s.depth),
				zap.String("cost_basis", s.CostBasis().String()))
			return nil
		}
		// a lone buy is a stale partial seed
		s.logger.Warn("lone buy order found, reseeding", zap.String("id", o.ID))
		return s.reseed(ctx)

	case 2:
		stops, limits := splitByType(orders)
		if len(stops) == 1 && len(limits) == 1 {
			// untouched seed bracket
			s.depth = 0
			s.quotePaid = decimal.Zero
			s.baseBought = decimal.Zero
			s.logger.Info("recovered seeded state, leaving orders as-is")
			return nil
		}
		if sell, ok := findSell(orders); ok && len(stops) == 0 {
			s.inferFromSell(sell)
			s.logger.Info("recovered mid-bracket state",
				zap.Int("depth", s.depth),
				zap.String("cost_basis", s.CostBasis().String()))
			return nil
		}
		s.logger.Warn("unrecognized 2-order shape, reseeding")
		return s.reseed(ctx)

	default:
		s.logger.Warn("unrecognized open-order shape, reseeding", zap.Int("count", len(orders)))
		return s.reseed(ctx)
	}
}

// seed places the starting bracket at the current market price: a stop buy
// above and a post-only limit buy below, each funded with the wallet
// fraction of the quote balance. Any failure cancels everything, leaving a
// flat, inert state instead of a half-placed bracket.
func (s *CostBasis) seed(ctx context.Context) error {
	price, err := s.engine.Ticker(ctx)
	if err != nil {
		return errors.Wrap(err, "market price for seeding")
	}
	if !price.IsPositive() {
		return errors.Errorf("market price %s not positive", price)
	}

	allocation := s.fraction.Mul(s.engine.GetBalance(s.product.QuoteCurrency))
	size := domain.RoundBase(allocation.Div(price))

	s.logger.Info("seeding wallet",
		zap.String("price", price.String()),
		zap.String("allocation", allocation.String()),
		zap.String("size", size.String()))

	if _, err := s.engine.PlaceStopBuy(ctx, size, price.Mul(one.Add(s.delta))); err != nil {
		return s.abortSeed(ctx, err)
	}
	if _, err := s.engine.PlaceLimit(ctx, domain.SideBuy, size, price.Mul(one.Sub(s.delta)), true); err != nil {
		return s.abortSeed(ctx, err)
	}

	s.depth = 0
	s.quotePaid = decimal.Zero
	s.baseBought = decimal.Zero
	s.publishMetrics()
	return nil
}

func (s *CostBasis) abortSeed(ctx context.Context, cause error) error {
	s.logger.Warn("failed to seed wallet, canceling all open orders", zap.Error(cause))
	if err := s.engine.CancelAll(ctx); err != nil {
		s.logger.Error("cancel after failed seed", zap.Error(err))
	}
	return errors.Wrap(cause, "seed wallet")
}

func (s *CostBasis) reseed(ctx context.Context) error {
	if err := s.engine.CancelAll(ctx); err != nil {
		return errors.Wrap(err, "cancel before reseed")
	}
	return s.seed(ctx)
}

// inferFromSell backs strategy state out of a single sell leg. The
// reconstruction is a documented approximation: the sell price encodes the
// blended basis exactly, but the depth of unevenly sized legs cannot be
// recovered without fill history.
func (s *CostBasis) inferFromSell(sell domain.Order) {
	basis := sell.Price.Div(one.Add(s.delta))
	s.baseBought = sell.Size
	s.quotePaid = s.baseBought.Mul(basis)

	orderSize := s.fraction.Mul(s.engine.GetBalance(s.product.QuoteCurrency))
	if orderSize.IsPositive() {
		s.depth = int(s.quotePaid.Div(orderSize).IntPart())
	}
	if s.depth < 1 {
		s.depth = 1
	}
	s.publishMetrics()
}

// PlaceNextOrders reacts to one fully settled order. The counterpart leg
// is priced off a stale cost basis, so everything open is canceled before
// the replacement bracket goes out.
func (s *CostBasis) PlaceNextOrders(ctx context.Context, settled domain.Order) error {
	if err := s.engine.CancelAll(ctx); err != nil {
		return errors.Wrap(err, "cancel stale bracket")
	}

	if settled.Side == domain.SideSell {
		// the whole stack was liquidated, start over at market price
		s.logger.Info("position liquidated",
			zap.String("proceeds", settled.Size.Mul(settled.Price).String()),
			zap.Int("final_depth", s.depth))
		s.depth = 0
		s.quotePaid = decimal.Zero
		s.baseBought = decimal.Zero
		s.publishMetrics()
		return s.OnStart(ctx)
	}

	fillSize := settled.Filled
	if fillSize.IsZero() {
		fillSize = settled.Size
	}

	s.depth++
	s.quotePaid = s.quotePaid.Add(settled.Price.Mul(fillSize))
	s.baseBought = s.baseBought.Add(fillSize)
	basis := s.quotePaid.Div(s.baseBought)
	s.publishMetrics()

	s.logger.Info("buy leg filled",
		zap.Int("depth", s.depth),
		zap.String("quote_paid", s.quotePaid.String()),
		zap.String("base_bought", s.baseBought.String()),
		zap.String("cost_basis", basis.String()))

	// sell the entire accumulated stack at a fixed profit over basis
	if _, err := s.engine.PlaceLimit(ctx, domain.SideSell, s.baseBought, basis.Mul(one.Add(s.delta)), true); err != nil {
		return s.flatten(ctx, err)
	}

	if s.depth > s.maxDepth {
		// ladder is capped: intentionally no replacement buy
		s.logger.Info("max order depth reached, liquidating only", zap.Int("depth", s.depth))
		return nil
	}

	allocation := s.fraction.Mul(s.engine.GetBalance(s.product.QuoteCurrency))
	nextBasis := basis.Mul(one.Sub(s.delta))
	targetBase := s.quotePaid.Add(allocation).Div(nextBasis)
	nextSize := targetBase.Sub(s.baseBought)
	if nextSize.LessThanOrEqual(domain.SizeEpsilon) {
		s.logger.Warn("no quote allocation left for next buy leg",
			zap.String("allocation", allocation.String()))
		return nil
	}
	nextPrice := allocation.Div(nextSize)

	if _, err := s.engine.PlaceLimit(ctx, domain.SideBuy, nextSize, nextPrice, true); err != nil {
		return s.flatten(ctx, err)
	}
	return nil
}

// flatten cancels everything after a placement failure. A one-legged
// bracket is under-hedged; zero open orders is the safe inert state.
func (s *CostBasis) flatten(ctx context.Context, cause error) error {
	s.logger.Error("bracket placement failed, canceling all open orders", zap.Error(cause))
	if err := s.engine.CancelAll(ctx); err != nil {
		s.logger.Error("cancel after failed bracket", zap.Error(err))
	}
	return errors.Wrap(cause, "place bracket")
}

func (s *CostBasis) publishMetrics() {
	s.metrics.OrderDepth(s.depth)
	s.metrics.CostBasis(s.CostBasis())
}

func splitByType(orders []domain.Order) (stops, limits []domain.Order) {
	for _, o := range orders {
		if o.Type == domain.OrderTypeStop {
			stops = append(stops, o)
		} else {
			limits = append(limits, o)
		}
	}
	return stops, limits
}

func findSell(orders []domain.Order) (domain.Order, bool) {
	for _, o := range orders {
		if o.Side == domain.SideSell {
			return o, true
		}
	}
	return domain.Order{}, false
}
