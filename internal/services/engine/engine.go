// Package engine couples the order ledger to the exchange gateway: it
// places orders with decaying-price retries, reconciles streamed and polled
// fill events into ledger mutations, and drives a single strategy callback
// when an order fully settles.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/internal/domain"
	"github.com/chesswiz16/trader/internal/exchange"
	"github.com/chesswiz16/trader/internal/metrics"
	"github.com/chesswiz16/trader/internal/services/ledger"
)

const (
	defaultRetries    = 3
	defaultSettlePoll = time.Second

	// closedHistoryLimit bounds the memory of recently closed order ids
	// kept for recognizing the stream's terminal-frame echoes.
	closedHistoryLimit = 128
)

// defaultSpread is the price decay per retry, 0.6% of the target price.
var defaultSpread = decimal.RequireFromString("0.006")

// Hooks are the strategy override points. PlaceNextOrders is invoked
// synchronously for every fully filled order and is the only path that may
// place follow-up orders, which keeps strategy decisions from overlapping.
type Hooks interface {
	OnStart(ctx context.Context) error
	PlaceNextOrders(ctx context.Context, settled domain.Order) error
}

// Journal receives a record of every order mutation. Entries are
// informational and never read back by the engine.
type Journal interface {
	Placed(o domain.Order)
	Filled(o domain.Order, size, price decimal.Decimal)
	Canceled(o domain.Order)
	Resynced(reason string)
}

// gatewayClient is the slice of the exchange gateway the engine calls.
type gatewayClient interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetTicker(ctx context.Context, productID string) (domain.Ticker, error)
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context, productID string) error
}

// Engine owns one product's order flow. All methods run on the single
// processing goroutine.
type Engine struct {
	client  gatewayClient
	ledger  *ledger.Ledger
	journal Journal
	metrics *metrics.Metrics
	logger  *zap.Logger
	hooks   Hooks
	product domain.Product

	retries    int
	spread     decimal.Decimal
	settlePoll time.Duration

	// reconciling suppresses heartbeat-triggered missed-fill polling while
	// a fill sequence (including the settlement wait) is in flight.
	reconciling bool

	// closedIDs remembers orders this engine completed or canceled. The
	// user channel echoes a done frame for every terminal order, including
	// ones the engine already removed: the done half of a match+done pair
	// and the acks of our own cancels. Those echoes must not be mistaken
	// for unaccounted orders.
	closedIDs  map[string]struct{}
	closedList []string
}

func New(logger *zap.Logger, client gatewayClient, led *ledger.Ledger, journal Journal, m *metrics.Metrics) *Engine {
	return &Engine{
		client:     client,
		ledger:     led,
		journal:    journal,
		metrics:    m,
		logger:     logger,
		product:    led.Product(),
		retries:    defaultRetries,
		spread:     defaultSpread,
		settlePoll: defaultSettlePoll,
		closedIDs:  make(map[string]struct{}),
	}
}

func (e *Engine) markClosed(id string) {
	if _, ok := e.closedIDs[id]; ok {
		return
	}
	e.closedIDs[id] = struct{}{}
	e.closedList = append(e.closedList, id)
	if len(e.closedList) > closedHistoryLimit {
		delete(e.closedIDs, e.closedList[0])
		e.closedList = e.closedList[1:]
	}
}

func (e *Engine) wasClosed(id string) bool {
	_, ok := e.closedIDs[id]
	return ok
}

// SetHooks wires the strategy in after construction; the strategy needs
// the engine first, so wiring is two-phase.
func (e *Engine) SetHooks(h Hooks) {
	e.hooks = h
}

// SetRetries overrides the number of decaying placement attempts.
func (e *Engine) SetRetries(n int) {
	if n > 0 {
		e.retries = n
	}
}

// SetSpread overrides the per-retry price decay fraction.
func (e *Engine) SetSpread(s decimal.Decimal) {
	if s.IsPositive() {
		e.spread = s
	}
}

// SetSettlePoll overrides the settlement poll interval, for tests.
func (e *Engine) SetSettlePoll(d time.Duration) {
	if d > 0 {
		e.settlePoll = d
	}
}

// GetBalance returns the available ledger balance for a currency.
func (e *Engine) GetBalance(currency string) decimal.Decimal {
	return e.ledger.GetBalance(currency)
}

// OpenOrders returns copies of the tracked open orders.
func (e *Engine) OpenOrders() []domain.Order {
	return e.ledger.Orders()
}

// Ticker returns the current market price for the traded product.
func (e *Engine) Ticker(ctx context.Context) (decimal.Decimal, error) {
	t, err := e.client.GetTicker(ctx, e.product.ID)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "ticker for %s", e.product.ID)
	}
	return t.Price, nil
}

// Resync rebuilds balances and open orders from the exchange. Called at
// startup and whenever local state is judged untrustworthy.
func (e *Engine) Resync(ctx context.Context, reason string) error {
	e.logger.Warn("resyncing ledger from exchange", zap.String("reason", reason))
	if e.journal != nil {
		e.journal.Resynced(reason)
	}
	e.metrics.ResyncForced()

	if err := e.ledger.ResetOpenOrders(ctx); err != nil {
		return err
	}
	return e.ledger.ResetBalances(ctx)
}

// PlaceLimit places a limit order through the decaying protocol.
func (e *Engine) PlaceLimit(ctx context.Context, side domain.Side, size, price decimal.Decimal, postOnly bool) (domain.Order, error) {
	return e.placeDecaying(ctx, exchange.OrderRequest{
		ProductID: e.product.ID,
		Side:      side,
		Type:      domain.OrderTypeLimit,
		Price:     price,
		Size:      domain.RoundBase(size),
		PostOnly:  postOnly,
	})
}

// PlaceStopBuy places a stop buy with a funds cap of size*price. The cap
// keeps the exchange from consuming the entire quote balance on trigger.
func (e *Engine) PlaceStopBuy(ctx context.Context, size, price decimal.Decimal) (domain.Order, error) {
	size = domain.RoundBase(size)
	return e.placeDecaying(ctx, exchange.OrderRequest{
		ProductID: e.product.ID,
		Side:      domain.SideBuy,
		Type:      domain.OrderTypeStop,
		Price:     price,
		Size:      size,
		Funds:     domain.RoundQuote(size.Mul(price)),
	})
}

// placeDecaying submits an order, walking the price to a less aggressive
// level on each exchange rejection. A size outside the product bounds is a
// logic error and is not retried.
func (e *Engine) placeDecaying(ctx context.Context, req exchange.OrderRequest) (domain.Order, error) {
	if req.Size.LessThan(e.product.BaseMinSize) || req.Size.GreaterThan(e.product.BaseMaxSize) {
		return domain.Order{}, errors.Wrapf(domain.ErrOrderPlacement,
			"size %s outside [%s, %s]", req.Size, e.product.BaseMinSize, e.product.BaseMaxSize)
	}

	// buys walk down, sells and stop buys walk up
	direction := decimal.NewFromInt(1)
	if req.Side == domain.SideBuy && req.Type == domain.OrderTypeLimit {
		direction = decimal.NewFromInt(-1)
	}

	target := req.Price
	for i := 0; i < e.retries; i++ {
		step := decimal.NewFromInt(int64(i)).Mul(e.spread).Mul(direction)
		req.Price = e.product.SnapPrice(target.Add(target.Mul(step)))
		if req.Type == domain.OrderTypeStop {
			req.Funds = domain.RoundQuote(req.Size.Mul(req.Price))
		}

		placed, err := e.client.PlaceOrder(ctx, req)
		if err != nil {
			var rejection *exchange.RejectionError
			if errors.As(err, &rejection) {
				e.logger.Warn("order rejected, decaying price",
					zap.String("side", string(req.Side)),
					zap.String("price", req.Price.String()),
					zap.Int("attempt", i+1),
					zap.String("reason", rejection.Message))
				continue
			}
			return domain.Order{}, errors.Wrapf(err, "place %s %s", req.Side, req.Type)
		}

		e.ledger.AddOrder(placed)
		if e.journal != nil {
			e.journal.Placed(placed)
		}
		e.metrics.OrderPlaced(string(req.Side), string(req.Type))
		e.metrics.OpenOrders(e.ledger.Len())
		e.logger.Info("order placed",
			zap.String("id", placed.ID),
			zap.String("side", string(placed.Side)),
			zap.String("type", string(placed.Type)),
			zap.String("size", placed.Size.String()),
			zap.String("price", placed.Price.String()))
		return placed, nil
	}

	return domain.Order{}, errors.Wrapf(domain.ErrOrderPlacement,
		"%s %s for %s exhausted %d attempts", req.Side, req.Type, req.Size, e.retries)
}

// CancelOrder cancels a single order and releases its reserved funds.
func (e *Engine) CancelOrder(ctx context.Context, id string) error {
	if err := e.client.CancelOrder(ctx, id); err != nil {
		return errors.Wrapf(err, "cancel order %s", id)
	}
	if o, ok := e.ledger.ReleaseOrder(id); ok {
		e.markClosed(id)
		if e.journal != nil {
			e.journal.Canceled(o)
		}
		e.metrics.OrderCanceled()
	}
	e.metrics.OpenOrders(e.ledger.Len())
	return nil
}

// CancelAll cancels every tracked order individually, then issues the bulk
// cancel as a backstop. The per-order cancel is the authoritative signal;
// the bulk call is not assumed to be reliable.
func (e *Engine) CancelAll(ctx context.Context) error {
	for _, o := range e.ledger.Orders() {
		if err := e.client.CancelOrder(ctx, o.ID); err != nil {
			// the order may have just filled; releasing its reserve now
			// would credit money that was spent, so it stays tracked for
			// the fill event or the heartbeat reconciler
			e.logger.Warn("cancel failed, order left tracked",
				zap.String("id", o.ID), zap.Error(err))
			continue
		}
		if released, ok := e.ledger.ReleaseOrder(o.ID); ok {
			e.markClosed(o.ID)
			if e.journal != nil {
				e.journal.Canceled(released)
			}
			e.metrics.OrderCanceled()
		}
	}

	if err := e.client.CancelAll(ctx, e.product.ID); err != nil {
		e.logger.Warn("bulk cancel failed", zap.Error(err))
	}
	e.metrics.OpenOrders(e.ledger.Len())
	return nil
}

// HandleEvent applies one streamed event. An event of unexpected shape, or
// one referencing an order we do not track, forces a full resync and
// surfaces ErrOrderFill; the caller decides whether that is survivable.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.Event) error {
	switch ev := ev.(type) {
	case domain.HeartbeatEvent:
		if e.reconciling {
			return nil
		}
		return e.checkMissedFills(ctx)
	case domain.DoneEvent:
		return e.handleDone(ctx, ev)
	case domain.MatchEvent:
		return e.handleMatch(ctx, ev)
	case domain.UnknownEvent:
		return e.fillFailure(ctx, errors.Errorf("unrecognized event type %q", ev.Type))
	default:
		return e.fillFailure(ctx, errors.Errorf("unhandled event %T", ev))
	}
}

func (e *Engine) handleDone(ctx context.Context, ev domain.DoneEvent) error {
	order, ok := e.ledger.Order(ev.OrderID)
	if !ok {
		// cancel acks always arrive after the explicit cancel already
		// released the order
		if ev.Reason == domain.DoneReasonCanceled {
			e.logger.Debug("cancel ack for untracked order", zap.String("id", ev.OrderID))
			return nil
		}
		// the done half of a match+done pair arrives after the match
		// completed the order
		if e.wasClosed(ev.OrderID) && ev.RemainingSize.LessThanOrEqual(domain.SizeEpsilon) {
			e.logger.Debug("done echo for completed order", zap.String("id", ev.OrderID))
			return nil
		}
		return e.fillFailure(ctx, errors.Errorf("done event for unknown order %s", ev.OrderID))
	}

	if ev.Reason == domain.DoneReasonCanceled {
		e.ledger.RemoveOrder(order.ID)
		e.markClosed(order.ID)
		if e.journal != nil {
			e.journal.Canceled(order)
		}
		e.metrics.OpenOrders(e.ledger.Len())
		e.logger.Info("order canceled by exchange", zap.String("id", order.ID))
		return nil
	}

	// done-style events report total progress as size minus remaining
	totalFilled := order.Size.Sub(ev.RemainingSize)
	delta := totalFilled.Sub(order.Filled)
	if delta.IsNegative() {
		return e.fillFailure(ctx, errors.Errorf("done event regresses fill for %s: %s < %s",
			order.ID, totalFilled, order.Filled))
	}

	return e.applyFill(ctx, order.ID, delta, ev.Price)
}

func (e *Engine) handleMatch(ctx context.Context, ev domain.MatchEvent) error {
	// the event always reports the taker's side: matched as maker, our
	// side is the reported one; matched as taker, it must be flipped
	id := ev.MakerOrderID
	side := ev.Side
	if _, ok := e.ledger.Order(id); !ok {
		id = ev.TakerOrderID
		side = ev.Side.Opposite()
		if _, ok := e.ledger.Order(id); !ok {
			// at-least-once delivery: a replayed match for an order the
			// engine already settled carries no new information
			if e.wasClosed(ev.MakerOrderID) || e.wasClosed(ev.TakerOrderID) {
				e.logger.Debug("match echo for closed order",
					zap.String("maker", ev.MakerOrderID), zap.String("taker", ev.TakerOrderID))
				return nil
			}
			return e.fillFailure(ctx, errors.Errorf("match event for unknown orders %s/%s",
				ev.MakerOrderID, ev.TakerOrderID))
		}
	}

	order, _ := e.ledger.Order(id)
	if order.Side != side {
		return e.fillFailure(ctx, errors.Errorf("match side %s disagrees with order %s side %s",
			ev.Side, order.ID, order.Side))
	}

	return e.applyFill(ctx, id, ev.Size, ev.Price)
}

// applyFill advances the fill, and on completion removes the order, waits
// for settlement, refreshes balances and hands the settled order to the
// strategy. Exactly one strategy call per completed order.
func (e *Engine) applyFill(ctx context.Context, id string, delta, price decimal.Decimal) error {
	updated, err := e.ledger.ApplyFill(id, delta, price)
	if err != nil {
		return e.fillFailure(ctx, err)
	}
	if e.journal != nil {
		e.journal.Filled(updated, delta, price)
	}
	e.metrics.Fill(string(updated.Side), delta)

	if !updated.Complete() {
		e.logger.Info("partial fill",
			zap.String("id", updated.ID),
			zap.String("filled", updated.Filled.String()),
			zap.String("remaining", updated.Remaining().String()))
		return nil
	}

	e.ledger.RemoveOrder(updated.ID)
	e.markClosed(updated.ID)
	e.metrics.OpenOrders(e.ledger.Len())
	return e.completeFill(ctx, updated)
}

func (e *Engine) completeFill(ctx context.Context, settled domain.Order) error {
	e.reconciling = true
	defer func() { e.reconciling = false }()

	e.logger.Info("order fully filled",
		zap.String("id", settled.ID),
		zap.String("side", string(settled.Side)),
		zap.String("size", settled.Size.String()),
		zap.String("price", settled.Price.String()))

	if err := e.awaitSettlement(ctx, settled.ID); err != nil {
		return err
	}
	if err := e.ledger.ResetBalances(ctx); err != nil {
		return err
	}

	if e.hooks == nil {
		return nil
	}
	return e.hooks.PlaceNextOrders(ctx, settled)
}

// awaitSettlement polls order status until the exchange reports it
// settled. Intentionally unbounded: proceeding with stale balances is
// worse than stalling this product, so an exchange that never settles
// stalls us fail-stop.
func (e *Engine) awaitSettlement(ctx context.Context, id string) error {
	for {
		o, err := e.client.GetOrder(ctx, id)
		if err != nil {
			e.logger.Warn("settlement poll failed", zap.String("id", id), zap.Error(err))
		} else if o.Settled {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.settlePoll):
		}
	}
}

// checkMissedFills compares exchange-reported progress against the local
// cache for every open order and replays anything the stream never
// delivered, giving fills at-least-once semantics.
func (e *Engine) checkMissedFills(ctx context.Context) error {
	e.reconciling = true
	defer func() { e.reconciling = false }()

	for _, local := range e.ledger.Orders() {
		remote, err := e.client.GetOrder(ctx, local.ID)
		if err != nil {
			e.logger.Warn("order status poll failed", zap.String("id", local.ID), zap.Error(err))
			continue
		}

		delta := remote.Filled.Sub(local.Filled)
		if delta.LessThanOrEqual(domain.SizeEpsilon) {
			continue
		}

		e.logger.Warn("missed fill detected, replaying",
			zap.String("id", local.ID),
			zap.String("local_filled", local.Filled.String()),
			zap.String("exchange_filled", remote.Filled.String()))
		e.metrics.MissedFill()

		price := remote.Price
		if price.IsZero() {
			price = local.Price
		}
		if err := e.applyFill(ctx, local.ID, delta, price); err != nil {
			return err
		}
	}
	return nil
}

// fillFailure forces a full resync and re-raises. Local state may have
// drifted from the exchange, and silent drift is the highest-risk failure
// mode for a system moving money.
func (e *Engine) fillFailure(ctx context.Context, cause error) error {
	e.logger.Error("fill reconciliation failed", zap.Error(cause))
	if err := e.Resync(ctx, "fill reconciliation failure"); err != nil {
		e.logger.Error("forced resync failed", zap.Error(err))
	}
	if errors.Is(cause, domain.ErrOrderFill) {
		return cause
	}
	return errors.Wrap(domain.ErrOrderFill, cause.Error())
}
