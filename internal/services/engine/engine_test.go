package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/internal/domain"
	"github.com/chesswiz16/trader/internal/exchange"
	"github.com/chesswiz16/trader/internal/metrics"
	"github.com/chesswiz16/trader/internal/services/ledger"
)

// fakeGateway scripts the exchange side: rejections to burn through,
// canned order statuses for settlement polls, and a capture of every
// placement request.
type fakeGateway struct {
	accounts   []domain.Account
	openOrders []domain.Order
	statuses   map[string]domain.Order
	placed       []exchange.OrderRequest
	canceled     []string
	bulkCancel   int
	rejections   int
	placeErr     error
	failCancelID string
	nextID       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		accounts: []domain.Account{
			{Currency: "BTC", Available: decimal.NewFromInt(100)},
			{Currency: "USD", Available: decimal.NewFromInt(100000)},
		},
		statuses: make(map[string]domain.Order),
	}
}

func (f *fakeGateway) GetAccounts(context.Context) ([]domain.Account, error) {
	return f.accounts, nil
}

func (f *fakeGateway) GetOrders(context.Context, string) ([]domain.Order, error) {
	return f.openOrders, nil
}

func (f *fakeGateway) GetOrder(_ context.Context, id string) (domain.Order, error) {
	o, ok := f.statuses[id]
	if !ok {
		return domain.Order{}, errors.Errorf("order %s not found", id)
	}
	return o, nil
}

func (f *fakeGateway) GetTicker(context.Context, string) (domain.Ticker, error) {
	return domain.Ticker{Price: decimal.NewFromInt(100)}, nil
}

func (f *fakeGateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (domain.Order, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return domain.Order{}, f.placeErr
	}
	if f.rejections > 0 {
		f.rejections--
		return domain.Order{}, &exchange.RejectionError{Message: "post only would cross"}
	}

	f.nextID++
	o := domain.Order{
		ID:        string(rune('a' + f.nextID - 1)),
		ProductID: req.ProductID,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Size:      req.Size,
		Funds:     req.Funds,
		PostOnly:  req.PostOnly,
	}
	settled := o
	settled.Filled = settled.Size
	settled.Settled = true
	f.statuses[o.ID] = settled
	return o, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, id string) error {
	if id == f.failCancelID {
		return errors.New("order already done")
	}
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeGateway) CancelAll(context.Context, string) error {
	f.bulkCancel++
	return nil
}

type fakeHooks struct {
	settled []domain.Order
}

func (h *fakeHooks) OnStart(context.Context) error { return nil }

func (h *fakeHooks) PlaceNextOrders(_ context.Context, o domain.Order) error {
	h.settled = append(h.settled, o)
	return nil
}

func testProduct() domain.Product {
	return domain.Product{
		ID:             "BTC-USD",
		Status:         "online",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USD",
		QuoteIncrement: decimal.RequireFromString("0.5"),
		BaseMinSize:    decimal.RequireFromString("0.01"),
		BaseMaxSize:    decimal.RequireFromString("10000"),
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeGateway, *fakeHooks) {
	t.Helper()
	gw := newFakeGateway()
	led := ledger.New(zap.NewNop(), gw, testProduct())
	require.NoError(t, led.ResetBalances(context.Background()))

	e := New(zap.NewNop(), gw, led, nil, metrics.New(nil))
	e.SetSettlePoll(time.Millisecond)

	hooks := &fakeHooks{}
	e.SetHooks(hooks)
	return e, gw, hooks
}

func TestPlaceLimitDecaysPriceOnRejection(t *testing.T) {
	e, gw, _ := newTestEngine(t)
	gw.rejections = 2

	_, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	require.Len(t, gw.placed, 3)
	require.Equal(t, "100", gw.placed[0].Price.String())
	require.Equal(t, "99.5", gw.placed[1].Price.String())
	require.Equal(t, "99", gw.placed[2].Price.String())
}

func TestPlaceSellDecaysUpward(t *testing.T) {
	e, gw, _ := newTestEngine(t)
	gw.rejections = 1

	_, err := e.PlaceLimit(context.Background(), domain.SideSell,
		decimal.NewFromInt(1), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	require.Len(t, gw.placed, 2)
	require.Equal(t, "100", gw.placed[0].Price.String())
	require.Equal(t, "100.5", gw.placed[1].Price.String())
}

func TestPlaceLimitSizeOutOfBounds(t *testing.T) {
	e, gw, _ := newTestEngine(t)

	_, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.RequireFromString("0.001"), decimal.NewFromInt(100), true)
	require.ErrorIs(t, err, domain.ErrOrderPlacement)
	require.Empty(t, gw.placed, "bad size is a logic error, never sent")

	_, err = e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(20000), decimal.NewFromInt(100), true)
	require.ErrorIs(t, err, domain.ErrOrderPlacement)
}

func TestPlaceLimitExhaustsRetries(t *testing.T) {
	e, gw, _ := newTestEngine(t)
	gw.rejections = 3

	_, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(100), true)
	require.ErrorIs(t, err, domain.ErrOrderPlacement)
	require.Len(t, gw.placed, 3)
	require.Empty(t, e.OpenOrders())
}

func TestPlaceLimitHardErrorNotRetried(t *testing.T) {
	e, gw, _ := newTestEngine(t)
	gw.placeErr = errors.New("connection reset")

	_, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(100), true)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrOrderPlacement)
	require.Len(t, gw.placed, 1)
}

func TestPlaceStopBuyRecomputesFundsCap(t *testing.T) {
	e, gw, _ := newTestEngine(t)
	gw.rejections = 1

	_, err := e.PlaceStopBuy(context.Background(),
		decimal.NewFromInt(2), decimal.NewFromInt(100))
	require.NoError(t, err)

	require.Len(t, gw.placed, 2)
	require.Equal(t, "200", gw.placed[0].Funds.String())
	// stop buys walk up, and the cap follows the decayed price
	require.Equal(t, "100.5", gw.placed[1].Price.String())
	require.Equal(t, "201", gw.placed[1].Funds.String())
}

func TestPlacementReservesBalance(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)
	require.True(t, e.GetBalance("USD").Equal(decimal.NewFromInt(99800)))
}

func TestCancelOrderReleasesReserve(t *testing.T) {
	e, gw, _ := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	require.NoError(t, e.CancelOrder(context.Background(), o.ID))
	require.Equal(t, []string{o.ID}, gw.canceled)
	require.True(t, e.GetBalance("USD").Equal(decimal.NewFromInt(100000)))
	require.Empty(t, e.OpenOrders())
}

func TestCancelAllIssuesBulkBackstop(t *testing.T) {
	e, gw, _ := newTestEngine(t)

	_, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(1), decimal.NewFromInt(100), true)
	require.NoError(t, err)
	_, err = e.PlaceLimit(context.Background(), domain.SideSell,
		decimal.NewFromInt(1), decimal.NewFromInt(110), true)
	require.NoError(t, err)

	require.NoError(t, e.CancelAll(context.Background()))
	require.Len(t, gw.canceled, 2)
	require.Equal(t, 1, gw.bulkCancel)
	require.Empty(t, e.OpenOrders())
}

func TestDoneCanceledLeavesBalancesAlone(t *testing.T) {
	e, _, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)
	reserved := e.GetBalance("USD")

	err = e.HandleEvent(context.Background(), domain.DoneEvent{
		OrderID: o.ID,
		Reason:  domain.DoneReasonCanceled,
		Side:    domain.SideBuy,
	})
	require.NoError(t, err)

	// a streamed cancel carries no balance information; the reserve stays
	// debited until the next snapshot
	require.True(t, e.GetBalance("USD").Equal(reserved))
	require.Empty(t, e.OpenOrders())
	require.Empty(t, hooks.settled)
}

func TestDoneFilledCompletesAndCallsStrategy(t *testing.T) {
	e, _, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	err = e.HandleEvent(context.Background(), domain.DoneEvent{
		OrderID:       o.ID,
		Reason:        domain.DoneReasonFilled,
		Side:          domain.SideBuy,
		Price:         o.Price,
		RemainingSize: decimal.Zero,
	})
	require.NoError(t, err)

	require.Empty(t, e.OpenOrders())
	require.Len(t, hooks.settled, 1)
	require.Equal(t, o.ID, hooks.settled[0].ID)
	// balances come back from the exchange snapshot after settlement
	require.True(t, e.GetBalance("USD").Equal(decimal.NewFromInt(100000)))
}

func TestDoneForUnknownOrderForcesResync(t *testing.T) {
	e, _, hooks := newTestEngine(t)

	err := e.HandleEvent(context.Background(), domain.DoneEvent{
		OrderID: "ghost",
		Reason:  domain.DoneReasonFilled,
	})
	require.ErrorIs(t, err, domain.ErrOrderFill)
	require.Empty(t, hooks.settled)
}

func TestDoneFillRegressionForcesResync(t *testing.T) {
	e, _, _ := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	// remaining greater than size means the exchange reports less progress
	// than we have recorded
	err = e.HandleEvent(context.Background(), domain.DoneEvent{
		OrderID:       o.ID,
		Reason:        domain.DoneReasonFilled,
		RemainingSize: decimal.NewFromInt(3),
	})
	require.ErrorIs(t, err, domain.ErrOrderFill)
}

func TestMatchPartialFillKeepsOrderOpen(t *testing.T) {
	e, _, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	err = e.HandleEvent(context.Background(), domain.MatchEvent{
		MakerOrderID: o.ID,
		Side:         domain.SideBuy,
		Size:         decimal.NewFromInt(1),
		Price:        o.Price,
	})
	require.NoError(t, err)

	require.Len(t, e.OpenOrders(), 1)
	require.True(t, e.OpenOrders()[0].Filled.Equal(decimal.NewFromInt(1)))
	require.Empty(t, hooks.settled, "partial fills never reach the strategy")
}

func TestMatchAsTakerFlipsReportedSide(t *testing.T) {
	e, _, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	// we were the taker: the event reports the maker's sell
	err = e.HandleEvent(context.Background(), domain.MatchEvent{
		MakerOrderID: "someone-else",
		TakerOrderID: o.ID,
		Side:         domain.SideSell,
		Size:         decimal.NewFromInt(2),
		Price:        o.Price,
	})
	require.NoError(t, err)
	require.Len(t, hooks.settled, 1)
}

func TestMatchSideMismatchForcesResync(t *testing.T) {
	e, _, _ := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	err = e.HandleEvent(context.Background(), domain.MatchEvent{
		MakerOrderID: o.ID,
		Side:         domain.SideSell,
		Size:         decimal.NewFromInt(2),
		Price:        o.Price,
	})
	require.ErrorIs(t, err, domain.ErrOrderFill)
}

func TestMatchUnknownOrdersForcesResync(t *testing.T) {
	e, _, _ := newTestEngine(t)

	err := e.HandleEvent(context.Background(), domain.MatchEvent{
		MakerOrderID: "ghost-a",
		TakerOrderID: "ghost-b",
		Side:         domain.SideBuy,
		Size:         decimal.NewFromInt(1),
		Price:        decimal.NewFromInt(100),
	})
	require.ErrorIs(t, err, domain.ErrOrderFill)
}

func TestUnknownEventForcesResync(t *testing.T) {
	e, _, _ := newTestEngine(t)

	err := e.HandleEvent(context.Background(), domain.UnknownEvent{Type: "change"})
	require.ErrorIs(t, err, domain.ErrOrderFill)
}

func TestHeartbeatReplaysMissedFill(t *testing.T) {
	e, gw, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	// the stream dropped the match; the exchange already shows it filled
	remote := gw.statuses[o.ID]
	remote.Filled = remote.Size
	gw.statuses[o.ID] = remote

	err = e.HandleEvent(context.Background(), domain.HeartbeatEvent{Sequence: 7})
	require.NoError(t, err)
	require.Len(t, hooks.settled, 1)
	require.Equal(t, o.ID, hooks.settled[0].ID)
}

func TestDoneEchoAfterMatchCompletion(t *testing.T) {
	e, _, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	// a full fill arrives as match plus done for the same order
	err = e.HandleEvent(context.Background(), domain.MatchEvent{
		MakerOrderID: o.ID,
		Side:         domain.SideBuy,
		Size:         decimal.NewFromInt(2),
		Price:        o.Price,
	})
	require.NoError(t, err)
	require.Len(t, hooks.settled, 1)

	err = e.HandleEvent(context.Background(), domain.DoneEvent{
		OrderID:       o.ID,
		Reason:        domain.DoneReasonFilled,
		Side:          domain.SideBuy,
		Price:         o.Price,
		RemainingSize: decimal.Zero,
	})
	require.NoError(t, err)
	require.Len(t, hooks.settled, 1, "the echo must not drive the strategy twice")
}

func TestDoneCanceledAckAfterOwnCancel(t *testing.T) {
	e, _, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)
	require.NoError(t, e.CancelAll(context.Background()))
	released := e.GetBalance("USD")

	// the stream acks our own cancel after the release already happened
	err = e.HandleEvent(context.Background(), domain.DoneEvent{
		OrderID: o.ID,
		Reason:  domain.DoneReasonCanceled,
		Side:    domain.SideBuy,
	})
	require.NoError(t, err)
	require.True(t, e.GetBalance("USD").Equal(released), "ack must not credit twice")
	require.Empty(t, hooks.settled)
}

func TestMatchEchoForSettledOrderIgnored(t *testing.T) {
	e, _, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	match := domain.MatchEvent{
		MakerOrderID: o.ID,
		Side:         domain.SideBuy,
		Size:         decimal.NewFromInt(2),
		Price:        o.Price,
	}
	require.NoError(t, e.HandleEvent(context.Background(), match))

	// at-least-once delivery can replay the same match
	require.NoError(t, e.HandleEvent(context.Background(), match))
	require.Len(t, hooks.settled, 1)
}

func TestCancelAllKeepsOrderWhenCancelFails(t *testing.T) {
	e, gw, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)
	reserved := e.GetBalance("USD")

	// the exchange refuses the cancel because the order just filled
	gw.failCancelID = o.ID
	require.NoError(t, e.CancelAll(context.Background()))

	require.Len(t, e.OpenOrders(), 1, "unresolved order stays tracked")
	require.True(t, e.GetBalance("USD").Equal(reserved), "spent reserve must not come back")

	// the in-flight fill then lands on the still-tracked order
	err = e.HandleEvent(context.Background(), domain.MatchEvent{
		MakerOrderID: o.ID,
		Side:         domain.SideBuy,
		Size:         decimal.NewFromInt(2),
		Price:        o.Price,
	})
	require.NoError(t, err)
	require.Len(t, hooks.settled, 1)
}

func TestHeartbeatNoProgressIsQuiet(t *testing.T) {
	e, gw, hooks := newTestEngine(t)

	o, err := e.PlaceLimit(context.Background(), domain.SideBuy,
		decimal.NewFromInt(2), decimal.NewFromInt(100), true)
	require.NoError(t, err)

	remote := gw.statuses[o.ID]
	remote.Filled = decimal.Zero
	remote.Settled = false
	gw.statuses[o.ID] = remote

	err = e.HandleEvent(context.Background(), domain.HeartbeatEvent{Sequence: 8})
	require.NoError(t, err)
	require.Len(t, e.OpenOrders(), 1)
	require.Empty(t, hooks.settled)
}
