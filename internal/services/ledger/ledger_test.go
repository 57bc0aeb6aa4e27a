package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/internal/domain"
)

type fakeSnapshots struct {
	accounts []domain.Account
	orders   []domain.Order
}

func (f *fakeSnapshots) GetAccounts(context.Context) ([]domain.Account, error) {
	return f.accounts, nil
}

func (f *fakeSnapshots) GetOrders(context.Context, string) ([]domain.Order, error) {
	return f.orders, nil
}

func btcUSD() domain.Product {
	return domain.Product{
		ID:             "BTC-USD",
		Status:         "online",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USD",
		QuoteIncrement: decimal.RequireFromString("0.01"),
		BaseMinSize:    decimal.RequireFromString("0.01"),
		BaseMaxSize:    decimal.RequireFromString("10000"),
	}
}

func TestResetBalances(t *testing.T) {
	client := &fakeSnapshots{accounts: []domain.Account{
		{Currency: "BTC", Available: decimal.RequireFromString("2.5")},
		{Currency: "USD", Available: decimal.NewFromInt(10000)},
		{Currency: "ETH", Available: decimal.NewFromInt(7)},
	}}
	l := New(zap.NewNop(), client, btcUSD())

	require.NoError(t, l.ResetBalances(context.Background()))
	require.True(t, l.GetBalance("BTC").Equal(decimal.RequireFromString("2.5")))
	require.True(t, l.GetBalance("USD").Equal(decimal.NewFromInt(10000)))
}

func TestResetBalancesMissingCurrency(t *testing.T) {
	client := &fakeSnapshots{accounts: []domain.Account{
		{Currency: "USD", Available: decimal.NewFromInt(10000)},
	}}
	l := New(zap.NewNop(), client, btcUSD())

	err := l.ResetBalances(context.Background())
	require.ErrorIs(t, err, domain.ErrAccountBalance)
}

func TestGetBalanceUnknownCurrency(t *testing.T) {
	l := New(zap.NewNop(), &fakeSnapshots{}, btcUSD())
	require.True(t, l.GetBalance("DOGE").IsZero())
}

func TestAddOrderReservesFunds(t *testing.T) {
	l := New(zap.NewNop(), &fakeSnapshots{}, btcUSD())
	l.Credit("USD", decimal.NewFromInt(10000))
	l.Credit("BTC", decimal.NewFromInt(5))

	l.AddOrder(domain.Order{
		ID:    "b1",
		Side:  domain.SideBuy,
		Type:  domain.OrderTypeLimit,
		Price: decimal.NewFromInt(100),
		Size:  decimal.NewFromInt(10),
	})
	require.True(t, l.GetBalance("USD").Equal(decimal.NewFromInt(9000)), "buy reserves quote")

	l.AddOrder(domain.Order{
		ID:    "s1",
		Side:  domain.SideSell,
		Type:  domain.OrderTypeLimit,
		Price: decimal.NewFromInt(200),
		Size:  decimal.NewFromInt(2),
	})
	require.True(t, l.GetBalance("BTC").Equal(decimal.NewFromInt(3)), "sell reserves base")
	require.Equal(t, 2, l.Len())
}

func TestReleaseOrderCreditsRemainder(t *testing.T) {
	l := New(zap.NewNop(), &fakeSnapshots{}, btcUSD())
	l.Credit("USD", decimal.NewFromInt(10000))
	l.AddOrder(domain.Order{
		ID:    "b1",
		Side:  domain.SideBuy,
		Price: decimal.NewFromInt(100),
		Size:  decimal.NewFromInt(10),
	})

	// half the order fills, then we cancel the rest
	_, err := l.ApplyFill("b1", decimal.NewFromInt(5), decimal.NewFromInt(100))
	require.NoError(t, err)

	_, ok := l.ReleaseOrder("b1")
	require.True(t, ok)
	require.True(t, l.GetBalance("USD").Equal(decimal.NewFromInt(9500)))
	require.True(t, l.GetBalance("BTC").Equal(decimal.NewFromInt(5)))
	require.Equal(t, 0, l.Len())
}

func TestRemoveOrderLeavesBalancesAlone(t *testing.T) {
	l := New(zap.NewNop(), &fakeSnapshots{}, btcUSD())
	l.Credit("USD", decimal.NewFromInt(1000))
	l.AddOrder(domain.Order{
		ID:    "b1",
		Side:  domain.SideBuy,
		Price: decimal.NewFromInt(100),
		Size:  decimal.NewFromInt(1),
	})
	want := l.GetBalance("USD")

	_, ok := l.RemoveOrder("b1")
	require.True(t, ok)
	require.True(t, l.GetBalance("USD").Equal(want))
}

func TestApplyFillSell(t *testing.T) {
	l := New(zap.NewNop(), &fakeSnapshots{}, btcUSD())
	l.Credit("BTC", decimal.NewFromInt(10))
	l.AddOrder(domain.Order{
		ID:    "s1",
		Side:  domain.SideSell,
		Price: decimal.NewFromInt(90),
		Size:  decimal.NewFromInt(10),
	})

	o, err := l.ApplyFill("s1", decimal.NewFromInt(10), decimal.NewFromInt(90))
	require.NoError(t, err)
	require.True(t, o.Complete())
	require.True(t, l.GetBalance("USD").Equal(decimal.NewFromInt(900)))
}

func TestApplyFillUnknownOrder(t *testing.T) {
	l := New(zap.NewNop(), &fakeSnapshots{}, btcUSD())
	_, err := l.ApplyFill("ghost", decimal.NewFromInt(1), decimal.NewFromInt(1))
	require.ErrorIs(t, err, domain.ErrOrderFill)
}

func TestResetOpenOrdersReplacesWholesale(t *testing.T) {
	client := &fakeSnapshots{orders: []domain.Order{
		{ID: "x1", Side: domain.SideBuy, Price: decimal.NewFromInt(99), Size: decimal.NewFromInt(1)},
	}}
	l := New(zap.NewNop(), client, btcUSD())
	l.orders["stale"] = &domain.Order{ID: "stale"}

	require.NoError(t, l.ResetOpenOrders(context.Background()))
	require.Equal(t, 1, l.Len())
	_, ok := l.Order("x1")
	require.True(t, ok)
}
