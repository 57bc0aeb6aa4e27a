package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func product(increment string) Product {
	return Product{
		ID:             "BTC-USD",
		Status:         "online",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USD",
		QuoteIncrement: decimal.RequireFromString(increment),
		BaseMinSize:    decimal.RequireFromString("0.01"),
		BaseMaxSize:    decimal.RequireFromString("10000"),
	}
}

func TestSnapPrice(t *testing.T) {
	cases := []struct {
		increment string
		in        string
		want      string
	}{
		{"0.01", "100.004", "100"},
		{"0.01", "100.006", "100.01"},
		{"0.25", "99.4", "99.5"},
		{"0.25", "99.11", "99"},
		{"0.5", "99.4", "99.5"},
		{"0.5", "98.8", "99"},
		{"1", "100.7", "101"},
	}

	for _, c := range cases {
		p := product(c.increment)
		got := p.SnapPrice(decimal.RequireFromString(c.in))
		require.True(t, got.Equal(decimal.RequireFromString(c.want)),
			"snap(%s) with increment %s: got %s, want %s", c.in, c.increment, got, c.want)
	}
}

func TestSnapPriceIdempotent(t *testing.T) {
	p := product("0.01")
	for _, raw := range []string{"100", "100.01", "99.99", "0.05", "12345.67"} {
		price := decimal.RequireFromString(raw)
		once := p.SnapPrice(price)
		require.True(t, once.Equal(price), "%s is already on the grid", raw)
		require.True(t, p.SnapPrice(once).Equal(once))
	}
}

func TestProductValidate(t *testing.T) {
	require.NoError(t, product("0.01").Validate())

	bad := product("0.01")
	bad.QuoteIncrement = decimal.Zero
	require.Error(t, bad.Validate())

	bad = product("0.01")
	bad.BaseMinSize = decimal.NewFromInt(20000)
	require.Error(t, bad.Validate())
}

func TestRounding(t *testing.T) {
	require.Equal(t, "9.09190919", RoundBase(decimal.RequireFromString("9.091909190919093")).String())
	require.Equal(t, "98.88", RoundQuote(decimal.RequireFromString("98.879121")).String())
}

func TestOrderRemainingAndComplete(t *testing.T) {
	o := Order{Size: decimal.NewFromInt(10), Filled: decimal.NewFromInt(4)}
	require.True(t, o.Remaining().Equal(decimal.NewFromInt(6)))
	require.False(t, o.Complete())

	o.Filled = decimal.RequireFromString("9.999999995")
	require.True(t, o.Complete(), "dust below epsilon counts as filled")
}

func TestSideOpposite(t *testing.T) {
	require.Equal(t, SideSell, SideBuy.Opposite())
	require.Equal(t, SideBuy, SideSell.Opposite())
}
