package coinbase

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/chesswiz16/trader/internal/domain"
)

// Wire representations. All numeric fields arrive as strings and are
// parsed into decimals exactly once, here.

type productMsg struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	BaseCurrency   string `json:"base_currency"`
	QuoteCurrency  string `json:"quote_currency"`
	QuoteIncrement string `json:"quote_increment"`
	BaseMinSize    string `json:"base_min_size"`
	BaseMaxSize    string `json:"base_max_size"`
}

func (m productMsg) toDomain() (domain.Product, error) {
	increment, err := decimal.NewFromString(m.QuoteIncrement)
	if err != nil {
		return domain.Product{}, errors.Wrapf(err, "product %s quote_increment", m.ID)
	}
	minSize, err := decimal.NewFromString(m.BaseMinSize)
	if err != nil {
		return domain.Product{}, errors.Wrapf(err, "product %s base_min_size", m.ID)
	}
	maxSize, err := decimal.NewFromString(m.BaseMaxSize)
	if err != nil {
		return domain.Product{}, errors.Wrapf(err, "product %s base_max_size", m.ID)
	}

	return domain.Product{
		ID:             m.ID,
		Status:         m.Status,
		BaseCurrency:   m.BaseCurrency,
		QuoteCurrency:  m.QuoteCurrency,
		QuoteIncrement: increment,
		BaseMinSize:    minSize,
		BaseMaxSize:    maxSize,
	}, nil
}

type accountMsg struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Balance   string `json:"balance"`
}

func (m accountMsg) toDomain() (domain.Account, error) {
	available, err := decimal.NewFromString(m.Available)
	if err != nil {
		return domain.Account{}, errors.Wrapf(err, "account %s available", m.Currency)
	}
	balance, err := decimal.NewFromString(m.Balance)
	if err != nil {
		return domain.Account{}, errors.Wrapf(err, "account %s balance", m.Currency)
	}
	return domain.Account{Currency: m.Currency, Available: available, Balance: balance}, nil
}

type orderMsg struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	FilledSize string `json:"filled_size"`
	Funds      string `json:"funds"`
	PostOnly   bool   `json:"post_only"`
	Settled    bool   `json:"settled"`
	Message    string `json:"message"`
}

func (m orderMsg) toDomain() (domain.Order, error) {
	o := domain.Order{
		ID:        m.ID,
		ProductID: m.ProductID,
		Side:      domain.Side(m.Side),
		Type:      domain.OrderType(m.Type),
		PostOnly:  m.PostOnly,
		Settled:   m.Settled,
	}

	var err error
	if o.Price, err = decimal.NewFromString(m.Price); err != nil {
		return domain.Order{}, errors.Wrapf(err, "order %s price", m.ID)
	}
	if o.Size, err = decimal.NewFromString(m.Size); err != nil {
		return domain.Order{}, errors.Wrapf(err, "order %s size", m.ID)
	}
	o.Filled = decimal.Zero
	if m.FilledSize != "" {
		if o.Filled, err = decimal.NewFromString(m.FilledSize); err != nil {
			return domain.Order{}, errors.Wrapf(err, "order %s filled_size", m.ID)
		}
	}
	o.Funds = decimal.Zero
	if m.Funds != "" {
		if o.Funds, err = decimal.NewFromString(m.Funds); err != nil {
			return domain.Order{}, errors.Wrapf(err, "order %s funds", m.ID)
		}
	}
	return o, nil
}

type tickerMsg struct {
	Price string `json:"price"`
	Bid   string `json:"bid"`
	Ask   string `json:"ask"`
}

func (m tickerMsg) toDomain() (domain.Ticker, error) {
	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return domain.Ticker{}, errors.Wrap(err, "ticker price")
	}
	t := domain.Ticker{Price: price}
	if m.Bid != "" {
		if t.Bid, err = decimal.NewFromString(m.Bid); err != nil {
			return domain.Ticker{}, errors.Wrap(err, "ticker bid")
		}
	}
	if m.Ask != "" {
		if t.Ask, err = decimal.NewFromString(m.Ask); err != nil {
			return domain.Ticker{}, errors.Wrap(err, "ticker ask")
		}
	}
	return t, nil
}

type placeOrderRequest struct {
	ProductID string `json:"product_id"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Funds     string `json:"funds,omitempty"`
	PostOnly  bool   `json:"post_only,omitempty"`
}

type errorMsg struct {
	Message string `json:"message"`
}
