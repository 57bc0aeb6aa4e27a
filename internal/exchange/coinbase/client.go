// Package coinbase implements the exchange gateway over the Coinbase
// Exchange REST and websocket APIs.
package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/internal/domain"
	"github.com/chesswiz16/trader/internal/exchange"
	"github.com/chesswiz16/trader/pkg/retrier"
)

const requestTimeout = 15 * time.Second

// transientError marks an HTTP failure worth retrying on idempotent calls.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Client talks to the exchange REST API. Reads go through a retrier for
// transient failures; mutating calls are issued exactly once, because a
// replayed placement that actually landed duplicates an order.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *signer
	logger  *zap.Logger
	retry   *retrier.Retrier
}

func NewClient(logger *zap.Logger, baseURL, key, secret, passphrase string) (*Client, error) {
	s, err := newSigner(key, secret, passphrase)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		signer:  s,
		logger:  logger,
		retry: retrier.New(retrier.WithRetryable(func(err error) bool {
			var transient *transientError
			return errors.As(err, &transient)
		})),
	}, nil
}

// do issues one signed request and decodes the response into out. A non-2xx
// status with a message body becomes a RejectionError for 4xx statuses and
// a transientError for 5xx and 429.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return errors.Wrap(err, "encode request body")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.signer.headers(method, path, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transientError{err: errors.Wrapf(err, "%s %s", method, path)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{err: errors.Wrapf(err, "read %s %s response", method, path)}
	}

	if resp.StatusCode >= 400 {
		var em errorMsg
		_ = json.Unmarshal(raw, &em)
		if em.Message == "" {
			em.Message = resp.Status
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &transientError{err: errors.Errorf("%s %s: %s", method, path, em.Message)}
		}
		return &exchange.RejectionError{Message: em.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	})
}

func (c *Client) GetProducts(ctx context.Context) ([]domain.Product, error) {
	var msgs []productMsg
	if err := c.get(ctx, "/products", &msgs); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(msgs))
	for _, m := range msgs {
		p, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (c *Client) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	var msgs []accountMsg
	if err := c.get(ctx, "/accounts", &msgs); err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(msgs))
	for _, m := range msgs {
		a, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (c *Client) GetOrders(ctx context.Context, productID string) ([]domain.Order, error) {
	path := fmt.Sprintf("/orders?status=open&product_id=%s", url.QueryEscape(productID))
	var msgs []orderMsg
	if err := c.get(ctx, path, &msgs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(msgs))
	for _, m := range msgs {
		o, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var msg orderMsg
	if err := c.get(ctx, "/orders/"+orderID, &msg); err != nil {
		return domain.Order{}, err
	}
	return msg.toDomain()
}

func (c *Client) GetTicker(ctx context.Context, productID string) (domain.Ticker, error) {
	var msg tickerMsg
	if err := c.get(ctx, fmt.Sprintf("/products/%s/ticker", productID), &msg); err != nil {
		return domain.Ticker{}, err
	}
	return msg.toDomain()
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (domain.Order, error) {
	wire := placeOrderRequest{
		ProductID: req.ProductID,
		Side:      string(req.Side),
		Type:      string(req.Type),
		Price:     req.Price.String(),
		Size:      req.Size.String(),
		PostOnly:  req.PostOnly,
	}
	if req.Funds.IsPositive() {
		wire.Funds = req.Funds.String()
	}

	var msg orderMsg
	if err := c.do(ctx, http.MethodPost, "/orders", wire, &msg); err != nil {
		return domain.Order{}, err
	}
	// some rejections come back 200 with only a message field
	if msg.ID == "" {
		return domain.Order{}, &exchange.RejectionError{Message: msg.Message}
	}
	return msg.toDomain()
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+orderID, nil, nil)
}

func (c *Client) CancelAll(ctx context.Context, productID string) error {
	path := fmt.Sprintf("/orders?product_id=%s", url.QueryEscape(productID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
