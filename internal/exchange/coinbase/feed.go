package coinbase

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/internal/domain"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	eventBuffer      = 64
)

// verifyPath is the canonical path signed into the subscribe message.
const verifyPath = "/users/self/verify"

// Feed is the streaming half of the gateway: one websocket connection
// subscribed to the user and heartbeat channels for a single product,
// decoded once at this boundary into the event union.
type Feed struct {
	url       string
	productID string
	signer    *signer
	logger    *zap.Logger
	events    chan domain.Event
}

func NewFeed(logger *zap.Logger, wsURL, productID string, key, secret, passphrase string) (*Feed, error) {
	s, err := newSigner(key, secret, passphrase)
	if err != nil {
		return nil, err
	}
	return &Feed{
		url:       wsURL,
		productID: productID,
		signer:    s,
		logger:    logger,
		events:    make(chan domain.Event, eventBuffer),
	}, nil
}

// Events returns the decoded event stream. Closed when Run returns.
func (f *Feed) Events() <-chan domain.Event {
	return f.events
}

// Run connects and reads until the context is canceled, reconnecting with
// exponential backoff on any stream error.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.events)

	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := f.stream(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			wait := retry.Duration()
			f.logger.Warn("stream disconnected, reconnecting",
				zap.Error(err), zap.Duration("wait", wait))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()
	}
}

func (f *Feed) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial stream")
	}
	defer conn.Close()

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("stream connected", zap.String("product", f.productID))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return errors.Wrap(err, "set read deadline")
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "read stream")
		}

		ev, ok := decodeMessage(raw)
		if !ok {
			continue
		}
		select {
		case f.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// subscribe sends the signed subscription for the user and heartbeat
// channels. The user channel requires authentication so the exchange will
// deliver our own order lifecycle.
func (f *Feed) subscribe(conn *websocket.Conn) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	msg := map[string]any{
		"type":        "subscribe",
		"product_ids": []string{f.productID},
		"channels":    []string{"user", "heartbeat"},
		"key":         f.signer.key,
		"passphrase":  f.signer.passphrase,
		"timestamp":   timestamp,
		"signature":   f.signer.sign(timestamp, "GET", verifyPath, ""),
	}
	return errors.Wrap(conn.WriteJSON(msg), "subscribe")
}

type wireEvent struct {
	Type          string `json:"type"`
	Sequence      int64  `json:"sequence"`
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	RemainingSize string `json:"remaining_size"`
	MakerOrderID  string `json:"maker_order_id"`
	TakerOrderID  string `json:"taker_order_id"`
	Message       string `json:"message"`
}

// decodeMessage maps one raw frame to an event. Administrative frames are
// dropped; a done or match payload missing required fields is forwarded as
// UnknownEvent so reconciliation can refuse it.
func decodeMessage(raw []byte) (domain.Event, bool) {
	var msg wireEvent
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.UnknownEvent{Type: "undecodable", Raw: raw}, true
	}

	switch msg.Type {
	case "heartbeat":
		return domain.HeartbeatEvent{Sequence: msg.Sequence}, true

	case "done":
		ev, err := msg.toDone()
		if err != nil {
			return domain.UnknownEvent{Type: msg.Type, Raw: raw}, true
		}
		return ev, true

	case "match":
		ev, err := msg.toMatch()
		if err != nil {
			return domain.UnknownEvent{Type: msg.Type, Raw: raw}, true
		}
		return ev, true

	case "subscriptions", "received", "open", "activate":
		// book-keeping frames with no fill consequence
		return nil, false

	case "error":
		return domain.UnknownEvent{Type: "error", Raw: raw}, true

	default:
		return domain.UnknownEvent{Type: msg.Type, Raw: raw}, true
	}
}

func (m wireEvent) toDone() (domain.DoneEvent, error) {
	if m.OrderID == "" || m.Reason == "" {
		return domain.DoneEvent{}, errors.New("done event missing order_id or reason")
	}

	ev := domain.DoneEvent{
		OrderID: m.OrderID,
		Reason:  domain.DoneReason(m.Reason),
		Side:    domain.Side(m.Side),
	}
	var err error
	if ev.Price, err = decimal.NewFromString(m.Price); err != nil {
		return domain.DoneEvent{}, errors.Wrap(err, "done price")
	}
	if ev.RemainingSize, err = decimal.NewFromString(m.RemainingSize); err != nil {
		return domain.DoneEvent{}, errors.Wrap(err, "done remaining_size")
	}
	return ev, nil
}

func (m wireEvent) toMatch() (domain.MatchEvent, error) {
	if m.MakerOrderID == "" && m.TakerOrderID == "" {
		return domain.MatchEvent{}, errors.New("match event missing order ids")
	}

	ev := domain.MatchEvent{
		MakerOrderID: m.MakerOrderID,
		TakerOrderID: m.TakerOrderID,
		Side:         domain.Side(m.Side),
	}
	var err error
	if ev.Size, err = decimal.NewFromString(m.Size); err != nil {
		return domain.MatchEvent{}, errors.Wrap(err, "match size")
	}
	if ev.Price, err = decimal.NewFromString(m.Price); err != nil {
		return domain.MatchEvent{}, errors.Wrap(err, "match price")
	}
	return ev, nil
}
