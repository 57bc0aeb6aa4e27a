package domain

import "github.com/shopspring/decimal"

// Event is the tagged union of messages the streaming channel delivers.
// Each variant carries only its own required fields and is decoded once at
// the gateway boundary, never probed ad hoc downstream.
type Event interface {
	isEvent()
}

// HeartbeatEvent arrives periodically and drives missed-fill detection.
type HeartbeatEvent struct {
	Sequence int64
}

// DoneReason says why an order left the book.
type DoneReason string

const (
	DoneReasonFilled   DoneReason = "filled"
	DoneReasonCanceled DoneReason = "canceled"
)

// DoneEvent reports an order leaving the book. RemainingSize is the
// unfilled portion at the time of completion.
type DoneEvent struct {
	OrderID       string
	Reason        DoneReason
	Side          Side
	Price         decimal.Decimal
	RemainingSize decimal.Decimal
}

// MatchEvent reports a single trade execution. The side is always the
// taker's side from the exchange's perspective.
type MatchEvent struct {
	MakerOrderID string
	TakerOrderID string
	Side         Side
	Size         decimal.Decimal
	Price        decimal.Decimal
}

// UnknownEvent is a message of an unexpected shape: a type we do not
// recognize or a done/match payload missing required fields. Reconciliation
// treats it as unsafe and forces a resync.
type UnknownEvent struct {
	Type string
	Raw  []byte
}

func (HeartbeatEvent) isEvent() {}
func (DoneEvent) isEvent()      {}
func (MatchEvent) isEvent()     {}
func (UnknownEvent) isEvent()   {}
