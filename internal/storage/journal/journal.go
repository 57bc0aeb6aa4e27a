// Package journal appends an operational record of every order mutation to
// a write-ahead log. The log exists for post-mortems and audits; the engine
// never reads it back.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/chesswiz16/trader/internal/domain"
)

const (
	segmentThreshold = 1000
	maxSegments      = 100
	dirPermissions   = 0o755

	entryKeyPrefix = "trade_"
)

// Entry is one journal record.
type Entry struct {
	Time      time.Time       `json:"time"`
	Kind      string          `json:"kind"`
	OrderID   string          `json:"order_id,omitempty"`
	Side      string          `json:"side,omitempty"`
	Type      string          `json:"type,omitempty"`
	Price     decimal.Decimal `json:"price,omitempty"`
	Size      decimal.Decimal `json:"size,omitempty"`
	FillSize  decimal.Decimal `json:"fill_size,omitempty"`
	FillPrice decimal.Decimal `json:"fill_price,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Store is a gowal-backed trade journal for one product.
type Store struct {
	wal    *gowal.Wal
	logger *zap.Logger
}

// NewStore opens the journal under dir/productID.
func NewStore(logger *zap.Logger, dir, productID string) (*Store, error) {
	walDir := filepath.Join(dir, productID)
	if err := os.MkdirAll(walDir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "ensure journal directory %s", walDir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              walDir,
		Prefix:           "trade_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: false,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init trade journal")
	}

	return &Store{wal: wal, logger: logger}, nil
}

func (s *Store) append(e Entry) {
	e.Time = time.Now().UTC()
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("marshal journal entry", zap.Error(err))
		return
	}

	key := fmt.Sprintf("%s%s", entryKeyPrefix, e.Kind)
	if err := s.wal.Write(s.wal.CurrentIndex()+1, key, payload); err != nil {
		// the journal is informational, a write failure never stops trading
		s.logger.Error("append journal entry", zap.Error(err))
	}
}

// Placed records an accepted order.
func (s *Store) Placed(o domain.Order) {
	s.append(Entry{
		Kind:    "placed",
		OrderID: o.ID,
		Side:    string(o.Side),
		Type:    string(o.Type),
		Price:   o.Price,
		Size:    o.Size,
	})
}

// Filled records fill progress on an order.
func (s *Store) Filled(o domain.Order, size, price decimal.Decimal) {
	s.append(Entry{
		Kind:      "filled",
		OrderID:   o.ID,
		Side:      string(o.Side),
		Type:      string(o.Type),
		Price:     o.Price,
		Size:      o.Size,
		FillSize:  size,
		FillPrice: price,
	})
}

// Canceled records an order leaving the book unfilled or partially filled.
func (s *Store) Canceled(o domain.Order) {
	s.append(Entry{
		Kind:    "canceled",
		OrderID: o.ID,
		Side:    string(o.Side),
		Type:    string(o.Type),
		Price:   o.Price,
		Size:    o.Size,
	})
}

// Resynced records a forced full resync.
func (s *Store) Resynced(reason string) {
	s.append(Entry{Kind: "resync", Reason: reason})
}

// Close closes the underlying WAL.
func (s *Store) Close() error {
	return s.wal.Close()
}
