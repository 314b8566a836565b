package persist

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"tradesim/internal/schema"
)

// TradeRecord is one row of the trades table.
type TradeRecord struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement"`
	TradeID          int64     `gorm:"column:trade_id;index"`
	Symbol           string    `gorm:"column:symbol;size:16;index:idx_trades_symbol_time,priority:1"`
	PriceValue       int64     `gorm:"column:price_value"`
	PriceDecimals    int32     `gorm:"column:price_decimals"`
	QuantityValue    int64     `gorm:"column:quantity_value"`
	QuantityDecimals int32     `gorm:"column:quantity_decimals"`
	Side             string    `gorm:"column:side;size:8"`
	TradeTime        time.Time `gorm:"column:trade_time;index:idx_trades_symbol_time,priority:2"`
}

func (TradeRecord) TableName() string {
	return "trades"
}

// RecordFromTick maps a tick onto a row.
func RecordFromTick(t schema.Tick) TradeRecord {
	return TradeRecord{
		TradeID:          t.TradeID,
		Symbol:           t.Instrument,
		PriceValue:       int64(t.Price),
		PriceDecimals:    int32(t.PriceScale),
		QuantityValue:    int64(t.Quantity),
		QuantityDecimals: int32(t.QuantityScale),
		Side:             t.Side.String(),
		TradeTime:        time.UnixMilli(t.Timestamp).UTC(),
	}
}

// Store writes a batch atomically.
type Store interface {
	InsertBatch(ctx context.Context, records []TradeRecord) error
}

// GormStore is a Store backed by PostgreSQL.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the trades table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&TradeRecord{}); err != nil {
		return errors.Wrap(err, "migrate trades")
	}
	return nil
}

// InsertBatch inserts every record in one transaction.
func (s *GormStore) InsertBatch(ctx context.Context, records []TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, len(records)).Error
	})
	if err != nil {
		return errors.Wrap(err, "insert trades").With("count", len(records))
	}
	return nil
}
