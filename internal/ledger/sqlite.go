package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tradeRow struct {
	ID        uint            `gorm:"primaryKey"`
	Pair      string          `gorm:"size:32;index:idx_trades_pair_ts,priority:1"`
	Buy       decimal.Decimal `gorm:"type:text"`
	Sell      decimal.Decimal `gorm:"type:text"`
	Timestamp time.Time       `gorm:"index:idx_trades_pair_ts,priority:2"`
}

func (tradeRow) TableName() string { return "trades" }

type orderRow struct {
	ID        uint            `gorm:"primaryKey"`
	Pair      string          `gorm:"size:32;index:idx_orders_pair_type_ts,priority:1"`
	Type      string          `gorm:"size:8;index:idx_orders_pair_type_ts,priority:2"`
	Volume    decimal.Decimal `gorm:"type:text"`
	Price     decimal.Decimal `gorm:"type:text"`
	Timestamp time.Time       `gorm:"index:idx_orders_pair_type_ts,priority:3"`
	TxID      string          `gorm:"size:64"`
	RunID     string          `gorm:"size:64"`
}

func (orderRow) TableName() string { return "orders" }

// Store is the SQLite-backed Ledger.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY under the momentum fan-out.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&tradeRow{}, &orderRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AppendTrade(ctx context.Context, record TradeRecord) error {
	row := tradeRow{
		Pair:      record.Pair,
		Buy:       record.Buy,
		Sell:      record.Sell,
		Timestamp: record.Timestamp.UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) AppendOrder(ctx context.Context, record OrderRecord) error {
	row := orderRow{
		Pair:      record.Pair,
		Type:      record.Type,
		Volume:    record.Volume,
		Price:     record.Price,
		Timestamp: record.Timestamp.UTC(),
		TxID:      record.TxID,
		RunID:     record.RunID,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) LastTrades(ctx context.Context, pair string, n int) ([]TradeRecord, error) {
	var rows []tradeRow
	err := s.db.WithContext(ctx).
		Where("pair = ?", pair).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]TradeRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, TradeRecord{
			Pair:      row.Pair,
			Buy:       row.Buy,
			Sell:      row.Sell,
			Timestamp: row.Timestamp,
		})
	}
	return records, nil
}

func (s *Store) LastOrder(ctx context.Context, pair, orderType string) (*OrderRecord, error) {
	var row orderRow
	err := s.db.WithContext(ctx).
		Where("pair = ? AND type = ?", pair, orderType).
		Order("timestamp DESC").
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &OrderRecord{
		Pair:      row.Pair,
		Volume:    row.Volume,
		Price:     row.Price,
		Type:      row.Type,
		Timestamp: row.Timestamp,
		TxID:      row.TxID,
		RunID:     row.RunID,
	}, nil
}
