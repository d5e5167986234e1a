package tradestore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ml-crypto-trader/internal/types"
)

// TradeRecord is one row in the trade journal. Opened rows are updated
// in place when the position closes.
type TradeRecord struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	Symbol         string
	Direction      string
	EntryPrice     float64
	Quantity       float64
	Size           float64
	StopLoss       float64
	TakeProfit     float64
	EntryTime      time.Time
	MLConfidence   float64
	SentimentScore float64
	OrderID        string
	Status         string // OPEN or CLOSED
	ExitPrice      float64
	ExitTime       *time.Time
	ExitReason     string
	PnL            float64 `gorm:"column:pnl"`
	PnLPct         float64 `gorm:"column:pnl_pct"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventRecord is an operational event worth keeping: rejected entries,
// risk limit hits, degraded sources.
type EventRecord struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	EventType string
	Severity  string
	Message   string
	CreatedAt time.Time
}

// Store journals trades and events to Postgres.
type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open trade store: %w", err)
	}
	if err := db.AutoMigrate(&TradeRecord{}, &EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate trade store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) LogTradeOpen(ctx context.Context, pos types.Position, mlConfidence, sentimentScore float64, orderID string) (int64, error) {
	record := TradeRecord{
		Symbol:         pos.Symbol,
		Direction:      string(pos.Direction),
		EntryPrice:     pos.EntryPrice,
		Quantity:       pos.Quantity,
		Size:           pos.Size,
		StopLoss:       pos.StopLoss,
		TakeProfit:     pos.TakeProfit,
		EntryTime:      pos.EntryTime,
		MLConfidence:   mlConfidence,
		SentimentScore: sentimentScore,
		OrderID:        orderID,
		Status:         "OPEN",
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return 0, fmt.Errorf("log trade open: %w", err)
	}
	return record.ID, nil
}

func (s *Store) LogTradeClose(ctx context.Context, tradeID int64, trade types.Trade) error {
	exitTime := trade.ExitTime
	err := s.db.WithContext(ctx).Model(&TradeRecord{}).
		Where("id = ?", tradeID).
		Updates(map[string]any{
			"status":      "CLOSED",
			"exit_price":  trade.ExitPrice,
			"exit_time":   &exitTime,
			"exit_reason": string(trade.ExitReason),
			"pnl":         trade.PnL,
			"pnl_pct":     trade.PnLPct,
		}).Error
	if err != nil {
		return fmt.Errorf("log trade close: %w", err)
	}
	return nil
}

func (s *Store) LogEvent(ctx context.Context, eventType, severity, message string) error {
	record := EventRecord{EventType: eventType, Severity: severity, Message: message}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// OpenTrades returns journal rows still marked open, used to reconcile
// state after a restart.
func (s *Store) OpenTrades(ctx context.Context) ([]TradeRecord, error) {
	var records []TradeRecord
	err := s.db.WithContext(ctx).Where("status = ?", "OPEN").Find(&records).Error
	return records, err
}
