package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ========== Market Models ==========

// Asset is a tradable instrument known to the portfolio store.
type Asset struct {
	ID        int64     `json:"id"`
	Ticker    string    `json:"ticker"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Quote is one price observation for an asset. Rows are append-only.
type Quote struct {
	ID        int64           `json:"id"`
	AssetID   int64           `json:"asset_id"`
	Price     decimal.Decimal `json:"price"`
	QuotedAt  time.Time       `json:"quoted_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// QuoteEvent is the payload carried by the quote feed.
type QuoteEvent struct {
	MessageID   string          `json:"messageId"`
	AssetTicker string          `json:"assetTicker"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ProcessedMessage marks a feed message id as applied.
type ProcessedMessage struct {
	MessageID   string    `json:"message_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ========== Portfolio Models ==========

// Position is a user's holding in one asset.
type Position struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	AssetID      int64           `json:"asset_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UnrealizedAt returns quantity * (price - average price).
func (p Position) UnrealizedAt(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price.Sub(p.AveragePrice))
}

// OperationType is the side of a trade operation.
type OperationType string

const (
	OperationBuy  OperationType = "BUY"
	OperationSell OperationType = "SELL"
)

// Operation is a recorded buy or sell.
type Operation struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	AssetID    int64           `json:"asset_id"`
	Type       OperationType   `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
	CreatedAt  time.Time       `json:"created_at"`
}
