package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionSide distinguishes a long holding from a short one. A SELL
// signal against a symbol with no existing long opens a short rather
// than being rejected.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position is one open holding inside a paper portfolio.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	LastPrice     decimal.Decimal `json:"last_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarkToMarket recomputes unrealized PnL against a fresh last price.
func (p *Position) MarkToMarket(price decimal.Decimal) {
	p.LastPrice = price
	delta := price.Sub(p.AvgPrice).Mul(p.Quantity)
	if p.Side == PositionShort {
		delta = delta.Neg()
	}
	p.UnrealizedPnL = delta
}

// Portfolio is a strategy's paper trading book: cash plus open positions.
type Portfolio struct {
	ID         uuid.UUID            `json:"id"`
	StrategyID string               `json:"strategy_id"`
	Cash       decimal.Decimal      `json:"cash"`
	Positions  map[string]*Position `json:"positions"`
	Equity     decimal.Decimal      `json:"equity"`
	RealizedPnL decimal.Decimal     `json:"realized_pnl"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// Fill is a completed execution against a signal.
type Fill struct {
	ID        uuid.UUID       `json:"id"`
	SignalID  uuid.UUID       `json:"signal_id"`
	Symbol    string          `json:"symbol"`
	Side      PositionSide    `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}
