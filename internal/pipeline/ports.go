package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/papertrader-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// MarketData is the subset of the market-data stack the pipeline reads
// from in steady state. Implemented by internal/marketdata.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string, exchange domain.Exchange) (*domain.Quote, error)
	GetHistory(ctx context.Context, symbol string, interval string, from, to time.Time, exchange domain.Exchange) ([]domain.Candle, error)
	GetTopMovers(ctx context.Context, count int) (gainers, losers []domain.Mover, err error)
	GetOptionsChain(ctx context.Context, symbol string) (*domain.OptionsChain, error)
}

// ScanRequest is the batch of per-symbol candle windows handed to the
// native engine in one scan call, with the aggressiveness tag.
type ScanRequest struct {
	Symbols         []SymbolCandles
	Aggressiveness  string
}

// SymbolCandles pairs a symbol with the bars the engine should scan.
type SymbolCandles struct {
	Symbol  string
	Candles []domain.Candle
}

// EngineSignal is one candidate signal returned by the native engine's
// scan command.
type EngineSignal struct {
	Symbol     string
	Direction  domain.SignalType
	Confidence decimal.Decimal
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	Target     decimal.Decimal
	Indicators map[string]any
	Votes      map[string]int
	Gates      *domain.GateScores // set only when the engine supplies its own G1-G9
}

// NativeEngine is the pipeline's view of the stdio JSON-RPC indicator
// process. Implemented by internal/nativeengine.
type NativeEngine interface {
	Available() bool
	Scan(ctx context.Context, req ScanRequest) ([]EngineSignal, error)
}

// LLMClient is the pipeline's view of the LLM collaborator. Implemented
// by internal/llmclient.
type LLMClient interface {
	CircuitOpen() bool
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClosedTrade is one historical closed position used for Kelly sizing.
type ClosedTrade struct {
	Symbol  string
	PnL     decimal.Decimal
	Win     bool
	ClosedAt time.Time
}

// OpenPosition mirrors domain.Position for the subset the pipeline needs
// to decide BUY/SELL semantics and risk-gate drawdown.
type OpenPosition struct {
	Symbol string
	Side   domain.PositionSide
	Qty    decimal.Decimal
}

// Store is the persistence boundary for signals, messages, rolling
// accuracy and the bits of portfolio state the pipeline must read or
// mutate. Implemented by internal/storage.
type Store interface {
	// Signals
	FindRecentPendingSignal(ctx context.Context, strategyID, symbol string, signalType domain.SignalType, within time.Duration) (*domain.Signal, error)
	SaveSignal(ctx context.Context, s *domain.Signal) error

	// Messages
	SaveMessage(ctx context.Context, m *domain.BotMessage) error

	// Rolling accuracy
	LoadRollingAccuracy(ctx context.Context, strategyID string, window int) (*domain.RollingAccuracy, error)
	SaveRollingAccuracy(ctx context.Context, r *domain.RollingAccuracy) error

	// Portfolio / execution
	OpenPositions(ctx context.Context, strategyID string) ([]OpenPosition, error)
	RecentClosedTrades(ctx context.Context, strategyID, symbol string, limit int) ([]ClosedTrade, error)
	PortfolioNAV(ctx context.Context, strategyID string) (decimal.Decimal, error)
	PortfolioDrawdownPercent(ctx context.Context, strategyID string) (decimal.Decimal, bool, error)
	Execute(ctx context.Context, strategyID string, signal *domain.Signal, quantity decimal.Decimal) (*domain.Fill, decimal.Decimal, error)

	// Bots
	UpdateBotStatus(ctx context.Context, botID uuid.UUID, status domain.BotStatus, lastAction string) error
}
