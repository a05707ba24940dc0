package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is the behavioural role a bot plays in the pipeline.
type Role string

const (
	RoleScanner       Role = "SCANNER"
	RoleAnalyst       Role = "ANALYST"
	RoleExecutor      Role = "EXECUTOR"
	RoleRiskManager   Role = "RISK_MANAGER"
	RoleStrategist    Role = "STRATEGIST"
	RoleMonitor       Role = "MONITOR"
	RoleFnOStrategist Role = "FNO_STRATEGIST"
)

// BotStatus is the lifecycle state of a running bot.
type BotStatus string

const (
	BotStatusIdle    BotStatus = "IDLE"
	BotStatusRunning BotStatus = "RUNNING"
	BotStatusError   BotStatus = "ERROR"
)

// AgentMode controls whether a bot's signals execute automatically.
type AgentMode string

const (
	AgentModeAdvisory   AgentMode = "ADVISORY"
	AgentModeAutonomous AgentMode = "AUTONOMOUS"
)

// Bot is one scheduled unit of the pipeline, bound to a role and symbol set.
//
// Agent is non-nil when this bot is driven by the autonomous agent loop
// rather than an ad hoc bot cycle; its presence changes symbol selection,
// the execution decision, and enables the risk gate stage.
type Bot struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Role         Role            `json:"role"`
	Symbols      []string        `json:"symbols"`
	Status       BotStatus       `json:"status"`
	LastError    string          `json:"last_error,omitempty"`
	LastAction   string          `json:"last_action,omitempty"`
	LastActionAt time.Time       `json:"last_action_at,omitempty"`
	LastRunAt    time.Time       `json:"last_run_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StrategyID   string          `json:"strategy_id"`
	TotalTrades  int             `json:"total_trades"`
	TotalPnL     decimal.Decimal `json:"total_pnl"`
	WinRate      decimal.Decimal `json:"win_rate"`
	UsedCapital  decimal.Decimal `json:"used_capital"`
	Agent        *AgentConfig    `json:"agent,omitempty"`
}

// DefaultBotSymbols is the fallback symbol set used when a bot has no
// assigned symbols configured.
var DefaultBotSymbols = []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "ITC"}

// DefaultWatchlist is the fallback symbol set used for an agent cycle
// with no currently-open positions.
var DefaultWatchlist = []string{"NIFTY 50", "RELIANCE", "TCS", "HDFCBANK", "GOLD", "USDINR"}

// AgentConfig governs how aggressively a bot's strategy is allowed to act.
type AgentConfig struct {
	StrategyID      string          `json:"strategy_id"`
	Mode            AgentMode       `json:"mode"`
	IsActive        bool            `json:"is_active"`
	MinSignalScore  decimal.Decimal `json:"min_signal_score"`
	MaxDailyTrades  int             `json:"max_daily_trades"`
	TradesToday     int             `json:"trades_today"`
	LastTradeDate   time.Time       `json:"last_trade_date,omitempty"`
}

// AllowsTrade reports whether the agent may still place a trade today,
// independent of signal quality.
func (a *AgentConfig) AllowsTrade(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if a.LastTradeDate.IsZero() || a.LastTradeDate.YearDay() != now.YearDay() || a.LastTradeDate.Year() != now.Year() {
		return true
	}
	return a.TradesToday < a.MaxDailyTrades
}

// BotMessageType classifies an entry in a bot's message log.
type BotMessageType string

const (
	BotMessageInfo          BotMessageType = "info"
	BotMessageSignal        BotMessageType = "signal"
	BotMessageAlert         BotMessageType = "alert"
	BotMessageTradeRequest  BotMessageType = "trade_request"
	BotMessageApproval      BotMessageType = "approval"
)

// BotMessage is one entry in the audit trail a bot leaves as it runs a cycle.
type BotMessage struct {
	ID        uuid.UUID      `json:"id"`
	BotID     uuid.UUID      `json:"bot_id"`
	Type      BotMessageType `json:"type"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
