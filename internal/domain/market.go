package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies which Indian exchange a symbol routes through.
type Exchange string

const (
	ExchangeNSE Exchange = "NSE"
	ExchangeMCX Exchange = "MCX"
	ExchangeCDS Exchange = "CDS"
)

// Candle is one OHLCV bar for a symbol at a given interval.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Exchange  Exchange        `json:"exchange"`
	Interval  string          `json:"interval"`
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Quote is a single point-in-time snapshot of a symbol's traded price.
//
// LTP of zero means the tier that produced this quote had nothing useful
// to say; callers must never cache a Quote in that state.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Exchange      Exchange        `json:"exchange"`
	LTP           decimal.Decimal `json:"ltp"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PrevClose     decimal.Decimal `json:"prev_close"`
	Volume        decimal.Decimal `json:"volume"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
}

// IsUsable reports whether the quote carries a real traded price and may
// be cached or handed to the pipeline.
func (q *Quote) IsUsable() bool {
	return q != nil && q.LTP.IsPositive()
}

// OptionContract is one leg of an options chain.
type OptionContract struct {
	Symbol         string          `json:"symbol"`
	StrikePrice    decimal.Decimal `json:"strike_price"`
	OptionType     string          `json:"option_type"` // CE / PE
	Expiry         time.Time       `json:"expiry"`
	LTP            decimal.Decimal `json:"ltp"`
	OpenInterest   decimal.Decimal `json:"open_interest"`
	ChangeInOI     decimal.Decimal `json:"change_in_oi"`
	ImpliedVol     decimal.Decimal `json:"implied_vol"`
	Volume         decimal.Decimal `json:"volume"`
	UnderlyingLTP  decimal.Decimal `json:"underlying_ltp"`
}

// OptionsChain groups contracts for one underlying and expiry, plus the
// derived stats the risk and options-flow gates read.
type OptionsChain struct {
	Underlying   string           `json:"underlying"`
	Expiry       time.Time        `json:"expiry"`
	Contracts    []OptionContract `json:"contracts"`
	PCR          decimal.Decimal  `json:"pcr"`
	MaxPain      decimal.Decimal  `json:"max_pain"`
	TotalCallOI  decimal.Decimal  `json:"total_call_oi"`
	TotalPutOI   decimal.Decimal  `json:"total_put_oi"`
	Timestamp    time.Time        `json:"timestamp"`
}

// IndexSnapshot is a named market index value (NIFTY 50, BANKNIFTY, INDIA VIX, ...).
type IndexSnapshot struct {
	Name          string          `json:"name"`
	Value         decimal.Decimal `json:"value"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Timestamp     time.Time       `json:"timestamp"`
}

// SearchResult is one symbol match returned by the market data search tier.
type SearchResult struct {
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Exchange Exchange `json:"exchange"`
	Type     string   `json:"type"` // EQ, FUT, OPT, INDEX
}

// Mover is one entry in a top-gainers/top-losers listing.
type Mover struct {
	Symbol        string          `json:"symbol"`
	LTP           decimal.Decimal `json:"ltp"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        decimal.Decimal `json:"volume"`
}
