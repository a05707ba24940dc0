package marketdata

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrader-engine/internal/domain"
)

// simulator is tier 5, the last resort for MCX and CDS symbols when
// every real source has failed: a deterministic walk seeded from the
// symbol and calendar date so repeated calls for the same day agree
// with each other, bounded to a plausible daily move.
type simulator struct {
	basePrices map[string]float64
}

func newSimulator() *simulator {
	return &simulator{basePrices: defaultSimulatedBasePrices()}
}

// defaultSimulatedBasePrices gives each simulated symbol a plausible
// anchor price; symbols not listed anchor at 1000.
func defaultSimulatedBasePrices() map[string]float64 {
	return map[string]float64{
		"GOLD": 72000, "GOLDM": 72000, "SILVER": 85000, "SILVERM": 85000,
		"CRUDEOIL": 6500, "NATURALGAS": 250, "COPPER": 800,
		"ZINC": 250, "LEAD": 185, "ALUMINIUM": 230, "NICKEL": 1400,
		"USDINR": 83.5, "EURINR": 90, "GBPINR": 105, "JPYINR": 0.56,
	}
}

// simSeed turns (symbol, date) into a deterministic 64-bit seed: the same
// symbol and calendar day always produce the same simulated session.
func simSeed(symbol string, at time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(at.UTC().Format("2006-01-02")))
	return int64(h.Sum64())
}

func (s *simulator) basePrice(symbol string) float64 {
	if p, ok := s.basePrices[symbol]; ok {
		return p
	}
	return 1000
}

// dailyMoveBound returns the maximum fraction the simulated price may
// move from its base over a session: currency symbols are bounded
// tighter than commodities, matching the real volatility gap between
// the two segments.
func dailyMoveBound(exchange domain.Exchange) float64 {
	if exchange == domain.ExchangeCDS {
		return 0.005
	}
	return 0.015
}

// Quote produces a deterministic simulated quote for symbol on the
// calendar day of at.
func (s *simulator) Quote(symbol string, exchange domain.Exchange, at time.Time) *domain.Quote {
	rng := rand.New(rand.NewSource(simSeed(symbol, at)))
	base := s.basePrice(symbol)
	bound := dailyMoveBound(exchange)

	movePct := (rng.Float64()*2 - 1) * bound
	ltp := base * (1 + movePct)
	open := base * (1 + (rng.Float64()*2-1)*bound*0.5)
	high := math.Max(ltp, open) * (1 + rng.Float64()*bound*0.3)
	low := math.Min(ltp, open) * (1 - rng.Float64()*bound*0.3)
	change := ltp - base

	return &domain.Quote{
		Symbol:        symbol,
		Exchange:      exchange,
		LTP:           decimal.NewFromFloat(ltp).Round(2),
		Open:          decimal.NewFromFloat(open).Round(2),
		High:          decimal.NewFromFloat(high).Round(2),
		Low:           decimal.NewFromFloat(low).Round(2),
		PrevClose:     decimal.NewFromFloat(base).Round(2),
		Volume:        decimal.NewFromInt(int64(rng.Intn(500000) + 1000)),
		Change:        decimal.NewFromFloat(change).Round(2),
		ChangePercent: decimal.NewFromFloat(movePct * 100).Round(2),
		Timestamp:     at,
		Source:        "simulated",
	}
}

// History builds a deterministic candle series by walking one simulated
// session per calendar day between from and to.
func (s *simulator) History(symbol string, exchange domain.Exchange, interval string, from, to time.Time) []domain.Candle {
	if to.Before(from) {
		return nil
	}

	var candles []domain.Candle
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		q := s.Quote(symbol, exchange, day)
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Exchange:  exchange,
			Interval:  interval,
			OpenTime:  day,
			CloseTime: day,
			Open:      q.Open,
			High:      q.High,
			Low:       q.Low,
			Close:     q.LTP,
			Volume:    q.Volume,
		})
	}
	return candles
}

// OptionsChain builds a deterministic five-strike chain around the
// simulated underlying price, spaced by 1% of spot.
func (s *simulator) OptionsChain(symbol string, at time.Time) *domain.OptionsChain {
	rng := rand.New(rand.NewSource(simSeed(symbol, at)))
	underlying := s.Quote(symbol, domain.ExchangeMCX, at)
	spot := underlying.LTP
	step := spot.Mul(decimal.NewFromFloat(0.01))

	expiry := at.AddDate(0, 0, (7-int(at.Weekday())+7)%7)
	if expiry.Equal(at) {
		expiry = expiry.AddDate(0, 0, 7)
	}

	contracts := make([]domain.OptionContract, 0, 10)
	for i := -2; i <= 2; i++ {
		strike := spot.Add(step.Mul(decimal.NewFromInt(int64(i))))
		for _, optType := range []string{"CE", "PE"} {
			contracts = append(contracts, domain.OptionContract{
				Symbol:        symbol,
				StrikePrice:   strike.Round(2),
				OptionType:    optType,
				Expiry:        expiry,
				LTP:           decimal.NewFromFloat(rng.Float64() * 100).Round(2),
				OpenInterest:  decimal.NewFromInt(int64(rng.Intn(10000) + 100)),
				ChangeInOI:    decimal.NewFromInt(int64(rng.Intn(2000) - 1000)),
				ImpliedVol:    decimal.NewFromFloat(10 + rng.Float64()*30).Round(2),
				Volume:        decimal.NewFromInt(int64(rng.Intn(5000))),
				UnderlyingLTP: spot,
			})
		}
	}

	return &domain.OptionsChain{
		Underlying: symbol,
		Expiry:     expiry,
		Contracts:  contracts,
		Timestamp:  at,
	}
}
