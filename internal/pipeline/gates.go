package pipeline

import (
	"github.com/papertrader-engine/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// deriveGates builds the nine-gate score vector for one engine signal when
// the engine (or the LLM) did not already supply one. The derivation is
// approximate but deterministic given the same indicators/votes/vix input.
func deriveGates(sig EngineSignal, vix decimal.Decimal, breadthPositive bool) domain.GateScores {
	conf := sig.Confidence

	g1 := voteScore(sig.Votes, "ema_cross", "supertrend").Add(adxComponent(sig.Indicators))
	g1 = clamp(g1, zero, hundred)

	g2 := rsiComponent(sig.Indicators).Add(voteScore(sig.Votes, "macd"))
	g2 = clamp(g2, zero, hundred)

	g3 := vixComponent(vix).Add(voteScore(sig.Votes, "bollinger"))
	g3 = clamp(g3, zero, hundred)

	g4 := conf.Mul(decimal.NewFromFloat(0.6)).Add(voteScore(sig.Votes, "volume"))
	g4 = clamp(g4, zero, hundred)

	g5 := conf.Mul(decimal.NewFromFloat(0.5)).Add(decimal.NewFromInt(20))
	g5 = clamp(g5, zero, hundred)

	g6 := vixTierConstant(vix)

	g7 := conf.Mul(decimal.NewFromFloat(0.5)).Add(decimal.NewFromInt(25))
	if breadthPositive {
		g7 = g7.Add(decimal.NewFromInt(10))
	}
	g7 = clamp(g7, zero, hundred)

	g8 := positiveVoteFraction(sig.Votes).Mul(decimal.NewFromInt(80)).Add(decimal.NewFromInt(10))
	g8 = clamp(g8, zero, hundred)

	g9 := conf.Mul(decimal.NewFromFloat(0.8)).Add(riskRewardBonus(sig))
	g9 = clamp(g9, zero, hundred)

	return domain.GateScores{
		G1Trend:       g1,
		G2Momentum:    g2,
		G3Volatility:  g3,
		G4Volume:      g4,
		G5OptionsFlow: g5,
		G6GlobalMacro: g6,
		G7FiiDii:      g7,
		G8Sentiment:   g8,
		G9Risk:        g9,
		Source:        "derived",
		Indicators:    sig.Indicators,
		Votes:         sig.Votes,
	}
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// voteScore sums +15 per named vote key that voted in the signal's
// direction (a positive int in the votes map), 0 otherwise.
func voteScore(votes map[string]int, keys ...string) decimal.Decimal {
	total := 0
	for _, k := range keys {
		if v, ok := votes[k]; ok && v > 0 {
			total += 15
		}
	}
	return decimal.NewFromInt(int64(total))
}

func positiveVoteFraction(votes map[string]int) decimal.Decimal {
	if len(votes) == 0 {
		return decimal.NewFromFloat(0.5)
	}
	positive := 0
	for _, v := range votes {
		if v > 0 {
			positive++
		}
	}
	return decimal.NewFromInt(int64(positive)).Div(decimal.NewFromInt(int64(len(votes))))
}

func adxComponent(indicators map[string]any) decimal.Decimal {
	adx, ok := floatFromIndicator(indicators, "adx")
	if !ok {
		return decimal.NewFromInt(40)
	}
	// ADX above 25 indicates a trending market; scale to a 0-60 contribution.
	return clamp(decimal.NewFromFloat(adx).Mul(decimal.NewFromFloat(1.5)), zero, decimal.NewFromInt(60))
}

func rsiComponent(indicators map[string]any) decimal.Decimal {
	rsi, ok := floatFromIndicator(indicators, "rsi_14")
	if !ok {
		return decimal.NewFromInt(50)
	}
	dist := rsi - 50
	if dist < 0 {
		dist = -dist
	}
	return clamp(decimal.NewFromFloat(dist).Mul(decimal.NewFromFloat(1.6)), zero, hundred)
}

func vixComponent(vix decimal.Decimal) decimal.Decimal {
	if !vix.IsPositive() {
		return decimal.NewFromInt(50)
	}
	// Below 20 is favourable for risk-on signals; scale inversely above it.
	twenty := decimal.NewFromInt(20)
	if vix.LessThan(twenty) {
		return clamp(hundred.Sub(vix.Mul(decimal.NewFromFloat(1.5))), zero, hundred)
	}
	return clamp(decimal.NewFromInt(60).Sub(vix), zero, hundred)
}

func vixTierConstant(vix decimal.Decimal) decimal.Decimal {
	switch {
	case !vix.IsPositive():
		return decimal.NewFromInt(50)
	case vix.LessThan(decimal.NewFromInt(13)):
		return decimal.NewFromInt(80)
	case vix.LessThan(decimal.NewFromInt(20)):
		return decimal.NewFromInt(60)
	case vix.LessThan(decimal.NewFromInt(28)):
		return decimal.NewFromInt(35)
	default:
		return decimal.NewFromInt(15)
	}
}

func riskRewardBonus(sig EngineSignal) decimal.Decimal {
	if !sig.Entry.IsPositive() || !sig.StopLoss.IsPositive() || !sig.Target.IsPositive() {
		return zero
	}
	risk := sig.Entry.Sub(sig.StopLoss).Abs()
	reward := sig.Target.Sub(sig.Entry).Abs()
	if !risk.IsPositive() {
		return zero
	}
	ratio := reward.Div(risk)
	return clamp(ratio.Mul(decimal.NewFromInt(5)), zero, decimal.NewFromInt(20))
}

func floatFromIndicator(indicators map[string]any, key string) (float64, bool) {
	v, ok := indicators[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case decimal.Decimal:
		f, _ := n.Float64()
		return f, true
	default:
		return 0, false
	}
}
