package pipeline

import (
	"context"

	"github.com/papertrader-engine/internal/domain"
	"github.com/shopspring/decimal"
)

var mcxSymbols = map[string]bool{
	"GOLD": true, "GOLDM": true, "GOLDPETAL": true, "SILVER": true, "SILVERM": true,
	"CRUDEOIL": true, "NATURALGAS": true, "COPPER": true, "ZINC": true, "LEAD": true,
	"ALUMINIUM": true, "NICKEL": true, "COTTON": true, "MENTHAOIL": true, "CASTORSEED": true,
}

var cdsSymbols = map[string]bool{
	"USDINR": true, "EURINR": true, "GBPINR": true, "JPYINR": true, "AUDINR": true,
	"CADINR": true, "CHFINR": true, "SGDINR": true, "HKDINR": true, "CNHINR": true,
}

// RouteExchange resolves which exchange a symbol trades on using the
// fixed commodity/currency alphabet; everything not in those lists routes
// to NSE.
func RouteExchange(symbol string) domain.Exchange {
	if mcxSymbols[symbol] {
		return domain.ExchangeMCX
	}
	if cdsSymbols[symbol] {
		return domain.ExchangeCDS
	}
	return domain.ExchangeNSE
}

const minTradesForKelly = 5

// positionAllocation computes the half-Kelly capital fraction for a
// symbol given its recent closed-trade history. Falls back to a flat 5%
// when there isn't enough history to estimate win rate / win-loss ratio.
func positionAllocation(trades []ClosedTrade) decimal.Decimal {
	if len(trades) < minTradesForKelly {
		return decimal.NewFromFloat(0.05)
	}

	wins, losses := 0, 0
	var winSum, lossSum decimal.Decimal
	for _, t := range trades {
		if t.Win {
			wins++
			winSum = winSum.Add(t.PnL)
		} else {
			losses++
			lossSum = lossSum.Add(t.PnL.Abs())
		}
	}

	total := decimal.NewFromInt(int64(len(trades)))
	winRate := decimal.NewFromInt(int64(wins)).Div(total)

	var wlRatio decimal.Decimal
	if losses > 0 && lossSum.IsPositive() && wins > 0 {
		avgWin := winSum.Div(decimal.NewFromInt(int64(wins)))
		avgLoss := lossSum.Div(decimal.NewFromInt(int64(losses)))
		if avgLoss.IsPositive() {
			wlRatio = avgWin.Div(avgLoss)
		}
	}

	return domain.HalfKellyFraction(winRate, wlRatio)
}

// quantityFor computes the lot/share quantity for a capital fraction,
// floored and never below 1.
func quantityFor(nav, allocation, ltp decimal.Decimal) decimal.Decimal {
	if !ltp.IsPositive() {
		return decimal.NewFromInt(1)
	}
	raw := nav.Mul(allocation).Div(ltp).Floor()
	if raw.LessThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return raw
}

// classifyOutcome applies the breakeven band: |pnl| < 10 is BREAKEVEN,
// otherwise the sign of pnl decides WIN/LOSS.
func classifyOutcome(netPnL decimal.Decimal) domain.OutcomeTag {
	if netPnL.Abs().LessThan(decimal.NewFromInt(10)) {
		return domain.OutcomeBreakeven
	}
	if netPnL.IsPositive() {
		return domain.OutcomeWin
	}
	return domain.OutcomeLoss
}

// loadTrades is a small helper kept here so execution.go owns the Kelly
// sizing call site end to end; it simply forwards to the store.
func loadTrades(ctx context.Context, store Store, strategyID, symbol string) ([]ClosedTrade, error) {
	return store.RecentClosedTrades(ctx, strategyID, symbol, 30)
}
