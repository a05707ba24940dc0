package marketdata

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/papertrader-engine/internal/domain"
)

func sortMoversDescending(movers []domain.Mover) {
	sort.Slice(movers, func(i, j int) bool {
		return movers[i].ChangePercent.GreaterThan(movers[j].ChangePercent)
	})
}

func sortMoversAscending(movers []domain.Mover) {
	sort.Slice(movers, func(i, j int) bool {
		return movers[i].ChangePercent.LessThan(movers[j].ChangePercent)
	})
}

// computeMaxPain finds the strike at which aggregate option-buyer loss
// is maximised at expiry: for each candidate strike, sum what option
// writers would retain (the notional loss buyers of every other strike
// would realise if the underlying settled there), and pick the strike
// that minimises total payout to buyers.
func computeMaxPain(contracts []domain.OptionContract) decimal.Decimal {
	if len(contracts) == 0 {
		return decimal.Zero
	}

	strikes := map[string]decimal.Decimal{}
	for _, c := range contracts {
		strikes[c.StrikePrice.String()] = c.StrikePrice
	}

	var best decimal.Decimal
	var bestPayout decimal.Decimal
	first := true

	for _, candidate := range strikes {
		payout := decimal.Zero
		for _, c := range contracts {
			switch c.OptionType {
			case "CE":
				if candidate.GreaterThan(c.StrikePrice) {
					payout = payout.Add(candidate.Sub(c.StrikePrice).Mul(c.OpenInterest))
				}
			case "PE":
				if candidate.LessThan(c.StrikePrice) {
					payout = payout.Add(c.StrikePrice.Sub(candidate).Mul(c.OpenInterest))
				}
			}
		}
		if first || payout.LessThan(bestPayout) {
			best = candidate
			bestPayout = payout
			first = false
		}
	}

	return best
}
