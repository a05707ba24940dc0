package marketdata

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrader-engine/internal/domain"
)

func newTestCache(t *testing.T) *cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ttl := map[cacheOp]time.Duration{
		opQuote:   30 * time.Second,
		opHistory: 300 * time.Second,
	}
	return newCache(client, ttl, nil)
}

// fakeQuoteTier lets tests control exactly what each tier returns
// without reaching the network.
type fakeQuoteTier struct {
	tierName string
	quote    *domain.Quote
	err      error
	calls    int
}

func (f *fakeQuoteTier) name() string { return f.tierName }
func (f *fakeQuoteTier) GetQuote(ctx context.Context, symbol string, exchange domain.Exchange) (*domain.Quote, error) {
	f.calls++
	return f.quote, f.err
}

func usableQuote(ltp float64) *domain.Quote {
	return &domain.Quote{LTP: decimal.NewFromFloat(ltp), Timestamp: time.Now()}
}

func TestProvider_GetQuote_FallsThroughToNextTierOnError(t *testing.T) {
	first := &fakeQuoteTier{tierName: "first", err: fmt.Errorf("boom")}
	second := &fakeQuoteTier{tierName: "second", quote: usableQuote(100)}

	p := &Provider{
		cache:      newTestCache(t),
		quoteTiers: []quoteTier{first, second},
		simulated:  newSimulator(),
	}

	q, err := p.GetQuote(context.Background(), "RELIANCE", domain.ExchangeNSE)
	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.True(t, q.LTP.Equal(decimal.NewFromFloat(100)))
	assert.Equal(t, "second", q.Source)
}

func TestProvider_GetQuote_SkipsUnusableResultAndTriesNextTier(t *testing.T) {
	first := &fakeQuoteTier{tierName: "first", quote: &domain.Quote{}} // zero LTP, not usable
	second := &fakeQuoteTier{tierName: "second", quote: usableQuote(250)}

	p := &Provider{
		cache:      newTestCache(t),
		quoteTiers: []quoteTier{first, second},
		simulated:  newSimulator(),
	}

	q, err := p.GetQuote(context.Background(), "TCS", domain.ExchangeNSE)
	require.NoError(t, err)
	assert.True(t, q.LTP.Equal(decimal.NewFromFloat(250)))
}

func TestProvider_GetQuote_CacheHitSkipsTiers(t *testing.T) {
	tier := &fakeQuoteTier{tierName: "only", quote: usableQuote(500)}
	c := newTestCache(t)

	p := &Provider{
		cache:      c,
		quoteTiers: []quoteTier{tier},
		simulated:  newSimulator(),
	}

	_, err := p.GetQuote(context.Background(), "INFY", domain.ExchangeNSE)
	require.NoError(t, err)
	require.Equal(t, 1, tier.calls)

	q2, err := p.GetQuote(context.Background(), "INFY", domain.ExchangeNSE)
	require.NoError(t, err)
	assert.Equal(t, 1, tier.calls, "second call should be served from cache")
	assert.Contains(t, q2.Source, "cache")
}

func TestProvider_GetQuote_NeverCachesUnusableQuote(t *testing.T) {
	tier := &fakeQuoteTier{tierName: "empty", quote: &domain.Quote{}}
	c := newTestCache(t)

	p := &Provider{
		cache:      c,
		quoteTiers: []quoteTier{tier},
		simulated:  newSimulator(),
	}

	_, err := p.GetQuote(context.Background(), "WIPRO", domain.ExchangeNSE)
	require.NoError(t, err)

	var cached domain.Quote
	found := c.get(context.Background(), opQuote, quoteCacheKey("WIPRO", string(domain.ExchangeNSE)), &cached)
	assert.False(t, found, "an unusable quote must never be cached")
}

func TestProvider_GetQuote_MCXFallsBackToSimulatorWhenAllTiersFail(t *testing.T) {
	tier := &fakeQuoteTier{tierName: "dead", err: fmt.Errorf("unreachable")}

	p := &Provider{
		cache:      newTestCache(t),
		quoteTiers: []quoteTier{tier},
		simulated:  newSimulator(),
	}

	q, err := p.GetQuote(context.Background(), "GOLD", domain.ExchangeMCX)
	require.NoError(t, err)
	assert.Equal(t, "simulated", q.Source)
	assert.True(t, q.LTP.IsPositive())
}

func TestProvider_GetQuote_NSEReturnsUnavailableQuoteWhenAllTiersFail(t *testing.T) {
	tier := &fakeQuoteTier{tierName: "dead", err: fmt.Errorf("unreachable")}

	p := &Provider{
		cache:      newTestCache(t),
		quoteTiers: []quoteTier{tier},
		simulated:  newSimulator(),
	}

	q, err := p.GetQuote(context.Background(), "RELIANCE", domain.ExchangeNSE)
	require.NoError(t, err)
	assert.Equal(t, "unavailable", q.Source)
	assert.False(t, q.IsUsable())
}

func TestProvider_Ping_HealthyAgainstLiveCache(t *testing.T) {
	p := &Provider{cache: newTestCache(t)}
	assert.NoError(t, p.Ping(context.Background()))
}

func TestProvider_Ping_NilCacheClientIsAlwaysHealthy(t *testing.T) {
	p := &Provider{cache: newCache(nil, nil, nil)}
	assert.NoError(t, p.Ping(context.Background()))
}

func TestSummarizeOptionsChain_ComputesPCRAndOpenInterestTotals(t *testing.T) {
	chain := &domain.OptionsChain{
		Contracts: []domain.OptionContract{
			{OptionType: "CE", StrikePrice: decimal.NewFromInt(100), OpenInterest: decimal.NewFromInt(1000)},
			{OptionType: "CE", StrikePrice: decimal.NewFromInt(110), OpenInterest: decimal.NewFromInt(500)},
			{OptionType: "PE", StrikePrice: decimal.NewFromInt(100), OpenInterest: decimal.NewFromInt(2000)},
			{OptionType: "PE", StrikePrice: decimal.NewFromInt(90), OpenInterest: decimal.NewFromInt(500)},
		},
	}

	summarizeOptionsChain(chain)

	assert.True(t, chain.TotalCallOI.Equal(decimal.NewFromInt(1500)))
	assert.True(t, chain.TotalPutOI.Equal(decimal.NewFromInt(2500)))
	expectedPCR := decimal.NewFromInt(2500).Div(decimal.NewFromInt(1500))
	assert.True(t, chain.PCR.Equal(expectedPCR))
}

func TestSearchCatalogue_MatchesByNameOrSymbol(t *testing.T) {
	results := searchCatalogue("reliance", 5, nil)
	require.NotEmpty(t, results)
	assert.Equal(t, "RELIANCE", results[0].Symbol)
}

func TestChartSymbol_AppliesIndexAliasesAndExchangeSuffix(t *testing.T) {
	assert.Equal(t, "^NSEI", chartSymbol("NIFTY 50", domain.ExchangeNSE))
	assert.Equal(t, "^NSEBANK", chartSymbol("BANKNIFTY", domain.ExchangeNSE))
	assert.Equal(t, "RELIANCE.NS", chartSymbol("RELIANCE", domain.ExchangeNSE))
}
