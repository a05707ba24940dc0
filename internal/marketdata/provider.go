// Package marketdata implements pipeline.MarketData as a five-tier
// fallback stack: cache, a public chart provider, an exchange-direct
// scrape, a broker API, and a deterministic simulator. Each read
// operation tries tiers top-down and returns the first one that yields
// a valid, non-empty result.
package marketdata

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrader-engine/internal/config"
	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/pkg/observability"
)

// quoteTier is the common shape of tiers 2-4: anything that can attempt
// to produce a quote. A tier with nothing to offer returns an error; the
// provider also treats a nil or zero-LTP quote as nothing and moves on
// to the next tier.
type quoteTier interface {
	name() string
	GetQuote(ctx context.Context, symbol string, exchange domain.Exchange) (*domain.Quote, error)
}

type historyTier interface {
	name() string
	GetHistory(ctx context.Context, symbol, interval string, from, to time.Time, exchange domain.Exchange) ([]domain.Candle, error)
}

// Provider is the market-data stack the pipeline and the HTTP API read
// from. It owns the cache and wires the fallback tiers in order.
type Provider struct {
	logger *observability.Logger
	cache  *cache

	quoteTiers   []quoteTier
	historyTiers []historyTier

	chart     *chartProvider
	direct    *exchangeDirect
	broker    *brokerAPI
	simulated *simulator
}

// New builds the full five-tier stack. redisClient may be nil, in which
// case the cache tier is skipped entirely (every read falls through to
// tier 2 onward).
func New(cfg config.MarketDataConfig, redisClient *redis.Client, logger *observability.Logger) *Provider {
	ttl := map[cacheOp]time.Duration{
		opQuote:   cfg.CacheTTLQuote,
		opHistory: cfg.CacheTTLHistory,
		opSearch:  cfg.CacheTTLSearch,
		opIndices: cfg.CacheTTLIndices,
		opOptions: cfg.CacheTTLOptions,
	}

	chart := newChartProvider(cfg.ChartProviderBase, time.Duration(cfg.FetchTimeoutMS)*time.Millisecond, logger)
	direct := newExchangeDirect(cfg.NSEMaxConcurrent, time.Duration(cfg.FetchTimeoutMS)*time.Millisecond, logger)
	broker := newBrokerAPI(cfg.BrokerSecret, time.Duration(cfg.FetchTimeoutMS)*time.Millisecond, logger)
	simulated := newSimulator()

	return &Provider{
		logger:       logger,
		cache:        newCache(redisClient, ttl, logger),
		quoteTiers:   []quoteTier{chart, direct, broker},
		historyTiers: []historyTier{chart},
		chart:        chart,
		direct:       direct,
		broker:       broker,
		simulated:    simulated,
	}
}

// GetQuote implements pipeline.MarketData.
func (p *Provider) GetQuote(ctx context.Context, symbol string, exchange domain.Exchange) (*domain.Quote, error) {
	key := quoteCacheKey(symbol, string(exchange))

	var cached domain.Quote
	if p.cache.get(ctx, opQuote, key, &cached) && cached.IsUsable() {
		cached.Source = cached.Source + ":cache"
		return &cached, nil
	}

	for _, tier := range p.quoteTiers {
		q, err := tier.GetQuote(ctx, symbol, exchange)
		if err != nil {
			p.logTierError(ctx, tier.name(), err)
			continue
		}
		if q.IsUsable() {
			q.Source = tier.name()
			p.cache.set(ctx, opQuote, key, q)
			return q, nil
		}
	}

	if exchange == domain.ExchangeMCX || exchange == domain.ExchangeCDS {
		q := p.simulated.Quote(symbol, exchange, time.Now())
		return q, nil
	}

	return &domain.Quote{Symbol: symbol, Exchange: exchange, Timestamp: time.Now(), Source: "unavailable"}, nil
}

// GetHistory implements pipeline.MarketData.
func (p *Provider) GetHistory(ctx context.Context, symbol, interval string, from, to time.Time, exchange domain.Exchange) ([]domain.Candle, error) {
	key := historyCacheKey(symbol, string(exchange), interval, from, to)

	var cached []domain.Candle
	if p.cache.get(ctx, opHistory, key, &cached) && len(cached) > 0 {
		return cached, nil
	}

	for _, tier := range p.historyTiers {
		candles, err := tier.GetHistory(ctx, symbol, interval, from, to, exchange)
		if err != nil {
			p.logTierError(ctx, tier.name(), err)
			continue
		}
		if len(candles) > 0 {
			p.cache.set(ctx, opHistory, key, candles)
			return candles, nil
		}
	}

	if exchange == domain.ExchangeMCX || exchange == domain.ExchangeCDS {
		return p.simulated.History(symbol, exchange, interval, from, to), nil
	}

	return nil, nil
}

// Search implements the search operation for the HTTP API surface.
func (p *Provider) Search(ctx context.Context, query string, limit int, exchange *domain.Exchange) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	exKey := "any"
	if exchange != nil {
		exKey = string(*exchange)
	}
	key := query + ":" + exKey

	var cached []domain.SearchResult
	if p.cache.get(ctx, opSearch, key, &cached) {
		return cached, nil
	}

	results := searchCatalogue(query, limit, exchange)
	p.cache.set(ctx, opSearch, key, results)
	return results, nil
}

// GetTopMovers implements pipeline.MarketData. Movers are drawn from the
// equity catalogue, quoted through the same tiering GetQuote uses, then
// sorted by percent change.
func (p *Provider) GetTopMovers(ctx context.Context, count int) (gainers, losers []domain.Mover, err error) {
	if count <= 0 {
		count = 5
	}

	movers := make([]domain.Mover, 0, len(allEquities()))
	for _, entry := range allEquities() {
		q, qErr := p.GetQuote(ctx, entry.Symbol, entry.Exchange)
		if qErr != nil || !q.IsUsable() {
			continue
		}
		movers = append(movers, domain.Mover{
			Symbol:        entry.Symbol,
			LTP:           q.LTP,
			ChangePercent: q.ChangePercent,
			Volume:        q.Volume,
		})
	}

	sortMoversDescending(movers)
	if len(movers) > count {
		gainers = append(gainers, movers[:count]...)
	} else {
		gainers = append(gainers, movers...)
	}

	losers = make([]domain.Mover, len(movers))
	copy(losers, movers)
	sortMoversAscending(losers)
	if len(losers) > count {
		losers = losers[:count]
	}

	return gainers, losers, nil
}

// GetIndices returns the four key indices when reachable, zero-valued
// snapshots otherwise.
func (p *Provider) GetIndices(ctx context.Context) ([]domain.IndexSnapshot, error) {
	var cached []domain.IndexSnapshot
	if p.cache.get(ctx, opIndices, "all", &cached) {
		return cached, nil
	}

	snapshots := make([]domain.IndexSnapshot, 0, len(indexCatalogue))
	for _, entry := range indexCatalogue {
		q, err := p.GetQuote(ctx, entry.Symbol, entry.Exchange)
		snapshot := domain.IndexSnapshot{Name: entry.Symbol, Timestamp: time.Now()}
		if err == nil && q.IsUsable() {
			snapshot.Value = q.LTP
			snapshot.Change = q.Change
			snapshot.ChangePercent = q.ChangePercent
		}
		snapshots = append(snapshots, snapshot)
	}

	p.cache.set(ctx, opIndices, "all", snapshots)
	return snapshots, nil
}

// GetVIX returns the India VIX snapshot, or zeros if unreachable.
func (p *Provider) GetVIX(ctx context.Context) (domain.IndexSnapshot, error) {
	q, err := p.GetQuote(ctx, "INDIA VIX", domain.ExchangeNSE)
	if err != nil || !q.IsUsable() {
		return domain.IndexSnapshot{Name: "INDIA VIX", Timestamp: time.Now()}, nil
	}
	return domain.IndexSnapshot{
		Name:          "INDIA VIX",
		Value:         q.LTP,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Timestamp:     q.Timestamp,
	}, nil
}

// GetOptionsChain implements pipeline.MarketData.
func (p *Provider) GetOptionsChain(ctx context.Context, symbol string) (*domain.OptionsChain, error) {
	var cached domain.OptionsChain
	if p.cache.get(ctx, opOptions, symbol, &cached) && len(cached.Contracts) > 0 {
		return &cached, nil
	}

	chain, err := p.broker.GetOptionsChain(ctx, symbol)
	if err != nil {
		p.logTierError(ctx, "broker", err)
	}
	if chain == nil || len(chain.Contracts) == 0 {
		chain = p.simulated.OptionsChain(symbol, time.Now())
	}

	summarizeOptionsChain(chain)
	p.cache.set(ctx, opOptions, symbol, chain)
	return chain, nil
}

// Ping reports whether the cache tier's redis connection is reachable,
// for readiness probes. It never reflects the health of the downstream
// chart/exchange/broker tiers, which degrade by falling through rather
// than failing.
func (p *Provider) Ping(ctx context.Context) error {
	return p.cache.ping(ctx)
}

func (p *Provider) logTierError(ctx context.Context, tier string, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Debug(ctx, "marketdata tier failed", map[string]interface{}{
		"tier":  tier,
		"error": err.Error(),
	})
}

// summarizeOptionsChain fills PCR, MaxPain, TotalCallOI, TotalPutOI from
// the chain's contracts.
func summarizeOptionsChain(chain *domain.OptionsChain) {
	totalCallOI := decimal.Zero
	totalPutOI := decimal.Zero

	for _, c := range chain.Contracts {
		if c.OptionType == "CE" {
			totalCallOI = totalCallOI.Add(c.OpenInterest)
		} else if c.OptionType == "PE" {
			totalPutOI = totalPutOI.Add(c.OpenInterest)
		}
	}

	chain.TotalCallOI = totalCallOI
	chain.TotalPutOI = totalPutOI
	if totalCallOI.IsPositive() {
		chain.PCR = totalPutOI.Div(totalCallOI)
	}

	chain.MaxPain = computeMaxPain(chain.Contracts)
}
