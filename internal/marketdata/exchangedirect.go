package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/pkg/observability"
)

// cookieTTL is how long an exchange-direct session cookie stays valid
// before a fresh homepage GET is required.
const cookieTTL = 4 * time.Minute

// exchangeDirect is tier 3: scraping the exchange's own site using a
// session cookie obtained from a homepage GET. Concurrent scrapes are
// capped and a single in-flight cookie refresh is shared by every
// caller that needs one.
type exchangeDirect struct {
	httpClient *http.Client
	logger     *observability.Logger

	sem chan struct{}
	sf  singleflight.Group

	mu       sync.Mutex
	cookie   string
	cookieAt time.Time
}

func newExchangeDirect(maxConcurrent int, timeout time.Duration, logger *observability.Logger) *exchangeDirect {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &exchangeDirect{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		sem:        make(chan struct{}, maxConcurrent),
	}
}

func (e *exchangeDirect) name() string { return "exchange_direct" }

// acquire blocks until a concurrency slot is free or ctx is cancelled.
func (e *exchangeDirect) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *exchangeDirect) release() { <-e.sem }

// sessionCookie returns a valid cookie, refreshing it via a homepage GET
// if the current one is missing or has aged past cookieTTL. Concurrent
// callers that ask while a refresh is already in flight share its
// result rather than issuing their own homepage GET.
func (e *exchangeDirect) sessionCookie(ctx context.Context) (string, error) {
	e.mu.Lock()
	cookie, at := e.cookie, e.cookieAt
	e.mu.Unlock()

	if cookie != "" && time.Since(at) < cookieTTL {
		return cookie, nil
	}

	v, err, _ := e.sf.Do("refresh", func() (interface{}, error) {
		return e.refreshCookie(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (e *exchangeDirect) refreshCookie(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://www.nseindia.com/", nil)
	if err != nil {
		return "", fmt.Errorf("build homepage request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("homepage request failed: %w", err)
	}
	defer resp.Body.Close()

	var cookie string
	for _, c := range resp.Cookies() {
		cookie += c.Name + "=" + c.Value + "; "
	}
	if cookie == "" {
		return "", fmt.Errorf("homepage response carried no session cookie")
	}

	e.mu.Lock()
	e.cookie = cookie
	e.cookieAt = time.Now()
	e.mu.Unlock()

	return cookie, nil
}

// GetQuote calls the exchange's own JSON quote endpoint (a fixed URL per
// exchange, see exchangeQuoteEndpoint) behind the session cookie. Only
// NSE and MCX have an endpoint; any failure here simply falls through to
// the next tier.
func (e *exchangeDirect) GetQuote(ctx context.Context, symbol string, exchange domain.Exchange) (*domain.Quote, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	cookie, err := e.sessionCookie(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := exchangeQuoteEndpoint(symbol, exchange)
	if endpoint == "" {
		return nil, fmt.Errorf("no exchange-direct endpoint for %s", exchange)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange-direct request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange-direct returned %d", resp.StatusCode)
	}

	return parseExchangeDirectQuote(resp.Body, symbol, exchange)
}

func exchangeQuoteEndpoint(symbol string, exchange domain.Exchange) string {
	switch exchange {
	case domain.ExchangeNSE:
		return "https://www.nseindia.com/api/quote-equity?symbol=" + symbol
	case domain.ExchangeMCX:
		return "https://www.mcxindia.com/backpage.aspx/GetQuote?symbol=" + symbol
	default:
		return ""
	}
}

type exchangeDirectQuoteResponse struct {
	PriceInfo struct {
		LastPrice       decimal.Decimal `json:"lastPrice"`
		Open            decimal.Decimal `json:"open"`
		Close           decimal.Decimal `json:"close"`
		PreviousClose   decimal.Decimal `json:"previousClose"`
		Change          decimal.Decimal `json:"change"`
		PChange         decimal.Decimal `json:"pChange"`
		IntraDayHighLow struct {
			Max decimal.Decimal `json:"max"`
			Min decimal.Decimal `json:"min"`
		} `json:"intraDayHighLow"`
	} `json:"priceInfo"`
}

func parseExchangeDirectQuote(body io.Reader, symbol string, exchange domain.Exchange) (*domain.Quote, error) {
	var parsed exchangeDirectQuoteResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode exchange-direct response: %w", err)
	}

	info := parsed.PriceInfo
	return &domain.Quote{
		Symbol:        symbol,
		Exchange:      exchange,
		LTP:           info.LastPrice,
		Open:          info.Open,
		High:          info.IntraDayHighLow.Max,
		Low:           info.IntraDayHighLow.Min,
		PrevClose:     info.PreviousClose,
		Change:        info.Change,
		ChangePercent: info.PChange,
		Timestamp:     time.Now(),
	}, nil
}
