package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/pkg/observability"
)

// chartProvider is tier 2: a free public chart endpoint, keyed by the
// index-symbol aliases and exchange suffixes the catalogue maps symbols
// through before every request.
type chartProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *observability.Logger
}

func newChartProvider(baseURL string, timeout time.Duration, logger *observability.Logger) *chartProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &chartProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *chartProvider) name() string { return "chart_provider" }

type chartQuoteResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice   decimal.Decimal `json:"regularMarketPrice"`
				PreviousClose        decimal.Decimal `json:"previousClose"`
				RegularMarketDayHigh decimal.Decimal `json:"regularMarketDayHigh"`
				RegularMarketDayLow  decimal.Decimal `json:"regularMarketDayLow"`
				RegularMarketVolume  decimal.Decimal `json:"regularMarketVolume"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []decimal.Decimal `json:"open"`
					High   []decimal.Decimal `json:"high"`
					Low    []decimal.Decimal `json:"low"`
					Close  []decimal.Decimal `json:"close"`
					Volume []decimal.Decimal `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

func (c *chartProvider) GetQuote(ctx context.Context, symbol string, exchange domain.Exchange) (*domain.Quote, error) {
	ticker := chartSymbol(symbol, exchange)
	body, err := c.get(ctx, fmt.Sprintf("/v8/finance/chart/%s", url.PathEscape(ticker)), nil)
	if err != nil {
		return nil, err
	}

	var parsed chartQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode chart response: %w", err)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart result for %s", ticker)
	}

	meta := parsed.Chart.Result[0].Meta
	prevClose := meta.PreviousClose
	ltp := meta.RegularMarketPrice
	change := ltp.Sub(prevClose)
	changePercent := decimal.Zero
	if prevClose.IsPositive() {
		changePercent = change.Div(prevClose).Mul(decimal.NewFromInt(100))
	}

	return &domain.Quote{
		Symbol:        symbol,
		Exchange:      exchange,
		LTP:           ltp,
		High:          meta.RegularMarketDayHigh,
		Low:           meta.RegularMarketDayLow,
		PrevClose:     prevClose,
		Volume:        meta.RegularMarketVolume,
		Change:        change,
		ChangePercent: changePercent,
		Timestamp:     time.Now(),
	}, nil
}

// intervalTable is the fixed mapping from the pipeline's interval names
// (and common aliases) to the chart provider's interval query param.
var intervalTable = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "60m", "60m": "60m",
	"1d": "1d", "1day": "1d",
	"1wk": "1wk", "1w": "1wk",
	"1mo": "1mo", "1month": "1mo",
}

func (c *chartProvider) GetHistory(ctx context.Context, symbol, interval string, from, to time.Time, exchange domain.Exchange) ([]domain.Candle, error) {
	mapped, ok := intervalTable[strings.ToLower(interval)]
	if !ok {
		mapped = "1d"
	}

	ticker := chartSymbol(symbol, exchange)
	params := url.Values{}
	params.Set("interval", mapped)
	params.Set("period1", fmt.Sprintf("%d", from.Unix()))
	params.Set("period2", fmt.Sprintf("%d", to.Unix()))

	body, err := c.get(ctx, fmt.Sprintf("/v8/finance/chart/%s", url.PathEscape(ticker)), params)
	if err != nil {
		return nil, err
	}

	var parsed chartQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode chart history response: %w", err)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, nil
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := result.Indicators.Quote[0]

	candles := make([]domain.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(q.Close) {
			break
		}
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Exchange:  exchange,
			Interval:  interval,
			OpenTime:  time.Unix(ts, 0),
			CloseTime: time.Unix(ts, 0),
			Open:      valueAt(q.Open, i),
			High:      valueAt(q.High, i),
			Low:       valueAt(q.Low, i),
			Close:     valueAt(q.Close, i),
			Volume:    valueAt(q.Volume, i),
		})
	}
	return candles, nil
}

func valueAt(series []decimal.Decimal, i int) decimal.Decimal {
	if i < 0 || i >= len(series) {
		return decimal.Zero
	}
	return series[i]
}

// get issues the HTTP GET. Symbol tickers are placed through
// url.PathEscape and params through url.Values.Encode. PathEscape leaves
// "&" as is, since it has no special meaning inside a path segment (a
// ticker like "M&M.NS" stays "M&M.NS"); Values.Encode percent-encodes it
// in query values ("M%26M.NS").
func (c *chartProvider) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build chart request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart provider returned %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
