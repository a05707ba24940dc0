package marketdata

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrader-engine/internal/domain"
)

func TestExchangeDirect_AcquireLimitsConcurrency(t *testing.T) {
	e := newExchangeDirect(1, time.Second, nil)

	require.NoError(t, e.acquire(context.Background()))

	var acquired int32
	done := make(chan struct{})
	go func() {
		_ = e.acquire(context.Background())
		atomic.StoreInt32(&acquired, 1)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should have blocked while the only slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	e.release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&acquired))
}

func TestExchangeDirect_AcquireRespectsContextCancellation(t *testing.T) {
	e := newExchangeDirect(1, time.Second, nil)
	require.NoError(t, e.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := e.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExchangeDirect_SessionCookieReturnsCachedCookieWithinTTL(t *testing.T) {
	e := newExchangeDirect(2, time.Second, nil)
	e.cookie = "nsit=abc; "
	e.cookieAt = time.Now()

	cookie, err := e.sessionCookie(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nsit=abc; ", cookie)
}

func TestParseExchangeDirectQuote_MapsPriceInfoFields(t *testing.T) {
	body := `{
		"priceInfo": {
			"lastPrice": 2500.5,
			"open": 2480,
			"previousClose": 2470,
			"change": 30.5,
			"pChange": 1.23,
			"intraDayHighLow": {"max": 2510, "min": 2460}
		}
	}`

	q, err := parseExchangeDirectQuote(strings.NewReader(body), "RELIANCE", domain.ExchangeNSE)
	require.NoError(t, err)
	assert.Equal(t, "RELIANCE", q.Symbol)
	assert.True(t, q.LTP.Equal(decimal.NewFromFloat(2500.5)))
	assert.True(t, q.High.Equal(decimal.NewFromInt(2510)))
	assert.True(t, q.Low.Equal(decimal.NewFromInt(2460)))
}

func TestExchangeQuoteEndpoint_RoutesByExchange(t *testing.T) {
	assert.Contains(t, exchangeQuoteEndpoint("RELIANCE", domain.ExchangeNSE), "nseindia.com")
	assert.Contains(t, exchangeQuoteEndpoint("GOLD", domain.ExchangeMCX), "mcxindia.com")
	assert.Equal(t, "", exchangeQuoteEndpoint("USDINR", domain.ExchangeCDS))
}
