package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrader-engine/internal/domain"
)

// The chart and exchange-direct tiers dial real hosts (Yahoo-style chart
// endpoint, nseindia.com) with no way to point them at a fake in tests, so
// the handlers that reach GetQuote (quote/history/indices/vix/movers) are
// exercised here only on their validation paths. handleOptionsChain is
// the one exception: with no broker secret configured (the zero value
// newTestServer uses) brokerAPI.GetOptionsChain fails locally before any
// network call and the provider falls back to its deterministic
// simulator, so the full success path is safe to assert here.

func TestHandleQuoteRequiresSymbol(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/market/quote", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHistoryRequiresSymbolAndInterval(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/market/history?symbol=RELIANCE", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/market/history?interval=1d", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHistoryRejectsMalformedFromParam(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/market/history?symbol=RELIANCE&interval=1d&from=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/market/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleOptionsChainFallsBackToSimulatorWithoutBrokerSecret(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/market/options/NIFTY", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chain domain.OptionsChain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	assert.Equal(t, "NIFTY", chain.Underlying)
	assert.NotEmpty(t, chain.Contracts)
}
