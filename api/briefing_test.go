package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBriefingCacheGetReturnsCachedTextWithinFreshnessWindow(t *testing.T) {
	var cache briefingCache
	calls := 0
	gen := func(ctx context.Context) (string, error) {
		calls++
		return fmt.Sprintf("generated-%d", calls), nil
	}

	text, err := cache.get(context.Background(), gen)
	require.NoError(t, err)
	assert.Equal(t, "generated-1", text)

	text, err = cache.get(context.Background(), gen)
	require.NoError(t, err)
	assert.Equal(t, "generated-1", text, "second call within the freshness window must not regenerate")
	assert.Equal(t, 1, calls)
}

func TestBriefingCacheGetRegeneratesOnceStale(t *testing.T) {
	var cache briefingCache
	cache.text = "stale"
	cache.generated = time.Now().Add(-time.Hour)

	calls := 0
	gen := func(ctx context.Context) (string, error) {
		calls++
		return "fresh", nil
	}

	text, err := cache.get(context.Background(), gen)
	require.NoError(t, err)
	assert.Equal(t, "fresh", text)
	assert.Equal(t, 1, calls)
}

func TestBriefingCacheGetSurfacesGenErrorWithoutPoisoningCache(t *testing.T) {
	var cache briefingCache
	gen := func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("llm unavailable")
	}

	_, err := cache.get(context.Background(), gen)
	require.Error(t, err)
	assert.True(t, cache.generated.IsZero(), "a failed generation must not mark the cache as populated")
}

func TestIsMarketHoursRejectsWeekends(t *testing.T) {
	saturday := time.Date(2026, time.August, 1, 10, 0, 0, 0, istLocation)
	assert.False(t, isMarketHours(saturday))
}

func TestIsMarketHoursAcceptsWeekdayDuringSession(t *testing.T) {
	monday := time.Date(2026, time.August, 3, 12, 0, 0, 0, istLocation)
	assert.True(t, isMarketHours(monday))
}

func TestIsMarketHoursRejectsBeforeOpen(t *testing.T) {
	early := time.Date(2026, time.August, 3, 9, 0, 0, 0, istLocation)
	assert.False(t, isMarketHours(early))
}

func TestFreshnessWindowShortensDuringMarketHours(t *testing.T) {
	monday := time.Date(2026, time.August, 3, 12, 0, 0, 0, istLocation)
	saturday := time.Date(2026, time.August, 1, 12, 0, 0, 0, istLocation)
	assert.Less(t, freshnessWindow(monday), freshnessWindow(saturday))
}

// TestHandlePremarketBriefingServesCachedTextWithoutHittingCollaborators
// pre-seeds the server's briefing cache directly so the handler returns
// without calling generateBriefing, which otherwise fans out across
// market/VIX/mover reads and the LLM client.
func TestHandlePremarketBriefingServesCachedTextWithoutHittingCollaborators(t *testing.T) {
	s := newTestServer(t)
	s.briefing.text = "markets look calm this morning"
	s.briefing.generated = time.Now()

	rec := doRequest(s, http.MethodGet, "/agent/briefing/premarket", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "markets look calm this morning", body["briefing"])
}
