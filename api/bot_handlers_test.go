package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrader-engine/internal/domain"
)

// handleBotTask and handleListBotMessages go through SaveMessage and
// ListBotMessages, which no-op against a nil database (unlike bot/signal
// CRUD) rather than erroring, so these round trip cleanly even without
// Postgres.

func TestHandleBotTaskAccepted(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/bots/"+uuid.New().String()+"/task", botTaskRequest{Text: "check nifty options"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var msg domain.BotMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "check nifty options", msg.Text)
}

func TestHandleBotTaskRequiresText(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/bots/"+uuid.New().String()+"/task", botTaskRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBotTaskRejectsMalformedID(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/bots/not-a-uuid/task", botTaskRequest{Text: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListBotMessagesReturnsEmptyWithoutStore(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/bots/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []*domain.BotMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	assert.Empty(t, msgs)
}

func TestHandleListBotMessagesRejectsMalformedBotID(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/bots/messages?bot_id=not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStopBotSucceedsWithoutStore(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/bots/"+uuid.New().String()+"/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleUpdateBotNotFoundWithoutStore(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPut, "/bots/"+uuid.New().String(), updateBotRequest{Name: "renamed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
