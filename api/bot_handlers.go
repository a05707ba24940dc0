package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/papertrader-engine/internal/domain"
)

type createBotRequest struct {
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Symbols    []string `json:"symbols"`
	StrategyID string   `json:"strategy_id"`
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, errRequired("name and role"))
		return
	}
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = domain.DefaultBotSymbols
	}

	bot := &domain.Bot{
		ID:         uuid.New(),
		Name:       req.Name,
		Role:       domain.Role(req.Role),
		Symbols:    symbols,
		Status:     domain.BotStatusIdle,
		StrategyID: req.StrategyID,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateBot(r.Context(), bot); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, bot)
}

type updateBotRequest struct {
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Symbols    []string `json:"symbols"`
	StrategyID string   `json:"strategy_id"`
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bot, err := s.store.GetBot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var req updateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name != "" {
		bot.Name = req.Name
	}
	if req.Role != "" {
		bot.Role = domain.Role(req.Role)
	}
	if len(req.Symbols) > 0 {
		bot.Symbols = req.Symbols
	}
	if req.StrategyID != "" {
		bot.StrategyID = req.StrategyID
	}
	if err := s.store.UpdateBot(r.Context(), bot); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.scheduler.StopBot(r.Context(), id)
	if err := s.store.DeleteBot(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.store.ListBots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bot, err := s.store.GetBot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	bot.Status = domain.BotStatusRunning
	if err := s.store.UpdateBotStatus(r.Context(), bot.ID, domain.BotStatusRunning, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.scheduler.StartBot(r.Context(), bot)
	s.metrics.IncrementActiveBots(r.Context())
	writeJSON(w, http.StatusOK, bot)
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.scheduler.StopBot(r.Context(), id)
	if err := s.store.UpdateBotStatus(r.Context(), id, domain.BotStatusIdle, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.DecrementActiveBots(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type botTaskRequest struct {
	Text string `json:"text"`
}

// handleBotTask records an ad hoc one-shot task against a bot's audit
// trail without waiting for its next scheduled tick.
func (s *Server) handleBotTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req botTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errRequired("text"))
		return
	}
	msg := &domain.BotMessage{
		ID:        uuid.New(),
		BotID:     id,
		Type:      domain.BotMessageTradeRequest,
		Text:      req.Text,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveMessage(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (s *Server) handleListBotMessages(w http.ResponseWriter, r *http.Request) {
	botID := uuid.Nil
	if raw := r.URL.Query().Get("bot_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		botID = parsed
	}
	limit, offset := pageParams(r)
	msgs, err := s.store.ListBotMessages(r.Context(), botID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[key])
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
