package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/papertrader-engine/internal/domain"
)

type agentStatusResponse struct {
	IsActive     bool   `json:"isActive"`
	Mode         string `json:"mode"`
	TodaySignals int    `json:"todaySignals"`
	TodayTrades  int    `json:"todayTrades"`
	Uptime       string `json:"uptime"`
	RustEngine   bool   `json:"rustEngine"`
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	s.agentMu.Lock()
	active := s.agentActive
	mode := s.agentMode
	started := s.agentStart
	s.agentMu.Unlock()

	uptime := time.Duration(0)
	if active && !started.IsZero() {
		uptime = time.Since(started)
	}

	signals, err := s.store.ListSignals(r.Context(), "", 1000, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var todaySignals, todayTrades int
	now := time.Now()
	for _, sig := range signals {
		if sameDay(sig.CreatedAt, now) {
			todaySignals++
			if sig.Status == domain.SignalExecuted {
				todayTrades++
			}
		}
	}

	writeJSON(w, http.StatusOK, agentStatusResponse{
		IsActive:     active,
		Mode:         string(mode),
		TodaySignals: todaySignals,
		TodayTrades:  todayTrades,
		Uptime:       uptime.String(),
		RustEngine:   false,
	})
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

type agentStartRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleAgentStart(w http.ResponseWriter, r *http.Request) {
	var req agentStartRequest
	_ = decodeOptionalJSON(r, &req)

	mode := domain.AgentModeAdvisory
	if req.Mode == string(domain.AgentModeAutonomous) {
		mode = domain.AgentModeAutonomous
	}

	s.agentMu.Lock()
	s.agentActive = true
	s.agentMode = mode
	s.agentStart = time.Now()
	s.agentMu.Unlock()

	s.scheduler.StartMarketScan(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "mode": string(mode)})
}

func (s *Server) handleAgentStop(w http.ResponseWriter, r *http.Request) {
	s.agentMu.Lock()
	s.agentActive = false
	s.agentMu.Unlock()

	s.scheduler.StopMarketScan(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	status := domain.SignalStatus(r.URL.Query().Get("status"))
	limit, offset := pageParams(r)
	signals, err := s.store.ListSignals(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleExecuteSignal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := s.store.GetSignal(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if sig.Status != domain.SignalPending {
		writeError(w, http.StatusConflict, fmt.Errorf("signal is %s, not PENDING", sig.Status))
		return
	}
	bot, err := s.store.GetBot(r.Context(), sig.BotID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := s.pipeline.ExecuteSignal(r.Context(), bot, sig); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.RecordSignal(r.Context(), string(sig.Type), string(domain.SignalExecuted))
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleRejectSignal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.UpdateSignalStatus(r.Context(), id, domain.SignalPending, domain.SignalRejected); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.metrics.RecordSignal(r.Context(), "", string(domain.SignalRejected))
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handlePremarketBriefing(w http.ResponseWriter, r *http.Request) {
	text, err := s.briefing.get(r.Context(), s.generateBriefing)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"briefing": text})
}

// generateBriefing asks the LLM collaborator to summarise indices, VIX
// and top movers into a short pre-market note.
func (s *Server) generateBriefing(ctx context.Context) (string, error) {
	indices, err := s.market.GetIndices(ctx)
	if err != nil {
		return "", err
	}
	vix, err := s.market.GetVIX(ctx)
	if err != nil {
		return "", err
	}
	gainers, losers, err := s.market.GetTopMovers(ctx, 5)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(
		"Write a 4-sentence pre-market briefing for Indian equity traders.\nIndices: %+v\nVIX: %+v\nTop gainers: %+v\nTop losers: %+v\n",
		indices, vix, gainers, losers,
	)
	return s.llm.Complete(ctx, prompt)
}

func (s *Server) handleStrategyAccuracy(w http.ResponseWriter, r *http.Request) {
	strategyID := pathVar(r, "id")
	acc, err := s.store.LoadRollingAccuracy(r.Context(), strategyID, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy_id": strategyID,
		"accuracy":    acc.Accuracy(),
		"window":      len(acc.Outcomes),
	})
}
