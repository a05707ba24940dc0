package api

import "net/http"

func (s *Server) handleListRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.risk.All())
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	strategyID := pathVar(r, "strategyId")
	writeJSON(w, http.StatusOK, s.risk.Snapshot(strategyID))
}

type haltRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHaltStrategy(w http.ResponseWriter, r *http.Request) {
	strategyID := pathVar(r, "strategyId")
	var req haltRequest
	_ = decodeOptionalJSON(r, &req)
	if req.Reason == "" {
		req.Reason = "manual halt via API"
	}
	s.risk.Halt(r.Context(), strategyID, req.Reason)
	writeJSON(w, http.StatusOK, s.risk.Snapshot(strategyID))
}

func (s *Server) handleResumeStrategy(w http.ResponseWriter, r *http.Request) {
	strategyID := pathVar(r, "strategyId")
	s.risk.Resume(strategyID)
	writeJSON(w, http.StatusOK, s.risk.Snapshot(strategyID))
}
