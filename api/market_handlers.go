package api

import (
	"net/http"
	"time"

	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/internal/pipeline"
)

func exchangeFromQuery(r *http.Request) domain.Exchange {
	if raw := r.URL.Query().Get("exchange"); raw != "" {
		return domain.Exchange(raw)
	}
	symbol := r.URL.Query().Get("symbol")
	return pipeline.RouteExchange(symbol)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, errRequired("symbol"))
		return
	}
	quote, err := s.market.GetQuote(r.Context(), symbol, exchangeFromQuery(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	interval := q.Get("interval")
	if symbol == "" || interval == "" {
		writeError(w, http.StatusBadRequest, errRequired("symbol and interval"))
		return
	}
	from, err := parseTimeParam(q.Get("from"), time.Now().AddDate(0, 0, -30))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeParam(q.Get("to"), time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	candles, err := s.market.GetHistory(r.Context(), symbol, interval, from, to, exchangeFromQuery(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func parseTimeParam(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, errRequired("q"))
		return
	}
	var exchange *domain.Exchange
	if raw := r.URL.Query().Get("exchange"); raw != "" {
		ex := domain.Exchange(raw)
		exchange = &ex
	}
	results, err := s.market.Search(r.Context(), q, 20, exchange)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleIndices(w http.ResponseWriter, r *http.Request) {
	indices, err := s.market.GetIndices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, indices)
}

func (s *Server) handleVIX(w http.ResponseWriter, r *http.Request) {
	vix, err := s.market.GetVIX(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, vix)
}

func (s *Server) handleMovers(w http.ResponseWriter, r *http.Request) {
	gainers, losers, err := s.market.GetTopMovers(r.Context(), 10)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"gainers": gainers, "losers": losers})
}

func (s *Server) handleOptionsChain(w http.ResponseWriter, r *http.Request) {
	symbol := pathVar(r, "symbol")
	chain, err := s.market.GetOptionsChain(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}
