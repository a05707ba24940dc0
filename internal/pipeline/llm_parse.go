package pipeline

import (
	"encoding/json"

	"github.com/papertrader-engine/internal/domain"
	"github.com/shopspring/decimal"
)

type llmSignalJSON struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	Target     float64 `json:"target"`
}

// parseLLMSignals tolerates a non-JSON or malformed response by returning
// an empty slice rather than an error; callers must treat an LLM response
// that doesn't parse as "no signals", never as a crash.
func parseLLMSignals(raw string) []EngineSignal {
	var parsed []llmSignalJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}

	out := make([]EngineSignal, 0, len(parsed))
	for _, s := range parsed {
		direction := domain.SignalBuy
		if s.Direction == string(domain.SignalSell) {
			direction = domain.SignalSell
		}
		out = append(out, EngineSignal{
			Symbol:     s.Symbol,
			Direction:  direction,
			Confidence: decimal.NewFromFloat(s.Confidence),
			Entry:      decimal.NewFromFloat(s.Entry),
			StopLoss:   decimal.NewFromFloat(s.StopLoss),
			Target:     decimal.NewFromFloat(s.Target),
		})
	}
	return out
}
