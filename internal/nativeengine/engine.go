// Package nativeengine talks to the native indicator engine over stdio
// JSON-RPC: one short-lived subprocess invocation per command, a
// semaphore bounding how many run concurrently, and a hard cap on
// request size so a bad caller can't balloon the child's memory.
package nativeengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/internal/pipeline"
	"github.com/papertrader-engine/pkg/observability"
	"github.com/shopspring/decimal"
)

// Command names the engine's stdio JSON-RPC surface supports.
const (
	CommandScan            = "scan"
	CommandBacktest        = "backtest"
	CommandSignals         = "signals"
	CommandRisk            = "risk"
	CommandGreeks          = "greeks"
	CommandAdvancedSignals = "advanced_signals"
	CommandIVSurface       = "iv_surface"
	CommandOptimize        = "optimize"
	CommandWalkForward     = "walk_forward"
)

type wireRequest struct {
	Command string `json:"command"`
	Data    any    `json:"data"`
}

type wireResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// Engine is the pipeline-facing client for the native indicator process.
type Engine struct {
	binaryPath    string
	timeout       time.Duration
	maxInputBytes int
	sem           chan struct{}
	logger        *observability.Logger
}

// Config carries the native engine's tunables.
type Config struct {
	BinaryPath    string
	Timeout       time.Duration
	MaxInputBytes int
	MaxConcurrent int
}

// New builds an Engine. A blank BinaryPath makes Available() report
// false so the pipeline falls back to the LLM path.
func New(cfg Config, logger *observability.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = 2 * 1024 * 1024
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	return &Engine{
		binaryPath:    cfg.BinaryPath,
		timeout:       cfg.Timeout,
		maxInputBytes: cfg.MaxInputBytes,
		sem:           make(chan struct{}, cfg.MaxConcurrent),
		logger:        logger,
	}
}

// Available reports whether the configured binary exists and is
// executable. Checked fresh each call since the binary can be deployed
// or removed while the process runs.
func (e *Engine) Available() bool {
	if e.binaryPath == "" {
		return false
	}
	info, err := os.Stat(e.binaryPath)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// call runs one command through the subprocess, blocking on the
// concurrency semaphore (FIFO via channel send order) until a slot
// frees up or ctx is cancelled.
func (e *Engine) call(ctx context.Context, command string, data any) (json.RawMessage, error) {
	payload, err := json.Marshal(wireRequest{Command: command, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if len(payload) > e.maxInputBytes {
		return nil, fmt.Errorf("request of %d bytes exceeds %d byte limit", len(payload), e.maxInputBytes)
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, e.binaryPath)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if e.logger != nil {
			e.logger.Error(ctx, "native engine invocation failed", err, map[string]interface{}{
				"command": command,
				"stderr":  stderr.String(),
			})
		}
		return nil, fmt.Errorf("engine %s: %w", command, err)
	}

	var resp wireResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("engine %s reported failure: %s", command, resp.Error)
	}
	return resp.Data, nil
}

type engineSignalWire struct {
	Symbol     string             `json:"symbol"`
	Direction  string             `json:"direction"`
	Confidence float64            `json:"confidence"`
	Entry      float64            `json:"entry"`
	StopLoss   float64            `json:"stop_loss"`
	Target     float64            `json:"target"`
	Indicators map[string]any     `json:"indicators,omitempty"`
	Votes      map[string]int     `json:"votes,omitempty"`
	Gates      *gateScoresWire    `json:"gates,omitempty"`
}

type gateScoresWire struct {
	G1Trend       float64 `json:"g1_trend"`
	G2Momentum    float64 `json:"g2_momentum"`
	G3Volatility  float64 `json:"g3_volatility"`
	G4Volume      float64 `json:"g4_volume"`
	G5OptionsFlow float64 `json:"g5_options_flow"`
	G6GlobalMacro float64 `json:"g6_global_macro"`
	G7FiiDii      float64 `json:"g7_fii_dii"`
	G8Sentiment   float64 `json:"g8_sentiment"`
	G9Risk        float64 `json:"g9_risk"`
}

func (g *gateScoresWire) toDomain() domain.GateScores {
	return domain.GateScores{
		G1Trend:       decimal.NewFromFloat(g.G1Trend),
		G2Momentum:    decimal.NewFromFloat(g.G2Momentum),
		G3Volatility:  decimal.NewFromFloat(g.G3Volatility),
		G4Volume:      decimal.NewFromFloat(g.G4Volume),
		G5OptionsFlow: decimal.NewFromFloat(g.G5OptionsFlow),
		G6GlobalMacro: decimal.NewFromFloat(g.G6GlobalMacro),
		G7FiiDii:      decimal.NewFromFloat(g.G7FiiDii),
		G8Sentiment:   decimal.NewFromFloat(g.G8Sentiment),
		G9Risk:        decimal.NewFromFloat(g.G9Risk),
		Source:        "engine",
	}
}

// Scan implements pipeline.NativeEngine.
func (e *Engine) Scan(ctx context.Context, req pipeline.ScanRequest) ([]pipeline.EngineSignal, error) {
	raw, err := e.call(ctx, CommandScan, req)
	if err != nil {
		return nil, err
	}
	var wire []engineSignalWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode scan signals: %w", err)
	}
	out := make([]pipeline.EngineSignal, 0, len(wire))
	for _, w := range wire {
		direction := domain.SignalBuy
		if w.Direction == string(domain.SignalSell) {
			direction = domain.SignalSell
		}
		sig := pipeline.EngineSignal{
			Symbol:     w.Symbol,
			Direction:  direction,
			Confidence: decimal.NewFromFloat(w.Confidence),
			Entry:      decimal.NewFromFloat(w.Entry),
			StopLoss:   decimal.NewFromFloat(w.StopLoss),
			Target:     decimal.NewFromFloat(w.Target),
			Indicators: w.Indicators,
			Votes:      w.Votes,
		}
		if w.Gates != nil {
			g := w.Gates.toDomain()
			sig.Gates = &g
		}
		out = append(out, sig)
	}
	return out, nil
}

// Backtest, Signals, Risk, Greeks, AdvancedSignals, IVSurface, Optimize
// and WalkForward expose the rest of the engine's command surface as
// raw-JSON passthroughs. Nothing in this module calls them: the HTTP API
// has no route to them, and the pipeline itself only ever calls Scan.

func (e *Engine) Backtest(ctx context.Context, data any) (json.RawMessage, error) {
	return e.call(ctx, CommandBacktest, data)
}

func (e *Engine) Signals(ctx context.Context, data any) (json.RawMessage, error) {
	return e.call(ctx, CommandSignals, data)
}

func (e *Engine) Risk(ctx context.Context, data any) (json.RawMessage, error) {
	return e.call(ctx, CommandRisk, data)
}

func (e *Engine) Greeks(ctx context.Context, data any) (json.RawMessage, error) {
	return e.call(ctx, CommandGreeks, data)
}

func (e *Engine) AdvancedSignals(ctx context.Context, data any) (json.RawMessage, error) {
	return e.call(ctx, CommandAdvancedSignals, data)
}

func (e *Engine) IVSurface(ctx context.Context, data any) (json.RawMessage, error) {
	return e.call(ctx, CommandIVSurface, data)
}

func (e *Engine) Optimize(ctx context.Context, data any) (json.RawMessage, error) {
	return e.call(ctx, CommandOptimize, data)
}

func (e *Engine) WalkForward(ctx context.Context, data any) (json.RawMessage, error) {
	return e.call(ctx, CommandWalkForward, data)
}
