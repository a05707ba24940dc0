// Package llmclient talks to an Anthropic-compatible completion API and
// guards it with a hand-rolled circuit breaker: a handful of failures in
// a row trips it open, a cooldown window lets one probe request through
// to decide whether to close it again.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/papertrader-engine/pkg/observability"
)

// Config carries the LLM collaborator's tunables.
type Config struct {
	APIKey           string
	Model            string
	BaseURL          string
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// Client implements pipeline.LLMClient.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *observability.Logger

	breaker *circuitBreaker
}

// New builds a Client. An empty APIKey still builds a usable Client
// whose Complete calls will simply fail and trip the breaker — callers
// that have no LLM configured should rely on CircuitOpen() staying
// permanently false only once a real key is wired in.
func New(cfg Config, logger *observability.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-20241022"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		breaker:    newCircuitBreaker(cfg.FailureThreshold, cfg.Cooldown),
	}
}

// CircuitOpen reports whether the breaker is currently blocking calls.
func (c *Client) CircuitOpen() bool {
	return c.breaker.open()
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Error   *anthropicError         `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Complete sends prompt as a single user turn and returns the model's
// text response. Every outcome is reported to the breaker.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.breaker.allow() {
		return "", fmt.Errorf("llm circuit open")
	}

	text, err := c.call(ctx, prompt)
	if err != nil {
		c.breaker.recordFailure()
		return "", err
	}
	c.breaker.recordSuccess()
	return text, nil
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System:    "Respond only with valid JSON matching the schema the user describes. No prose, no markdown fences.",
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm error: %s", parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("llm returned no content")
	}
	return parsed.Content[0].Text, nil
}

// circuitBreaker is a small mutex-guarded counter+timestamp+bool,
// hand-rolled rather than pulled from a circuit-breaker library.
type circuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	cooldown         time.Duration
	failures         int
	isOpen           bool
	openedAt         time.Time
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{failureThreshold: threshold, cooldown: cooldown}
}

// allow reports whether a call may proceed, transitioning the breaker to
// half-open (one probe attempt) once the cooldown has elapsed.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isOpen {
		return true
	}
	if time.Since(b.openedAt) >= b.cooldown {
		// Restart the cooldown window so only this probe gets through;
		// its success or failure then closes or re-opens the breaker.
		b.openedAt = time.Now()
		return true // half-open probe
	}
	return false
}

func (b *circuitBreaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isOpen {
		return false
	}
	return time.Since(b.openedAt) < b.cooldown
}

func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.failureThreshold {
		b.isOpen = true
		b.openedAt = time.Now()
	}
}

func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.isOpen = false
}
