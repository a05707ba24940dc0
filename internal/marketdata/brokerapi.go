package marketdata

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/argon2"

	"github.com/papertrader-engine/internal/domain"
	"github.com/papertrader-engine/pkg/observability"
)

// brokerAPI is tier 4: a broker's authenticated REST API. Per-user
// credentials are stored encrypted at rest and decrypted with a key
// derived from the server secret; every request carries a checksum of
// the timestamp, payload, and secret so the broker can reject replays.
type brokerAPI struct {
	httpClient *http.Client
	logger     *observability.Logger
	key        [32]byte
	secret     string
}

func newBrokerAPI(secret string, timeout time.Duration, logger *observability.Logger) *brokerAPI {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b := &brokerAPI{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		secret:     secret,
	}
	copy(b.key[:], deriveBrokerKey(secret))
	return b
}

func (b *brokerAPI) name() string { return "broker_api" }

// deriveBrokerKey stretches the configured server secret into a 32-byte
// AES-256 key with argon2id.
func deriveBrokerKey(secret string) []byte {
	salt := sha256.Sum256([]byte("papertrader-broker-credentials"))
	return argon2.IDKey([]byte(secret), salt[:], 1, 64*1024, 4, 32)
}

// decryptCredential reverses AES-256-CBC encryption of a per-user broker
// credential. ciphertext is expected to be hex-encoded with the IV
// prepended to the encrypted bytes.
func (b *brokerAPI) decryptCredential(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}
	if len(raw) < aes.BlockSize || (len(raw)-aes.BlockSize)%aes.BlockSize != 0 {
		return "", fmt.Errorf("malformed credential ciphertext")
	}

	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return "", fmt.Errorf("build cipher: %w", err)
	}

	iv, data := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	plain, err = unpadPKCS7(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen <= 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid PKCS7 padding")
	}
	return data[:len(data)-padLen], nil
}

// checksum produces the per-request SHA-256 the broker expects: a hash
// of the request timestamp, the JSON payload, and the server secret.
func (b *brokerAPI) checksum(timestamp string, payload []byte) string {
	sum := sha256.Sum256(append([]byte(timestamp), append(payload, []byte(b.secret)...)...))
	return hex.EncodeToString(sum[:])
}

type brokerQuoteRequest struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type brokerQuoteResponse struct {
	LTP           decimal.Decimal `json:"ltp"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	Volume        decimal.Decimal `json:"volume"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// GetQuote calls the broker's quote endpoint. Without a configured
// broker secret this tier has nothing to authenticate with and always
// falls through.
func (b *brokerAPI) GetQuote(ctx context.Context, symbol string, exchange domain.Exchange) (*domain.Quote, error) {
	if b.secret == "" {
		return nil, fmt.Errorf("broker tier not configured")
	}

	payload, err := json.Marshal(brokerQuoteRequest{Symbol: symbol, Exchange: string(exchange)})
	if err != nil {
		return nil, fmt.Errorf("encode broker quote request: %w", err)
	}

	body, err := b.post(ctx, "/quote", payload)
	if err != nil {
		return nil, err
	}

	var parsed brokerQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode broker quote response: %w", err)
	}

	return &domain.Quote{
		Symbol:        symbol,
		Exchange:      exchange,
		LTP:           parsed.LTP,
		Open:          parsed.Open,
		High:          parsed.High,
		Low:           parsed.Low,
		PrevClose:     parsed.Close,
		Volume:        parsed.Volume,
		Change:        parsed.Change,
		ChangePercent: parsed.ChangePercent,
		Timestamp:     time.Now(),
	}, nil
}

// GetOptionsChain calls the broker's options-chain endpoint, the only
// tier that can actually supply derivatives data: neither the chart
// provider nor the exchange-direct scrape carry option contracts.
func (b *brokerAPI) GetOptionsChain(ctx context.Context, symbol string) (*domain.OptionsChain, error) {
	if b.secret == "" {
		return nil, fmt.Errorf("broker tier not configured")
	}

	payload, err := json.Marshal(brokerQuoteRequest{Symbol: symbol})
	if err != nil {
		return nil, fmt.Errorf("encode broker options request: %w", err)
	}

	body, err := b.post(ctx, "/options-chain", payload)
	if err != nil {
		return nil, err
	}

	var chain domain.OptionsChain
	if err := json.Unmarshal(body, &chain); err != nil {
		return nil, fmt.Errorf("decode broker options response: %w", err)
	}
	chain.Underlying = symbol
	chain.Timestamp = time.Now()
	return &chain, nil
}

func (b *brokerAPI) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://broker.example/api"+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build broker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Checksum", b.checksum(timestamp, payload))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker returned %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("read broker response: %w", err)
	}
	return raw, nil
}
