package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const defaultRetryAfter = 5 * time.Second

// Resolution is the state of a remote randomness request.
type Resolution struct {
	Done       bool
	Success    bool
	Words      []*big.Int
	Error      string
	RetryAfter time.Duration
}

// HTTPClient talks to a remote randomness oracle: requests are submitted
// with POST {endpoint}/requests and polled with GET {endpoint}/requests/{id}.
type HTTPClient struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPClient constructs a client using the provided endpoint.
func NewHTTPClient(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("oracle endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse oracle endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("oracle endpoint must be http(s): %s", endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("oracle-http")
	}
	return &HTTPClient{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

type submitPayload struct {
	Seed             string `json:"seed"`
	BlockNumber      uint64 `json:"block_number"`
	KeyHash          string `json:"key_hash,omitempty"`
	SubscriptionID   uint64 `json:"subscription_id,omitempty"`
	Confirmations    uint16 `json:"confirmations"`
	CallbackGasLimit uint32 `json:"callback_gas_limit,omitempty"`
	NumWords         uint32 `json:"num_words"`
}

// Submit posts a request and returns the oracle's request id.
func (c *HTTPClient) Submit(ctx context.Context, req domain.Request) (string, error) {
	body, err := json.Marshal(submitPayload{
		Seed:             hexutil.Encode(req.Seed),
		BlockNumber:      req.BlockNumber,
		KeyHash:          req.KeyHash,
		SubscriptionID:   req.SubscriptionID,
		Confirmations:    req.Confirmations,
		CallbackGasLimit: req.CallbackGasLimit,
		NumWords:         req.NumWords,
	})
	if err != nil {
		return "", fmt.Errorf("encode oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("requests"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())
	c.authorize(httpReq)

	raw, status, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return "", fmt.Errorf("oracle submit status %d: %s", status, strings.TrimSpace(string(raw)))
	}

	id := strings.TrimSpace(gjson.GetBytes(raw, "request_id").String())
	if id == "" {
		return "", fmt.Errorf("oracle submit response missing request_id")
	}
	return id, nil
}

// Resolve polls the status of a submitted request.
func (c *HTTPClient) Resolve(ctx context.Context, id string) (Resolution, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("requests", id), nil)
	if err != nil {
		return Resolution{}, fmt.Errorf("build resolver request: %w", err)
	}
	c.authorize(httpReq)

	raw, status, err := c.do(httpReq)
	if err != nil {
		return Resolution{}, err
	}
	if status != http.StatusOK {
		return Resolution{}, fmt.Errorf("resolver status %d", status)
	}
	if !gjson.ValidBytes(raw) {
		return Resolution{}, fmt.Errorf("decode resolver response: invalid json")
	}

	res := gjson.ParseBytes(raw)
	retry := time.Duration(res.Get("retry_after_seconds").Float() * float64(time.Second))
	if retry <= 0 {
		retry = defaultRetryAfter
	}
	if !res.Get("done").Bool() {
		return Resolution{RetryAfter: retry}, nil
	}
	if !res.Get("success").Bool() {
		return Resolution{Done: true, Error: res.Get("error").String()}, nil
	}

	words, err := parseWords(res.Get("random_words"))
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Done: true, Success: true, Words: words}, nil
}

func (c *HTTPClient) url(elems ...string) string {
	u := *c.endpoint
	u.Path = path.Join(append([]string{"/", u.Path}, elems...)...)
	u.RawPath = ""
	return u.String()
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read oracle response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// parseWords accepts decimal strings, 0x-prefixed hex strings or JSON numbers.
func parseWords(arr gjson.Result) ([]*big.Int, error) {
	if !arr.IsArray() {
		return nil, fmt.Errorf("random_words missing")
	}
	var words []*big.Int
	var parseErr error
	arr.ForEach(func(_, item gjson.Result) bool {
		text := strings.TrimSpace(item.String())
		if item.Type == gjson.Number {
			text = item.Raw
		}
		word, ok := new(big.Int), false
		if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
			_, ok = word.SetString(text[2:], 16)
		} else {
			_, ok = word.SetString(text, 10)
		}
		if !ok || word.Sign() < 0 {
			parseErr = fmt.Errorf("invalid random word %q", text)
			return false
		}
		words = append(words, word)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return words, nil
}
