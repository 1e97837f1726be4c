package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spraayhq/walletcore/pkg/wallet"
)

const (
	headerAuthorization  = "Authorization"
	headerIdempotencyKey = "Idempotency-Key"
	headerContentType    = "Content-Type"
	contentTypeJSON      = "application/json"

	defaultTimeout = 15 * time.Second

	maxResponseBytes = 1 << 20
)

// Config carries a provider's connection settings. Credentials are injected
// here at startup; nothing reads the environment at call time.
type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
}

func (config Config) timeout() time.Duration {
	if config.Timeout <= 0 {
		return defaultTimeout
	}
	return config.Timeout
}

// apiClient is the shared HTTP plumbing for both provider clients. Transport
// failures (timeout, connection refused, cancelled context) come back wrapped
// in wallet.ErrProviderUnavailable: the outcome is unknown, not failed, and
// reconciliation settles the truth later. Non-2xx responses with a parseable
// body are returned to the caller for business-level interpretation.
type apiClient struct {
	httpClient *http.Client
	config     Config
}

func newAPIClient(config Config) *apiClient {
	return &apiClient{
		httpClient: &http.Client{Timeout: config.timeout()},
		config:     config,
	}
}

type apiResponse struct {
	statusCode int
	body       []byte
}

func (response apiResponse) ok() bool {
	return response.statusCode >= 200 && response.statusCode < 300
}

func (client *apiClient) do(ctx context.Context, method string, path string, idempotencyKey string, payload any) (apiResponse, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apiResponse{}, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	url := strings.TrimRight(client.config.BaseURL, "/") + path
	request, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set(headerAuthorization, "Bearer "+client.config.BearerToken)
	if payload != nil {
		request.Header.Set(headerContentType, contentTypeJSON)
	}
	if idempotencyKey != "" {
		request.Header.Set(headerIdempotencyKey, idempotencyKey)
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		return apiResponse{}, fmt.Errorf("%w: %s %s: %v", wallet.ErrProviderUnavailable, method, path, err)
	}
	defer func() { _ = response.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return apiResponse{}, fmt.Errorf("%w: reading %s %s: %v", wallet.ErrProviderUnavailable, method, path, err)
	}
	return apiResponse{statusCode: response.StatusCode, body: raw}, nil
}

func decodeBody(response apiResponse, target any) error {
	return json.Unmarshal(response.body, target)
}
