package tokenstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// apiRequestTimeout bounds a single token-service call. The service is an
// optional cache tier; slow answers should not stall resolution.
const apiRequestTimeout = 5 * time.Second

// APIProvider reads and writes tokens against a remote token service over
// HTTP. Transient transport failures are retried with backoff.
type APIProvider struct {
	baseURL string
	client  *retryablehttp.Client
}

// Compile-time check that APIProvider implements TokenProvider.
var _ TokenProvider = (*APIProvider)(nil)

// NewAPIProvider creates a provider talking to the token service at baseURL.
func NewAPIProvider(baseURL string) (*APIProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("api base URL cannot be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid api base URL: %w", err)
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.HTTPClient.Timeout = apiRequestTimeout
	client.RetryMax = 2
	client.Logger = nil // retries surface through the returned error

	return &APIProvider{baseURL: baseURL, client: client}, nil
}

func (p *APIProvider) Name() string {
	return ProviderAPI
}

// tokenEnvelope is the wire format of the token service.
type tokenEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Token   *Token `json:"token,omitempty"`
}

// GetToken fetches the current token for tokenName from the service.
// 404 and success=false responses are not-found; transport failures and
// unexpected statuses are storage failures.
func (p *APIProvider) GetToken(ctx context.Context, tokenName string) (Token, error) {
	reqURL := fmt.Sprintf("%s/current_token?token_name=%s", p.baseURL, url.QueryEscape(tokenName))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Token{}, &StorageError{Provider: p.Name(), Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Token{}, &StorageError{Provider: p.Name(), Err: fmt.Errorf("token service unreachable: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return Token{}, notFound(p.Name(), tokenName)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, &StorageError{Provider: p.Name(), Err: fmt.Errorf("token service returned status %d", resp.StatusCode)}
	}

	var envelope tokenEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return Token{}, &StorageError{Provider: p.Name(), Err: fmt.Errorf("decoding token service response: %w", err)}
	}
	if !envelope.Success || envelope.Token == nil || envelope.Token.IsZero() {
		return Token{}, notFound(p.Name(), tokenName)
	}

	slog.DebugContext(ctx, "token found via token service", "token", tokenName)
	return *envelope.Token, nil
}

// SaveToken posts the token to the service.
func (p *APIProvider) SaveToken(ctx context.Context, token Token) error {
	body, err := json.Marshal(token)
	if err != nil {
		return &StorageError{Provider: p.Name(), Err: err}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/current_token", bytes.NewReader(body))
	if err != nil {
		return &StorageError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &StorageError{Provider: p.Name(), Err: fmt.Errorf("token service unreachable: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &StorageError{Provider: p.Name(), Err: fmt.Errorf("token service returned status %d", resp.StatusCode)}
	}

	slog.InfoContext(ctx, "saved token via token service", "token", token.Name)
	return nil
}
