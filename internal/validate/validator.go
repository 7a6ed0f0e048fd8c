// Package validate decides whether a cached CRM token is still usable.
//
// Verdicts combine three signals: structural well-formedness, known expiry
// with a safety margin, and an optional liveness probe against the vendor's
// auth service. A probe that cannot be completed (network failure) yields an
// unknown verdict and the local signals decide, so resolution never fails
// just because the auth service is unreachable.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/drivelane/reyrey-auth/internal/crm"
	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

// DefaultExpiryMargin is subtracted from a token's known expiry so tokens
// are retired slightly early, avoiding races with in-flight requests.
const DefaultExpiryMargin = 5 * time.Minute

// probeTimeout bounds the liveness check; a slow auth service must not
// stall resolution.
const probeTimeout = 5 * time.Second

// Option configures a Validator.
type Option func(*Validator)

// WithExpiryMargin overrides the safety margin applied to known expiries.
func WithExpiryMargin(margin time.Duration) Option {
	return func(v *Validator) {
		v.margin = margin
	}
}

// WithLivenessCheck enables or disables the network probe.
func WithLivenessCheck(enabled bool) Option {
	return func(v *Validator) {
		v.liveness = enabled
	}
}

// WithCheckURL overrides the auth-service endpoint used by the probe.
func WithCheckURL(checkURL string) Option {
	return func(v *Validator) {
		v.checkURL = checkURL
	}
}

// WithHTTPClient overrides the probe's HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Validator) {
		v.client.HTTPClient = client
	}
}

// Validator judges token freshness.
type Validator struct {
	margin   time.Duration
	liveness bool
	checkURL string
	client   *retryablehttp.Client
	now      func() time.Time
}

// New creates a Validator with the default margin and the liveness probe
// enabled.
func New(opts ...Option) *Validator {
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.HTTPClient.Timeout = probeTimeout
	client.RetryMax = 1
	client.Logger = nil

	v := &Validator{
		margin:   DefaultExpiryMargin,
		liveness: true,
		checkURL: crm.CheckTokenURL,
		client:   client,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Valid reports whether the token should still be accepted by the CRM.
func (v *Validator) Valid(ctx context.Context, token tokenstore.Token) bool {
	if !v.localVerdict(ctx, token) {
		return false
	}

	if !v.liveness {
		return true
	}

	switch v.probe(ctx, token) {
	case probeAlive:
		return true
	case probeDead:
		return false
	default:
		// Probe inconclusive; the local verdict already passed.
		return true
	}
}

// localVerdict checks structure and known expiry.
func (v *Validator) localVerdict(ctx context.Context, token tokenstore.Token) bool {
	if token.IsZero() {
		return false
	}
	if !token.ExpiresAt.IsZero() && !v.now().Add(v.margin).Before(token.ExpiresAt) {
		slog.DebugContext(ctx, "token past expiry margin",
			"token", token.Name, "expires_at", token.ExpiresAt, "margin", v.margin)
		return false
	}
	return true
}

type probeResult int

const (
	probeUnknown probeResult = iota
	probeAlive
	probeDead
)

// probe asks the auth service whether the token is still accepted.
func (v *Validator) probe(ctx context.Context, token tokenstore.Token) probeResult {
	reqURL := fmt.Sprintf("%s?Token=%s", v.checkURL, url.QueryEscape(token.Value))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, reqURL, []byte("{}"))
	if err != nil {
		return probeUnknown
	}
	for key, value := range crm.Headers(token.Value) {
		req.Header.Set(key, value)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		// Auth service unreachable: assume the token may still be valid
		// rather than forcing an unnecessary login.
		slog.WarnContext(ctx, "token liveness check failed", "token", token.Name, "error", err)
		return probeUnknown
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		slog.WarnContext(ctx, "token rejected by auth service",
			"token", token.Name, "status", resp.StatusCode)
		return probeDead
	}

	// The auth service reports the token's expiry in a response header. A
	// token it still accepts but that is about to expire is treated as dead
	// so callers refresh before it lapses mid-request.
	if raw := resp.Header.Get("tokenexpiry"); raw != "" {
		expiry, err := time.Parse(time.RFC3339, raw)
		if err == nil && !v.now().Add(v.margin).Before(expiry) {
			slog.WarnContext(ctx, "token accepted but inside expiry margin",
				"token", token.Name, "expires_at", expiry, "margin", v.margin)
			return probeDead
		}
		slog.DebugContext(ctx, "token accepted by auth service", "token", token.Name, "expires_at", raw)
	}
	return probeAlive
}
