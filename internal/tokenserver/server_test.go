package tokenserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/drivelane/reyrey-auth/internal/auth"
	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

// memProvider is a minimal in-memory backend for exercising the server.
type memProvider struct {
	name   string
	mu     sync.Mutex
	tokens map[string]tokenstore.Token
}

func (m *memProvider) Name() string { return m.name }

func (m *memProvider) GetToken(_ context.Context, tokenName string) (tokenstore.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[tokenName]
	if !ok {
		return tokenstore.Token{}, fmt.Errorf("provider %s: %w", m.name, tokenstore.ErrTokenNotFound)
	}
	return token, nil
}

func (m *memProvider) SaveToken(_ context.Context, token tokenstore.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Name] = token
	return nil
}

func newTestServer(t *testing.T, seed map[string]tokenstore.Token) (*httptest.Server, *memProvider) {
	t.Helper()

	if seed == nil {
		seed = make(map[string]tokenstore.Token)
	}
	provider := &memProvider{name: "json_file", tokens: seed}

	registry := tokenstore.NewRegistry()
	registry.Register(provider)

	server, err := New(auth.NewManager(registry, nil, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts, provider
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()

	var body envelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestGetTokenFound(t *testing.T) {
	ts, _ := newTestServer(t, map[string]tokenstore.Token{
		"DRT": {Value: "abc123", Name: "DRT", Domain: "focus.dealer.reyrey.net"},
	})

	resp, err := http.Get(ts.URL + "/current_token?token_name=DRT")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeEnvelope(t, resp)
	if !body.Success || body.Token == nil || body.Token.Value != "abc123" {
		t.Errorf("body = %+v, want successful envelope with token", body)
	}
}

func TestGetTokenMissing(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/current_token?token_name=DRT")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404; a remote lookup must not trigger a login", resp.StatusCode)
	}

	body := decodeEnvelope(t, resp)
	if body.Success || body.Error == "" {
		t.Errorf("body = %+v, want failure envelope", body)
	}
}

func TestSaveTokenRoundTrip(t *testing.T) {
	ts, provider := newTestServer(t, nil)

	doc := `{"token":"abc123","cookie_name":"DRT","domain":"focus.dealer.reyrey.net"}`
	resp, err := http.Post(ts.URL+"/current_token", "application/json", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body := decodeEnvelope(t, resp); !body.Success {
		t.Errorf("body = %+v, want success", body)
	}

	stored, ok := provider.tokens["DRT"]
	if !ok || stored.Value != "abc123" {
		t.Errorf("stored = %+v, want posted token persisted", stored)
	}
}

func TestSaveTokenRejectsBadBody(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"token":`},
		{name: "empty token", body: `{"cookie_name":"DRT"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/current_token", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := newTestServer(t, map[string]tokenstore.Token{
		"DRT": {Value: "abc123", Name: "DRT"},
	})

	resp, err := http.Get(ts.URL + "/current_token?token_name=DRT")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("response missing X-Request-Id header")
	}
}
