package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTokenServiceStub serves the token service wire format backed by a map.
func newTokenServiceStub(t *testing.T, tokens map[string]Token) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /current_token", func(w http.ResponseWriter, r *http.Request) {
		token, ok := tokens[r.URL.Query().Get("token_name")]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(tokenEnvelope{Success: false, Error: "no token"})
			return
		}
		_ = json.NewEncoder(w).Encode(tokenEnvelope{Success: true, Token: &token})
	})
	mux.HandleFunc("POST /current_token", func(w http.ResponseWriter, r *http.Request) {
		var token Token
		if err := json.NewDecoder(r.Body).Decode(&token); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		tokens[token.Name] = token
		_ = json.NewEncoder(w).Encode(tokenEnvelope{Success: true, Token: &token})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestAPIProviderRoundTrip(t *testing.T) {
	server := newTokenServiceStub(t, map[string]Token{})

	provider, err := NewAPIProvider(server.URL)
	if err != nil {
		t.Fatalf("NewAPIProvider: %v", err)
	}

	ctx := context.Background()
	token := Token{Value: "abc123", Name: "DRT", Domain: "focus.dealer.reyrey.net"}

	if err := provider.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	got, err := provider.GetToken(ctx, "DRT")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.Value != token.Value {
		t.Errorf("round trip value = %q, want %q", got.Value, token.Value)
	}
}

func TestAPIProviderNotFound(t *testing.T) {
	server := newTokenServiceStub(t, map[string]Token{})

	provider, err := NewAPIProvider(server.URL)
	if err != nil {
		t.Fatalf("NewAPIProvider: %v", err)
	}

	_, err = provider.GetToken(context.Background(), "DRT")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestAPIProviderServiceUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // nothing is listening anymore

	provider, err := NewAPIProvider(server.URL)
	if err != nil {
		t.Fatalf("NewAPIProvider: %v", err)
	}

	_, err = provider.GetToken(context.Background(), "DRT")
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Errorf("expected StorageError for unreachable service, got %v", err)
	}
}

func TestAPIProviderServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	provider, err := NewAPIProvider(server.URL)
	if err != nil {
		t.Fatalf("NewAPIProvider: %v", err)
	}

	_, err = provider.GetToken(context.Background(), "DRT")
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Errorf("expected StorageError for 5xx, got %v", err)
	}
}
