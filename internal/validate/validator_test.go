package validate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

func TestLocalVerdict(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token tokenstore.Token
		want  bool
	}{
		{
			name:  "empty token",
			token: tokenstore.Token{Name: "DRT"},
			want:  false,
		},
		{
			name:  "no expiry metadata",
			token: tokenstore.Token{Value: "abc", Name: "DRT"},
			want:  true,
		},
		{
			name:  "well before expiry",
			token: tokenstore.Token{Value: "abc", ExpiresAt: now.Add(time.Hour)},
			want:  true,
		},
		{
			name:  "already expired",
			token: tokenstore.Token{Value: "abc", ExpiresAt: now.Add(-time.Minute)},
			want:  false,
		},
		{
			// Structurally fine, but inside the safety margin.
			name:  "within expiry margin",
			token: tokenstore.Token{Value: "abc", ExpiresAt: now.Add(DefaultExpiryMargin - time.Second)},
			want:  false,
		},
		{
			name:  "just outside expiry margin",
			token: tokenstore.Token{Value: "abc", ExpiresAt: now.Add(DefaultExpiryMargin + time.Second)},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(WithLivenessCheck(false))
			v.now = func() time.Time { return now }

			if got := v.Valid(context.Background(), tt.token); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLivenessProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "accepted", status: http.StatusOK, want: true},
		{name: "rejected", status: http.StatusUnauthorized, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("probe method = %s, want POST", r.Method)
				}
				if r.Header.Get("Token") == "" {
					t.Error("probe missing Token header")
				}
				w.Header().Set("tokenexpiry", time.Now().Add(24*time.Hour).Format(time.RFC3339))
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(server.Close)

			v := New(WithCheckURL(server.URL))
			token := tokenstore.Token{Value: "abc", Name: "DRT"}

			if got := v.Valid(context.Background(), token); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLivenessProbeReportedExpiryInsideMargin(t *testing.T) {
	// The auth service accepts the token but reports an expiry inside the
	// safety margin; the verdict must be invalid so callers refresh early.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("tokenexpiry", time.Now().Add(time.Minute).Format(time.RFC3339))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	v := New(WithCheckURL(server.URL))
	if v.Valid(context.Background(), tokenstore.Token{Value: "abc", Name: "DRT"}) {
		t.Error("token expiring inside the margin should be invalid")
	}
}

func TestLivenessProbeUnreachableFallsBack(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // nothing is listening anymore

	v := New(WithCheckURL(server.URL))

	// Locally fine token: the inconclusive probe must not fail it.
	token := tokenstore.Token{Value: "abc", Name: "DRT", ExpiresAt: time.Now().Add(time.Hour)}
	if !v.Valid(context.Background(), token) {
		t.Error("unreachable auth service should fall back to the local verdict")
	}

	// Locally expired token stays invalid regardless of probe state.
	expired := tokenstore.Token{Value: "abc", Name: "DRT", ExpiresAt: time.Now().Add(-time.Hour)}
	if v.Valid(context.Background(), expired) {
		t.Error("expired token must stay invalid even when the probe is inconclusive")
	}
}

func TestLivenessDisabledSkipsNetwork(t *testing.T) {
	probed := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probed = true
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	v := New(WithCheckURL(server.URL), WithLivenessCheck(false))
	if !v.Valid(context.Background(), tokenstore.Token{Value: "abc"}) {
		t.Error("structurally valid token should pass with liveness disabled")
	}
	if probed {
		t.Error("liveness probe ran despite being disabled")
	}
}

func TestWithExpiryMargin(t *testing.T) {
	now := time.Now()
	v := New(WithLivenessCheck(false), WithExpiryMargin(time.Hour))

	token := tokenstore.Token{Value: "abc", ExpiresAt: now.Add(30 * time.Minute)}
	if v.Valid(context.Background(), token) {
		t.Error("token inside a widened margin should be invalid")
	}
}
