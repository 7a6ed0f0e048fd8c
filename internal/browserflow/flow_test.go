package browserflow

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/drivelane/reyrey-auth/internal/crm"
)

func cookie(name, value string, expires time.Time) *proto.NetworkCookie {
	c := &proto.NetworkCookie{Name: name, Value: value, Domain: crm.Domain}
	if !expires.IsZero() {
		c.Expires = proto.TimeSinceEpoch(expires.Unix())
	}
	return c
}

func TestTokenFromCookies(t *testing.T) {
	expiry := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)

	tests := []struct {
		name      string
		cookies   []*proto.NetworkCookie
		tokenName string
		wantName  string
		wantValue string
		wantErr   bool
	}{
		{
			name: "primary cookie present",
			cookies: []*proto.NetworkCookie{
				cookie("FOCUSINUSE", "fallback", time.Time{}),
				cookie("DRT", "primary", expiry),
			},
			tokenName: "DRT",
			wantName:  "DRT",
			wantValue: "primary",
		},
		{
			// The fallback cookie supplies the value, but the token stays
			// under the requested name so later cache lookups hit it.
			name: "falls back to session cookie",
			cookies: []*proto.NetworkCookie{
				cookie("FOCUSINUSE", "fallback", time.Time{}),
				cookie("other", "x", time.Time{}),
			},
			tokenName: "DRT",
			wantName:  "DRT",
			wantValue: "fallback",
		},
		{
			name: "empty cookie value ignored",
			cookies: []*proto.NetworkCookie{
				cookie("DRT", "", time.Time{}),
				cookie("FOCUSINUSE", "fallback", time.Time{}),
			},
			tokenName: "DRT",
			wantName:  "DRT",
			wantValue: "fallback",
		},
		{
			name: "no usable cookie",
			cookies: []*proto.NetworkCookie{
				cookie("unrelated", "x", time.Time{}),
			},
			tokenName: "DRT",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := tokenFromCookies(tt.cookies, tt.tokenName)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				if !strings.Contains(err.Error(), "unrelated") {
					t.Errorf("error should name the available cookies, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("tokenFromCookies: %v", err)
			}
			if token.Name != tt.wantName || token.Value != tt.wantValue {
				t.Errorf("token = %s/%s, want %s/%s", token.Name, token.Value, tt.wantName, tt.wantValue)
			}
			if token.Domain != crm.Domain {
				t.Errorf("domain = %q, want %q", token.Domain, crm.Domain)
			}
		})
	}
}

func TestTokenFromCookiesExpiry(t *testing.T) {
	expiry := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)

	token, err := tokenFromCookies([]*proto.NetworkCookie{cookie("DRT", "v", expiry)}, "DRT")
	if err != nil {
		t.Fatalf("tokenFromCookies: %v", err)
	}
	if !token.ExpiresAt.Equal(expiry) {
		t.Errorf("ExpiresAt = %v, want cookie expiry %v", token.ExpiresAt, expiry)
	}

	// Session cookies carry no expiry; the token must not invent one.
	token, err = tokenFromCookies([]*proto.NetworkCookie{cookie("DRT", "v", time.Time{})}, "DRT")
	if err != nil {
		t.Fatalf("tokenFromCookies: %v", err)
	}
	if !token.ExpiresAt.IsZero() {
		t.Errorf("session cookie produced ExpiresAt = %v, want zero", token.ExpiresAt)
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv(crm.EnvUsername, "dealer")
	t.Setenv(crm.EnvPassword, "hunter2")

	creds, err := CredentialsFromEnv()
	if err != nil {
		t.Fatalf("CredentialsFromEnv: %v", err)
	}
	if creds.Username != "dealer" || creds.Password != "hunter2" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestCredentialsFromEnvMissing(t *testing.T) {
	t.Setenv(crm.EnvUsername, "dealer")
	t.Setenv(crm.EnvPassword, "")

	if _, err := CredentialsFromEnv(); err == nil {
		t.Error("expected error when the password is unset")
	}
}

func TestLoginErrorStage(t *testing.T) {
	cause := errors.New("element not found")
	err := stageErr(StageFillCredentials, cause)

	if StageOf(err) != StageFillCredentials {
		t.Errorf("StageOf = %q, want %q", StageOf(err), StageFillCredentials)
	}
	if !errors.Is(err, cause) {
		t.Error("LoginError should unwrap to its cause")
	}

	wrapped := fmt.Errorf("obtaining token: %w", err)
	if StageOf(wrapped) != StageFillCredentials {
		t.Error("StageOf should see through wrapping")
	}

	if StageOf(errors.New("unrelated")) != "" {
		t.Error("StageOf on a non-flow error should be empty")
	}
}
