package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnvFileProviderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	provider, err := NewEnvFileProvider(path)
	if err != nil {
		t.Fatalf("NewEnvFileProvider: %v", err)
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

func TestEnvFileProviderPreservesUnrelatedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OTHER_SETTING=keepme\n"), 0600); err != nil {
		t.Fatal(err)
	}

	provider, err := NewEnvFileProvider(path)
	if err != nil {
		t.Fatalf("NewEnvFileProvider: %v", err)
	}

	if err := provider.SaveToken(context.Background(), Token{Value: "tok", Name: "DRT"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "OTHER_SETTING") {
		t.Errorf("unrelated key dropped, file content:\n%s", content)
	}
	if !strings.Contains(content, "REYREY_TOKEN_DRT") {
		t.Errorf("token key missing, file content:\n%s", content)
	}
}

func TestEnvFileProviderNotFound(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, path string)
	}{
		{
			name:  "file missing",
			setup: func(*testing.T, string) {},
		},
		{
			name: "file without token key",
			setup: func(t *testing.T, path string) {
				if err := os.WriteFile(path, []byte("UNRELATED=1\n"), 0600); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ".env")
			tt.setup(t, path)

			provider, err := NewEnvFileProvider(path)
			if err != nil {
				t.Fatalf("NewEnvFileProvider: %v", err)
			}

			_, err = provider.GetToken(context.Background(), "DRT")
			if !errors.Is(err, ErrTokenNotFound) {
				t.Errorf("expected ErrTokenNotFound, got %v", err)
			}
		})
	}
}

func TestEnvFileProviderProcessEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	provider, err := NewEnvFileProvider(path)
	if err != nil {
		t.Fatalf("NewEnvFileProvider: %v", err)
	}

	ctx := context.Background()
	if err := provider.SaveToken(ctx, Token{Value: "from-file", Name: "DRT"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	t.Setenv("REYREY_TOKEN_DRT", "from-env")

	got, err := provider.GetToken(ctx, "DRT")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.Value != "from-env" {
		t.Errorf("value = %q, want process environment to win", got.Value)
	}
}

func TestNewEnvFileProviderEmptyPath(t *testing.T) {
	if _, err := NewEnvFileProvider(""); err == nil {
		t.Error("expected error for empty path")
	}
}
