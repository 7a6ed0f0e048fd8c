package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// JsonFileProvider stores a single token as a JSON document on the local
// filesystem. The document carries the full token metadata, so expiry
// information survives a round trip.
type JsonFileProvider struct {
	path string
}

// Compile-time check that JsonFileProvider implements TokenProvider.
var _ TokenProvider = (*JsonFileProvider)(nil)

// NewJsonFileProvider creates a provider backed by the JSON document at path.
func NewJsonFileProvider(path string) (*JsonFileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("json file path cannot be empty")
	}
	return &JsonFileProvider{path: path}, nil
}

func (p *JsonFileProvider) Name() string {
	return ProviderJSONFile
}

// GetToken returns the stored token when the document's slot matches
// tokenName. A missing file is not-found; malformed JSON is a storage
// failure.
func (p *JsonFileProvider) GetToken(ctx context.Context, tokenName string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Token{}, notFound(p.Name(), tokenName)
		}
		return Token{}, &StorageError{Provider: p.Name(), Err: err}
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return Token{}, &StorageError{Provider: p.Name(), Err: fmt.Errorf("malformed token document %s: %w", p.path, err)}
	}

	if token.Name != tokenName || token.IsZero() {
		return Token{}, notFound(p.Name(), tokenName)
	}

	slog.DebugContext(ctx, "token found in json file", "path", p.path)
	return token, nil
}

// SaveToken writes the token document atomically with 0600 permissions,
// replacing whatever was stored before.
func (p *JsonFileProvider) SaveToken(ctx context.Context, token Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	token.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return &StorageError{Provider: p.Name(), Err: err}
	}

	if err := writeFileAtomic(p.path, append(data, '\n')); err != nil {
		return &StorageError{Provider: p.Name(), Err: err}
	}

	slog.InfoContext(ctx, "saved token to json file", "path", p.path)
	return nil
}
