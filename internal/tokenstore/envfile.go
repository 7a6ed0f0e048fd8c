package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/subosito/gotenv"
)

// envKeyPrefix is prepended to the upper-cased token name to form the
// variable name, e.g. token "DRT" lives under REYREY_TOKEN_DRT.
const envKeyPrefix = "REYREY_TOKEN_"

// EnvFileProvider stores tokens as key-value pairs in a .env-style file.
// Lookups also consult the process environment, so tokens injected by the
// deployment environment win over the file. Only the token value survives a
// round trip; expiry metadata is not representable in this medium.
type EnvFileProvider struct {
	path string
}

// Compile-time check that EnvFileProvider implements TokenProvider.
var _ TokenProvider = (*EnvFileProvider)(nil)

// NewEnvFileProvider creates a provider backed by the .env file at path.
func NewEnvFileProvider(path string) (*EnvFileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("env file path cannot be empty")
	}
	return &EnvFileProvider{path: path}, nil
}

func (p *EnvFileProvider) Name() string {
	return ProviderEnvFile
}

// envKey maps a token name to its environment variable name.
func envKey(tokenName string) string {
	return envKeyPrefix + strings.ToUpper(tokenName)
}

// GetToken returns the token from the process environment or the .env file.
func (p *EnvFileProvider) GetToken(ctx context.Context, tokenName string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	key := envKey(tokenName)
	if value := os.Getenv(key); value != "" {
		slog.DebugContext(ctx, "token found in process environment", "key", key)
		return Token{Value: value, Name: tokenName}, nil
	}

	env, err := gotenv.Read(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Token{}, notFound(p.Name(), tokenName)
		}
		return Token{}, &StorageError{Provider: p.Name(), Err: err}
	}

	value := env[key]
	if value == "" {
		return Token{}, notFound(p.Name(), tokenName)
	}

	slog.DebugContext(ctx, "token found in env file", "path", p.path, "key", key)
	return Token{Value: value, Name: tokenName}, nil
}

// SaveToken writes the token into the .env file, preserving unrelated keys.
// The write is atomic (temp file + rename) with 0600 permissions.
func (p *EnvFileProvider) SaveToken(ctx context.Context, token Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env, err := gotenv.Read(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return &StorageError{Provider: p.Name(), Err: err}
		}
		env = gotenv.Env{}
	}
	env[envKey(token.Name)] = token.Value

	content, err := gotenv.Marshal(env)
	if err != nil {
		return &StorageError{Provider: p.Name(), Err: err}
	}

	if err := writeFileAtomic(p.path, []byte(content+"\n")); err != nil {
		return &StorageError{Provider: p.Name(), Err: err}
	}

	slog.InfoContext(ctx, "saved token to env file", "path", p.path, "key", envKey(token.Name))
	return nil
}

// writeFileAtomic writes data via a temp file in the destination directory
// followed by a rename, then tightens permissions to 0600.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}
