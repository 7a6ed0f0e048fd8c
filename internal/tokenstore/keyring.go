package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// keyringService identifies this module's entries in the OS credential store.
const keyringService = "reyrey-auth"

// KeyringProvider stores tokens in OS-native credential storage (macOS
// Keychain, Windows Credential Manager, Linux Secret Service). Entries are
// keyed by "<tokenName>@<domain>", so only the token value itself survives a
// round trip. Not part of the default provider order; opt in by listing it.
type KeyringProvider struct {
	domain string
}

// Compile-time check that KeyringProvider implements TokenProvider.
var _ TokenProvider = (*KeyringProvider)(nil)

// NewKeyringProvider creates a provider scoping its entries to domain.
func NewKeyringProvider(domain string) (*KeyringProvider, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}
	return &KeyringProvider{domain: domain}, nil
}

func (p *KeyringProvider) Name() string {
	return ProviderKeyring
}

func (p *KeyringProvider) user(tokenName string) string {
	return tokenName + "@" + p.domain
}

// GetToken returns the token from the system keyring.
func (p *KeyringProvider) GetToken(ctx context.Context, tokenName string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	value, err := keyring.Get(keyringService, p.user(tokenName))
	if errors.Is(err, keyring.ErrNotFound) {
		return Token{}, notFound(p.Name(), tokenName)
	}
	if err != nil {
		return Token{}, &StorageError{Provider: p.Name(), Err: err}
	}
	if value == "" {
		return Token{}, notFound(p.Name(), tokenName)
	}

	slog.DebugContext(ctx, "token found in keyring", "token", tokenName)
	return Token{Value: value, Name: tokenName, Domain: p.domain}, nil
}

// SaveToken persists the token value to the system keyring, overwriting any
// existing entry.
func (p *KeyringProvider) SaveToken(ctx context.Context, token Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Set(keyringService, p.user(token.Name), token.Value); err != nil {
		return &StorageError{Provider: p.Name(), Err: err}
	}

	slog.InfoContext(ctx, "saved token to keyring", "token", token.Name)
	return nil
}
