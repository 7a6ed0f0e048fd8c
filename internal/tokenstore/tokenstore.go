package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Token is an opaque credential for the CRM portal together with the
// metadata needed to scope and age it.
type Token struct {
	// Value is the credential itself, usually a session cookie value.
	Value string `json:"token"`

	// Name is the logical slot the token lives under (the cookie name).
	Name string `json:"cookie_name"`

	// Domain is the cookie domain the token is valid for.
	Domain string `json:"domain"`

	// UpdatedAt records when the token was last persisted.
	UpdatedAt time.Time `json:"updated_at,omitzero"`

	// ExpiresAt is the known expiry time. The zero value means the expiry
	// is unknown and only liveness checks can age the token out.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// IsZero reports whether the token carries no credential.
func (t Token) IsZero() bool {
	return t.Value == ""
}

// ErrTokenNotFound signals that a provider holds no token for the requested
// slot. It is an expected outcome, not a storage failure; resolution
// continues with the next provider in the chain.
var ErrTokenNotFound = errors.New("token not found")

// StorageError reports that a provider's backing medium was unreachable or
// corrupt. The resolver logs it and continues the chain.
type StorageError struct {
	Provider string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("provider %s: storage failure: %v", e.Provider, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// TokenProvider reads and writes tokens against one storage medium.
//
// GetToken returns an error wrapping ErrTokenNotFound when the slot is
// empty, and a *StorageError when the medium itself failed; callers use
// errors.Is/errors.As to tell the two apart.
type TokenProvider interface {
	// Name returns the stable identifier used for ordering and selection.
	Name() string

	// GetToken looks up the token stored under tokenName.
	GetToken(ctx context.Context, tokenName string) (Token, error)

	// SaveToken persists the token, overwriting any existing value for the
	// same (Name, Domain) pair. Saving the same token twice is a no-op.
	SaveToken(ctx context.Context, token Token) error
}

// notFound wraps ErrTokenNotFound with the provider that reported it.
func notFound(provider, tokenName string) error {
	return fmt.Errorf("provider %s: token %q: %w", provider, tokenName, ErrTokenNotFound)
}
