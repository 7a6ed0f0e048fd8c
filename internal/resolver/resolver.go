// Package resolver walks an ordered chain of token providers and returns the
// first token that is both present and valid.
package resolver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

// TokenValidator judges whether a retrieved token is still usable.
type TokenValidator interface {
	Valid(ctx context.Context, token tokenstore.Token) bool
}

// Resolver queries providers from a registry in order, first-valid-wins.
type Resolver struct {
	registry  *tokenstore.Registry
	validator TokenValidator
}

// New creates a Resolver over the given registry and validator.
func New(registry *tokenstore.Registry, validator TokenValidator) *Resolver {
	return &Resolver{registry: registry, validator: validator}
}

// Resolve returns the first present and valid token for tokenName along the
// given provider order. A nil or empty order means the default order.
//
// Provider failures degrade gracefully: an unknown provider name is skipped,
// a storage failure is logged and the chain continues, and an invalid token
// is discarded in favor of later providers. Only full exhaustion is reported,
// as an error wrapping tokenstore.ErrTokenNotFound.
func (r *Resolver) Resolve(ctx context.Context, tokenName string, order []string) (tokenstore.Token, error) {
	if len(order) == 0 {
		order = tokenstore.DefaultOrder()
	}

	for _, name := range order {
		provider, err := r.registry.Get(name)
		if err != nil {
			// Lazy construction failed; the backend is unusable this round.
			slog.WarnContext(ctx, "token provider unavailable", "provider", name, "error", err)
			continue
		}
		if provider == nil {
			slog.DebugContext(ctx, "skipping unknown token provider", "provider", name)
			continue
		}

		token, err := provider.GetToken(ctx, tokenName)
		switch {
		case err == nil:
		case errors.Is(err, tokenstore.ErrTokenNotFound):
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return tokenstore.Token{}, err
		default:
			slog.WarnContext(ctx, "token provider failed, continuing chain",
				"provider", name, "error", err)
			continue
		}

		if r.validator != nil && !r.validator.Valid(ctx, token) {
			slog.WarnContext(ctx, "stored token is invalid, continuing chain",
				"provider", name, "token", tokenName)
			continue
		}

		slog.InfoContext(ctx, "resolved token", "provider", name, "token", tokenName)
		return token, nil
	}

	return tokenstore.Token{}, tokenstore.ErrTokenNotFound
}
