package auth

import (
	"context"

	"golang.org/x/oauth2"
)

// tokenSource adapts the Manager to oauth2.TokenSource so resolved portal
// tokens can be injected into HTTP clients via oauth2.Transport.
type tokenSource struct {
	manager   *Manager
	tokenName string

	// oauth2.TokenSource.Token() has no context parameter (legacy interface
	// limitation), so the context is captured at construction time.
	ctx context.Context
}

// Compile-time check that tokenSource implements oauth2.TokenSource.
var _ oauth2.TokenSource = (*tokenSource)(nil)

// TokenSource returns an oauth2.TokenSource yielding the named portal token,
// running the login fallback when no provider holds a valid one. Results are
// cached by oauth2.ReuseTokenSource until expiry.
func (m *Manager) TokenSource(ctx context.Context, tokenName string) oauth2.TokenSource {
	if tokenName == "" {
		tokenName = m.defaultTokenName
	}
	return oauth2.ReuseTokenSource(nil, &tokenSource{
		manager:   m,
		tokenName: tokenName,
		ctx:       ctx,
	})
}

// Token resolves the portal token and shapes it as an oauth2.Token. The CRM
// expects the credential in a bare Token header rather than a standard
// Authorization scheme, so TokenType carries the vendor's header name.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.manager.Token(ts.ctx, TokenOptions{
		TokenName:      ts.tokenName,
		LoginIfMissing: true,
	})
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken: token.Value,
		TokenType:   "Token",
		Expiry:      token.ExpiresAt,
	}, nil
}
