// Package auth composes token resolution, validation, persistence and the
// browser login fallback behind one facade, the Manager.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/drivelane/reyrey-auth/internal/browserflow"
	"github.com/drivelane/reyrey-auth/internal/crm"
	"github.com/drivelane/reyrey-auth/internal/resolver"
	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

// WriteBackPolicy selects which providers receive a freshly obtained token.
type WriteBackPolicy string

const (
	// WriteBackAll persists through every provider in the order.
	WriteBackAll WriteBackPolicy = "all"
	// WriteBackFirst stops after the first provider that persists
	// successfully.
	WriteBackFirst WriteBackPolicy = "first"
)

// AuthError reports that no usable token could be produced: every provider
// was exhausted and either the login fallback was not permitted or it failed.
type AuthError struct {
	TokenName string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for token %q: %v", e.TokenName, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// LoginFlow is the browser fallback consumed by the Manager. Implemented by
// *browserflow.Flow; narrowed to an interface so tests can stub it.
type LoginFlow interface {
	Login(ctx context.Context, creds browserflow.Credentials, tokenName string) (tokenstore.Token, error)
	Resume(ctx context.Context, token tokenstore.Token) (*browserflow.Session, error)
	LoginSession(ctx context.Context, creds browserflow.Credentials, tokenName string) (*browserflow.Session, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithWriteBackPolicy sets which providers receive freshly obtained tokens.
func WithWriteBackPolicy(policy WriteBackPolicy) Option {
	return func(m *Manager) {
		m.writeBack = policy
	}
}

// WithLoginDedup controls whether concurrent login fallbacks for the same
// token name are collapsed into one browser flow. Defaults to true.
func WithLoginDedup(enabled bool) Option {
	return func(m *Manager) {
		m.dedup = enabled
	}
}

// WithDefaultTokenName overrides the token slot used when a call does not
// name one.
func WithDefaultTokenName(name string) Option {
	return func(m *Manager) {
		m.defaultTokenName = name
	}
}

// WithCredentials supplies portal credentials up front instead of reading
// them from the environment at login time.
func WithCredentials(creds browserflow.Credentials) Option {
	return func(m *Manager) {
		m.creds = &creds
	}
}

// Manager is the module's boundary API: it resolves tokens through the
// provider chain and falls back to the browser login flow when permitted.
type Manager struct {
	registry *tokenstore.Registry
	resolver *resolver.Resolver
	flow     LoginFlow

	writeBack        WriteBackPolicy
	dedup            bool
	defaultTokenName string
	creds            *browserflow.Credentials

	loginGroup singleflight.Group
}

// NewManager creates a Manager over the given registry, validator and login
// flow.
func NewManager(registry *tokenstore.Registry, validator resolver.TokenValidator, flow LoginFlow, opts ...Option) *Manager {
	m := &Manager{
		registry:         registry,
		resolver:         resolver.New(registry, validator),
		flow:             flow,
		writeBack:        WriteBackAll,
		dedup:            true,
		defaultTokenName: crm.DefaultTokenName,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterProvider inserts a provider into the registry, overwriting any
// existing entry with the same name.
func (m *Manager) RegisterProvider(p tokenstore.TokenProvider) {
	m.registry.Register(p)
}

// TokenOptions control a single token acquisition.
type TokenOptions struct {
	// TokenName selects the logical slot; empty means the default.
	TokenName string

	// Providers restricts and orders the chain; nil means the default order.
	Providers []string

	// LoginIfMissing permits the browser login fallback on exhaustion.
	LoginIfMissing bool
}

// Token resolves a valid token through the provider chain. On exhaustion it
// either runs the browser login fallback (when permitted) or fails with an
// *AuthError; the login flow is never invoked otherwise.
func (m *Manager) Token(ctx context.Context, opts TokenOptions) (tokenstore.Token, error) {
	tokenName := opts.TokenName
	if tokenName == "" {
		tokenName = m.defaultTokenName
	}

	token, err := m.resolver.Resolve(ctx, tokenName, opts.Providers)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, tokenstore.ErrTokenNotFound) {
		return tokenstore.Token{}, err
	}

	if !opts.LoginIfMissing {
		return tokenstore.Token{}, &AuthError{TokenName: tokenName, Err: errors.New("no valid token from any provider and login fallback disabled")}
	}

	slog.InfoContext(ctx, "no valid cached token, falling back to browser login", "token", tokenName)
	token, err = m.login(ctx, tokenName)
	if err != nil {
		return tokenstore.Token{}, &AuthError{TokenName: tokenName, Err: err}
	}

	m.writeThrough(ctx, token, opts.Providers)
	return token, nil
}

// login runs the browser flow, collapsing concurrent calls for the same
// token name when dedup is enabled.
func (m *Manager) login(ctx context.Context, tokenName string) (tokenstore.Token, error) {
	if !m.dedup {
		return m.runLogin(ctx, tokenName)
	}

	// Followers share the winner's result. The winner's context drives the
	// browser; a follower whose own context expires stops waiting and
	// returns, leaving the shared login to finish for the others.
	ch := m.loginGroup.DoChan(tokenName, func() (any, error) {
		return m.runLogin(ctx, tokenName)
	})

	select {
	case result := <-ch:
		if result.Err != nil {
			return tokenstore.Token{}, result.Err
		}
		if result.Shared {
			slog.DebugContext(ctx, "reused concurrent login result", "token", tokenName)
		}
		return result.Val.(tokenstore.Token), nil
	case <-ctx.Done():
		return tokenstore.Token{}, ctx.Err()
	}
}

func (m *Manager) runLogin(ctx context.Context, tokenName string) (tokenstore.Token, error) {
	creds, err := m.credentials()
	if err != nil {
		return tokenstore.Token{}, err
	}
	return m.flow.Login(ctx, creds, tokenName)
}

func (m *Manager) credentials() (browserflow.Credentials, error) {
	if m.creds != nil {
		return *m.creds, nil
	}
	return browserflow.CredentialsFromEnv()
}

// writeThrough persists a freshly obtained token per the write-back policy.
// Persistence failures are logged, never fatal: the caller already holds a
// usable token.
func (m *Manager) writeThrough(ctx context.Context, token tokenstore.Token, order []string) {
	if err := m.SaveToken(ctx, token, order...); err != nil {
		slog.ErrorContext(ctx, "failed to persist fresh token", "token", token.Name, "error", err)
	}
}

// SaveToken persists the token through the providers named in order (default
// order when empty), honoring the write-back policy. It succeeds when at
// least one provider stored the token.
func (m *Manager) SaveToken(ctx context.Context, token tokenstore.Token, order ...string) error {
	if token.Name == "" {
		token.Name = m.defaultTokenName
	}
	if token.Domain == "" {
		token.Domain = crm.Domain
	}
	if len(order) == 0 {
		order = tokenstore.DefaultOrder()
	}

	var (
		saved bool
		errs  []error
	)
	for _, name := range order {
		provider, err := m.registry.Get(name)
		if err != nil || provider == nil {
			continue
		}
		if err := provider.SaveToken(ctx, token); err != nil {
			slog.WarnContext(ctx, "provider failed to save token", "provider", name, "error", err)
			errs = append(errs, err)
			continue
		}
		saved = true
		if m.writeBack == WriteBackFirst {
			break
		}
	}

	if !saved {
		if len(errs) > 0 {
			return fmt.Errorf("no provider saved token %q: %w", token.Name, errors.Join(errs...))
		}
		return fmt.Errorf("no provider available to save token %q", token.Name)
	}
	return nil
}

// AuthHeaders returns the header set for authenticated CRM API requests,
// acquiring a token (with login fallback) as needed.
func (m *Manager) AuthHeaders(ctx context.Context) (map[string]string, error) {
	token, err := m.Token(ctx, TokenOptions{LoginIfMissing: true})
	if err != nil {
		return nil, err
	}
	return crm.Headers(token.Value), nil
}

// AuthenticatedSession returns a live browser session authenticated against
// the portal, reusing a cached token when the portal accepts it and logging
// in from scratch otherwise. The caller owns the session's teardown.
func (m *Manager) AuthenticatedSession(ctx context.Context, tokenName string) (*browserflow.Session, error) {
	if tokenName == "" {
		tokenName = m.defaultTokenName
	}

	token, err := m.resolver.Resolve(ctx, tokenName, nil)
	if err == nil {
		session, err := m.flow.Resume(ctx, token)
		if err == nil {
			return session, nil
		}
		slog.WarnContext(ctx, "cached token rejected by portal, logging in", "token", tokenName, "error", err)
	} else if !errors.Is(err, tokenstore.ErrTokenNotFound) {
		return nil, err
	}

	creds, err := m.credentials()
	if err != nil {
		return nil, &AuthError{TokenName: tokenName, Err: err}
	}
	session, err := m.flow.LoginSession(ctx, creds, tokenName)
	if err != nil {
		return nil, &AuthError{TokenName: tokenName, Err: err}
	}

	m.writeThrough(ctx, session.Token, nil)
	return session, nil
}
