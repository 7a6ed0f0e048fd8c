package tokenstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DatabaseProvider stores tokens in an embedded SQLite database, one row per
// (token_name, domain) pair. The schema is managed by embedded goose
// migrations applied on open.
type DatabaseProvider struct {
	db *sql.DB
}

// Compile-time check that DatabaseProvider implements TokenProvider.
var _ TokenProvider = (*DatabaseProvider)(nil)

// NewDatabaseProvider opens (creating if necessary) the SQLite database at
// dbPath and applies pending migrations.
func NewDatabaseProvider(ctx context.Context, dbPath string) (*DatabaseProvider, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite handles a single writer; more connections just contend.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.DebugContext(ctx, "token database ready", "path", dbPath)
	return &DatabaseProvider{db: db}, nil
}

// runMigrations applies all pending schema migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (p *DatabaseProvider) Close() error {
	return p.db.Close()
}

func (p *DatabaseProvider) Name() string {
	return ProviderDatabase
}

// GetToken returns the most recently updated token stored under tokenName,
// regardless of domain.
func (p *DatabaseProvider) GetToken(ctx context.Context, tokenName string) (Token, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT token_value, domain, expires_at, updated_at
		FROM token_storage
		WHERE token_name = ?
		ORDER BY updated_at DESC
		LIMIT 1`,
		tokenName,
	)

	var (
		token     Token
		expiresAt sql.NullTime
	)
	err := row.Scan(&token.Value, &token.Domain, &expiresAt, &token.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, notFound(p.Name(), tokenName)
	}
	if err != nil {
		return Token{}, &StorageError{Provider: p.Name(), Err: err}
	}

	token.Name = tokenName
	if expiresAt.Valid {
		token.ExpiresAt = expiresAt.Time
	}

	slog.DebugContext(ctx, "token found in database", "token", tokenName)
	return token, nil
}

// SaveToken upserts the token row for its (token_name, domain) pair.
func (p *DatabaseProvider) SaveToken(ctx context.Context, token Token) error {
	var expiresAt any
	if !token.ExpiresAt.IsZero() {
		expiresAt = token.ExpiresAt.UTC()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO token_storage (token_name, token_value, domain, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (token_name, domain) DO UPDATE SET
			token_value = excluded.token_value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		token.Name, token.Value, token.Domain, expiresAt, time.Now().UTC(),
	)
	if err != nil {
		return &StorageError{Provider: p.Name(), Err: err}
	}

	slog.InfoContext(ctx, "saved token to database", "token", token.Name, "domain", token.Domain)
	return nil
}
