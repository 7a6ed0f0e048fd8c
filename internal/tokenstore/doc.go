// Package tokenstore provides pluggable persistence backends for CRM
// authentication tokens.
//
// A TokenProvider reads and writes tokens against one storage medium. Five
// backends ship with the package, each with different deployment tradeoffs:
//   - EnvFile: key-value pairs in a local .env-style file
//   - JsonFile: a single JSON document on the local filesystem
//   - Database: an embedded SQLite database, one row per (name, domain)
//   - API: a remote token service reached over HTTP
//   - Keyring: OS-native credential storage (macOS Keychain, Windows
//     Credential Manager, Linux Secret Service)
//
// Providers are collected in a Registry and consulted in order by the
// resolver; callers may register their own TokenProvider implementations
// alongside the built-ins.
package tokenstore
