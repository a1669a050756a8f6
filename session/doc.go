// Package session provides Redis-backed session persistence and compact binary session
// encoding for authentication hot paths.
//
// # Binary encoding
//
// Sessions are stored in Redis as a compact binary format with a leading schema
// version byte. The encoder is append-only: new versions add fields but never
// reinterpret old ones.
//
// # Fingerprint uniqueness
//
// The registry maintains a per-fingerprint index alongside each session record.
// Creating a session claims its device fingerprint inside a single Lua script,
// which atomically evicts whichever session previously held that fingerprint.
// At any moment at most one live session exists per fingerprint, across all
// accounts.
//
// # Architecture boundaries
//
// This package owns the [Registry] (Redis operations) and the [Session] model.
// It does NOT mint or verify bearer tokens, run two-factor checks, or enforce
// login policy — those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore (no upward imports).
//   - Decide which sessions a login is allowed to displace.
//   - Store plaintext secrets in [Session] fields.
package session
