// Package authcore provides a device-bound session and two-factor
// authentication engine: opaque bearer tokens, Redis-backed sessions with
// single-session-per-device enforcement, TOTP + backup code verification,
// and trusted-device tracking.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (LoginResult, AccountRecord, MetricsSnapshot, etc.).
// Session persistence lives in the session package, secret encryption in
// the secrets package, kick delivery in the notify package; rate limit
// primitives live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Import any sub-package that re-imports authcore (no import cycles).
//
// # Session model
//
// Exactly one live session may hold a device fingerprint at a time, across
// all accounts. Logging in on a device displaces whoever held it, and the
// displaced account is told why through the notification bus. Non-mobile
// logins additionally collapse the account to a single session; mobile
// logins on distinct devices coexist.
package authcore
