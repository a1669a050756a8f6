// Package rate provides internal primitives used to build Redis-backed rate limit keys,
// errors, and limiter behavior for security-sensitive authentication workflows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - al:  — login per-identifier
//   - ali: — login per-IP
//   - av:  — two-factor verification per-account
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in the engine).
//   - Be imported outside the authcore module.
package rate
