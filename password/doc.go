// Package password implements password hashing and verification with bcrypt.
//
// # Output format
//
// Hashes are standard bcrypt strings ($2a$/$2b$ prefix) and stay compatible
// with hashes produced by other bcrypt implementations.
//
// The [Hasher] supports transparent cost upgrades: if the stored hash was
// produced with a lower cost, [Hasher.NeedsRehash] returns true so the caller
// can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy beyond the
// minimum length is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords at runtime.
package password
