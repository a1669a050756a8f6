package session

// Session is one live device-bound session. Instances are written once at
// login and treated as immutable afterwards; displacement deletes the
// record rather than updating it.
type Session struct {
	SessionID   string
	AccountID   string
	Fingerprint string

	// TokenHash is the SHA-256 of the bearer token secret. The token
	// itself is never stored.
	TokenHash [32]byte

	CreatedAt int64
	ExpiresAt int64

	SchemaVersion uint8
}

// Evicted identifies a session displaced by a fingerprint claim or an
// explicit eviction, so the caller can notify its owner.
type Evicted struct {
	SessionID string
	AccountID string
}
