package session

import (
	"testing"
)

// FuzzSessionDecode exercises the binary session decoder with arbitrary inputs.
// Goal: no panics, no unexpected nil dereferences, graceful error handling.
func FuzzSessionDecode(f *testing.F) {
	sess := &Session{
		SessionID:   "sid-fuzz",
		AccountID:   "acct-1",
		Fingerprint: "fp-abc",
		TokenHash:   [32]byte{1, 2, 3},
		CreatedAt:   1700000000,
		ExpiresAt:   1700003600,
	}
	encoded, err := Encode(sess)
	if err == nil {
		f.Add(encoded)
	}

	// Empty and short inputs.
	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{1})
	f.Add([]byte{255, 255, 255})

	// Truncated at various offsets.
	if len(encoded) > 10 {
		f.Add(encoded[:10])
	}
	if len(encoded) > 30 {
		f.Add(encoded[:30])
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic. Errors are expected for malformed input.
		s, err := Decode(data)
		if err != nil {
			return
		}

		// If decode succeeded, re-encode should not panic either.
		_, _ = Encode(s)
	})
}
