package authcore

import (
	"context"

	"github.com/halcyonlabs/authcore/password"
)

// BcryptVerifier adapts the password package to the CredentialVerifier
// interface. The zero value is ready to use.
type BcryptVerifier struct{}

// Compare reports whether the plaintext password matches the stored bcrypt
// hash. A mismatch is not an error.
func (BcryptVerifier) Compare(_ context.Context, plaintext, hash string) (bool, error) {
	return password.Compare(plaintext, hash)
}
