// Package secrets provides the symmetric cipher used to protect
// per-account secret material (TOTP seeds, backup code sets) before it
// is handed to the account provider for storage.
//
// A Cipher is constructed once at process start from an operator-supplied
// secret and salt. Every Encrypt call uses a fresh random IV, returned to
// the caller as an opaque token that must be stored alongside the
// ciphertext and presented back on Decrypt.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLen = 32 // AES-256

	// MinIterations is the lowest PBKDF2 iteration count NewCipher accepts.
	MinIterations = 100_000
)

// ErrDecryptionFailed is returned whenever ciphertext cannot be opened:
// wrong IV token, truncated input, or authentication tag mismatch. The
// error carries no detail about which check failed.
var ErrDecryptionFailed = errors.New("secrets: decryption failed")

// Cipher encrypts and decrypts byte strings with AES-256-GCM under a key
// derived once at construction. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256 key from secret and salt using PBKDF2 with
// SHA-256 and the given iteration count, and returns a ready Cipher.
// Derivation happens here, never per call.
func NewCipher(secret, salt string, iterations int) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("secrets: empty secret")
	}
	if salt == "" {
		return nil, errors.New("secrets: empty salt")
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("secrets: iteration count %d below minimum %d", iterations, MinIterations)
	}

	key := pbkdf2.Key([]byte(secret), []byte(salt), iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm init: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a freshly generated IV and returns the
// ciphertext together with the IV token required to decrypt it. Equal
// plaintexts produce unrelated outputs across calls.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext []byte, ivToken string, err error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, "", fmt.Errorf("secrets: iv generation: %w", err)
	}
	ciphertext = c.aead.Seal(nil, iv, plaintext, nil)
	return ciphertext, base64.RawStdEncoding.EncodeToString(iv), nil
}

// Decrypt opens ciphertext using the IV token minted by Encrypt. Any
// mismatch between key, IV, and ciphertext yields ErrDecryptionFailed.
func (c *Cipher) Decrypt(ciphertext []byte, ivToken string) ([]byte, error) {
	iv, err := base64.RawStdEncoding.DecodeString(ivToken)
	if err != nil || len(iv) != c.aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
