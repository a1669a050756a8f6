package secrets

import (
	"bytes"
	"errors"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher("unit-test-secret", "unit-test-salt", MinIterations)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func TestNewCipherValidation(t *testing.T) {
	if _, err := NewCipher("", "salt", MinIterations); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewCipher("secret", "", MinIterations); err == nil {
		t.Fatal("expected error for empty salt")
	}
	if _, err := NewCipher("secret", "salt", MinIterations-1); err == nil {
		t.Fatal("expected error for weak iteration count")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	cases := [][]byte{
		[]byte("hello"),
		{},
		[]byte("JBSWY3DPEHPK3PXP"),
		{0x00, 0xff, 0x80, 0x7f, 0x01},
		bytes.Repeat([]byte{0xab}, 4096),
	}
	for _, plain := range cases {
		ct, iv, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		got, err := c.Decrypt(ct, iv)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("round trip mismatch: got %x want %x", got, plain)
		}
	}
}

func TestEncryptProducesFreshIV(t *testing.T) {
	c := newTestCipher(t)

	ct1, iv1, err := c.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct2, iv2, err := c.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if iv1 == iv2 {
		t.Fatal("IV reused across Encrypt calls")
	}
	if bytes.Equal(ct1, ct2) {
		t.Fatal("identical ciphertext for identical plaintext")
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	c := newTestCipher(t)

	ct, iv, err := c.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0x01
	if _, err := c.Decrypt(tampered, iv); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("tampered ciphertext: got %v, want ErrDecryptionFailed", err)
	}

	_, otherIV, err := c.Encrypt([]byte("other"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := c.Decrypt(ct, otherIV); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("wrong IV: got %v, want ErrDecryptionFailed", err)
	}

	if _, err := c.Decrypt(ct, "not base64!!"); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("malformed IV token: got %v, want ErrDecryptionFailed", err)
	}

	if _, err := c.Decrypt(ct[:4], iv); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("truncated ciphertext: got %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptWithDifferentKeyFails(t *testing.T) {
	c1 := newTestCipher(t)
	c2, err := NewCipher("another-secret", "unit-test-salt", MinIterations)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	ct, iv, err := c1.Encrypt([]byte("cross key"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := c2.Decrypt(ct, iv); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("foreign key decrypt: got %v, want ErrDecryptionFailed", err)
	}
}
