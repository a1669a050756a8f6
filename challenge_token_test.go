package authcore

import (
	"errors"
	"testing"
	"time"
)

func testSigner(now *time.Time) *challengeSigner {
	cfg := ChallengeConfig{
		TTL:           3 * time.Minute,
		MaxAttempts:   5,
		RefSigningKey: []byte("0123456789abcdef0123456789abcdef"),
	}
	return newChallengeSigner(cfg, func() time.Time { return *now })
}

func TestChallengeRefRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := testSigner(&now)

	id, ref, err := s.Mint("acct-1", "device-fp")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if id == "" || ref == "" {
		t.Fatal("empty mint result")
	}

	gotID, gotAcct, err := s.Parse(ref, "device-fp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if gotID != id || gotAcct != "acct-1" {
		t.Fatalf("parsed (%q, %q), want (%q, %q)", gotID, gotAcct, id, "acct-1")
	}
}

func TestChallengeRefFingerprintMismatch(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := testSigner(&now)

	_, ref, err := s.Mint("acct-1", "device-fp")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, _, err := s.Parse(ref, "other-device"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("err = %v, want ErrChallengeInvalid", err)
	}
}

func TestChallengeRefExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := testSigner(&now)

	_, ref, err := s.Mint("acct-1", "device-fp")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	now = now.Add(4 * time.Minute)
	if _, _, err := s.Parse(ref, "device-fp"); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("err = %v, want ErrChallengeExpired", err)
	}
}

func TestChallengeRefTamperAndGarbage(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := testSigner(&now)

	_, ref, err := s.Mint("acct-1", "device-fp")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	for _, bad := range []string{
		"",
		"not.a.jwt",
		ref + "x",
		ref[:len(ref)-4],
	} {
		if _, _, err := s.Parse(bad, "device-fp"); !errors.Is(err, ErrChallengeInvalid) {
			t.Fatalf("Parse(%q): err = %v, want ErrChallengeInvalid", bad, err)
		}
	}
}

func TestChallengeRefWrongKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := testSigner(&now)

	_, ref, err := s.Mint("acct-1", "device-fp")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	other := newChallengeSigner(ChallengeConfig{
		TTL:           3 * time.Minute,
		RefSigningKey: []byte("ffffffffffffffffffffffffffffffff"),
	}, func() time.Time { return now })

	if _, _, err := other.Parse(ref, "device-fp"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("err = %v, want ErrChallengeInvalid", err)
	}
}
