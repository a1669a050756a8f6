package authcore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const challengeRefIssuer = "authcore"

// challengeRefClaims is the signed payload of a pending two-factor
// challenge reference. The reference carries no secrets: it names the
// server-side challenge record and binds it to the device fingerprint
// that started the login.
type challengeRefClaims struct {
	FingerprintHash string `json:"fph"`
	jwt.RegisteredClaims
}

// challengeSigner mints and parses challenge references as HS256 JWTs.
type challengeSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func newChallengeSigner(cfg ChallengeConfig, now func() time.Time) *challengeSigner {
	return &challengeSigner{key: cfg.RefSigningKey, ttl: cfg.TTL, now: now}
}

func fingerprintDigest(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// Mint returns a fresh challenge ID and the signed reference that names it.
func (s *challengeSigner) Mint(accountID, fingerprint string) (challengeID, ref string, err error) {
	challengeID = uuid.NewString()
	now := s.now()

	claims := challengeRefClaims{
		FingerprintHash: fingerprintDigest(fingerprint),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        challengeID,
			Subject:   accountID,
			Issuer:    challengeRefIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ref, err = token.SignedString(s.key)
	if err != nil {
		return "", "", err
	}
	return challengeID, ref, nil
}

// Parse validates the reference signature, expiry, and fingerprint
// binding, and returns the challenge ID and account it names.
func (s *challengeSigner) Parse(ref, fingerprint string) (challengeID, accountID string, err error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(challengeRefIssuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)

	token, err := parser.ParseWithClaims(ref, &challengeRefClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrChallengeExpired
		}
		return "", "", ErrChallengeInvalid
	}

	claims, ok := token.Claims.(*challengeRefClaims)
	if !ok || !token.Valid {
		return "", "", ErrChallengeInvalid
	}
	if claims.ID == "" || claims.Subject == "" {
		return "", "", ErrChallengeInvalid
	}
	if claims.FingerprintHash != fingerprintDigest(fingerprint) {
		return "", "", ErrChallengeInvalid
	}
	return claims.ID, claims.Subject, nil
}
