package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

type SessionID [16]byte

const (
	sessionTokenRawSize = 48
	sessionSecretSize   = 32
)

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

func NewSessionSecret() ([sessionSecretSize]byte, error) {
	var secret [sessionSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSessionSecret(secret [sessionSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeSessionToken packs a session id and its secret into the opaque
// bearer token handed to clients. The stored side keeps only the secret
// hash, never the token itself.
func EncodeSessionToken(sessionID string, secret [sessionSecretSize]byte) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [sessionTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeSessionToken(token string) (string, [sessionSecretSize]byte, error) {
	var secret [sessionSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != sessionTokenRawSize {
		return "", secret, errors.New("invalid session token size")
	}

	var sid SessionID
	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])

	return sid.String(), secret, nil
}
