package authcore

import (
	"context"
	"encoding/base64"
	"encoding/json"
)

// EncryptedBlob is ciphertext plus the IV token required to decrypt it.
// The JSON shape matches what providers persist: base64 data under
// "encryptedData" and the IV token under "iv".
type EncryptedBlob struct {
	Data []byte
	IV   string
}

type encryptedBlobJSON struct {
	EncryptedData string `json:"encryptedData"`
	IV            string `json:"iv"`
}

// MarshalJSON encodes the blob with base64 ciphertext.
func (b EncryptedBlob) MarshalJSON() ([]byte, error) {
	return json.Marshal(encryptedBlobJSON{
		EncryptedData: base64.StdEncoding.EncodeToString(b.Data),
		IV:            b.IV,
	})
}

// UnmarshalJSON decodes the persisted form.
func (b *EncryptedBlob) UnmarshalJSON(data []byte) error {
	var raw encryptedBlobJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := base64.StdEncoding.DecodeString(raw.EncryptedData)
	if err != nil {
		return err
	}
	b.Data = decoded
	b.IV = raw.IV
	return nil
}

// AccountRecord is the full account view returned by [AccountProvider].
// TOTPSecret and BackupCodes are opaque to the provider: it stores and
// returns them without ever holding key material.
type AccountRecord struct {
	AccountID    string
	Identifier   string
	PasswordHash string
	Active       bool

	TOTPEnabled    bool
	TOTPSecret     *EncryptedBlob
	BackupCodes    *EncryptedBlob
	TrustedDevices TrustedDeviceSet
}

// TwoFactorUpdate carries the full two-factor state written when
// enrollment is confirmed.
type TwoFactorUpdate struct {
	Secret      *EncryptedBlob
	BackupCodes *EncryptedBlob
}

// AccountProvider is the interface callers implement to connect the
// engine to their account database.
//
// Error contract: lookups return [ErrAccountNotFound] for unknown
// accounts; ReplaceBackupCodes returns [ErrBackupCodesConflict] when the
// stored blob no longer matches prev. Any other failure is wrapped by the
// engine as [ErrProviderUnavailable].
type AccountProvider interface {
	GetByIdentifier(ctx context.Context, identifier string) (*AccountRecord, error)
	GetByID(ctx context.Context, accountID string) (*AccountRecord, error)

	// EnableTwoFactor persists the encrypted secret and backup codes and
	// flips the account to TOTP-enabled, as one update.
	EnableTwoFactor(ctx context.Context, accountID string, update TwoFactorUpdate) error

	// ClearTwoFactor removes the secret, the backup codes, and the whole
	// trusted-device set, as one update.
	ClearTwoFactor(ctx context.Context, accountID string) error

	// ReplaceBackupCodes swaps the stored backup code blob from prev to
	// next only if the stored value still equals prev (compare-and-swap).
	ReplaceBackupCodes(ctx context.Context, accountID string, next, prev *EncryptedBlob) error

	// AddTrustedDevice records fingerprint in the account's trusted set.
	// Adding a fingerprint that is already present is a no-op.
	AddTrustedDevice(ctx context.Context, accountID, fingerprint string) error
}

// CredentialVerifier compares a plaintext password against a stored hash.
// Implementations must be constant-time with respect to the password.
type CredentialVerifier interface {
	Compare(ctx context.Context, password, hash string) (bool, error)
}

// Notifier delivers session kick notifications. [notify.Bus] is the
// default implementation; hosts with their own push channel implement
// this themselves. Kick must never block.
type Notifier interface {
	Kick(accountID, reason string) int
}

// LoginRequest carries the credential phase of a login.
type LoginRequest struct {
	Identifier        string
	Password          string
	DeviceFingerprint string
	ClientVersion     string
}

// TwoFactorRequest carries the verification phase of a login that was
// parked on a challenge.
type TwoFactorRequest struct {
	ChallengeRef      string
	Code              string
	DeviceFingerprint string
	ClientVersion     string
}

// LoginResult is returned by [Engine.Login] and [Engine.VerifyTwoFactor].
// Either Token is set (the login is complete) or TwoFactorRequired is
// true and ChallengeRef must be presented to VerifyTwoFactor.
type LoginResult struct {
	AccountID string
	SessionID string

	Token string

	TwoFactorRequired bool
	ChallengeRef      string
}

// TOTPEnrollment is the provisioning material returned when enrollment
// begins. Nothing is persisted until the enrollment is confirmed.
type TOTPEnrollment struct {
	SecretBase32 string
	URI          string
}

// SessionInfo is the authenticated view of a live session returned by
// [Engine.Authenticate].
type SessionInfo struct {
	SessionID   string
	AccountID   string
	Fingerprint string
	ExpiresAt   int64
}
