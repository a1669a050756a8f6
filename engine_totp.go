package authcore

import (
	"context"
	"errors"

	"github.com/halcyonlabs/authcore/notify"
)

// BeginTOTPEnrollment describes the begintotpenrollment operation and its observable behavior.
//
// BeginTOTPEnrollment generates provisioning material for an
// authenticator app. Nothing is persisted: the account stays
// TOTP-disabled until [Engine.ConfirmTOTPEnrollment] proves the client
// holds the secret.
//
// BeginTOTPEnrollment may return an error when input validation, dependency calls, or security checks fail.
// BeginTOTPEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, accountID string) (*TOTPEnrollment, error) {
	if e == nil || e.provider == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if accountID == "" {
		return nil, ErrAccountNotFound
	}

	account, err := e.provider.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, ErrProviderUnavailable
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}
	if account.TOTPEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	_, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, ErrProviderUnavailable
	}

	label := account.Identifier
	if label == "" {
		label = account.AccountID
	}

	e.metricInc(MetricTOTPEnrollStarted)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, accountID, "", nil, nil)

	return &TOTPEnrollment{
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, label),
	}, nil
}

// ConfirmTOTPEnrollment describes the confirmtotpenrollment operation and its observable behavior.
//
// ConfirmTOTPEnrollment verifies a live code against the pending secret,
// then persists the encrypted secret together with a fresh backup code
// set in a single provider update. The plaintext backup codes are
// returned once and never again.
//
// ConfirmTOTPEnrollment may return an error when input validation, dependency calls, or security checks fail.
// ConfirmTOTPEnrollment does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, accountID, secretBase32, code string) ([]string, error) {
	if e == nil || e.provider == nil || e.totp == nil || e.cipher == nil {
		return nil, ErrEngineNotReady
	}
	if accountID == "" {
		return nil, ErrAccountNotFound
	}

	account, err := e.provider.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, ErrProviderUnavailable
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}
	if account.TOTPEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	rawSecret, err := decodeTOTPSecret(secretBase32)
	if err != nil {
		return nil, ErrTOTPInvalid
	}
	ok, _, err := e.totp.VerifyCode(rawSecret, code, e.now())
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrTOTPInvalid, func() map[string]string {
			return map[string]string{
				"reason": "enrollment_code_rejected",
			}
		})
		return nil, ErrTOTPInvalid
	}

	codes, err := generateBackupCodes(e.config.TOTP.BackupCodeCount)
	if err != nil {
		return nil, ErrProviderUnavailable
	}

	secretData, secretIV, err := e.cipher.Encrypt([]byte(secretBase32))
	if err != nil {
		return nil, ErrProviderUnavailable
	}
	codesPlain, err := encodeBackupCodeSet(codes)
	if err != nil {
		return nil, ErrProviderUnavailable
	}
	codesData, codesIV, err := e.cipher.Encrypt(codesPlain)
	if err != nil {
		return nil, ErrProviderUnavailable
	}

	update := TwoFactorUpdate{
		Secret:      &EncryptedBlob{Data: secretData, IV: secretIV},
		BackupCodes: &EncryptedBlob{Data: codesData, IV: codesIV},
	}
	if err := e.provider.EnableTwoFactor(ctx, accountID, update); err != nil {
		e.emitAudit(ctx, auditEventTOTPEnabled, false, accountID, "", ErrProviderUnavailable, nil)
		return nil, ErrProviderUnavailable
	}

	e.metricInc(MetricTOTPEnrollConfirmed)
	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, accountID, "", nil, nil)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, accountID, "", nil, nil)

	return formatBackupCodes(codes), nil
}

// DisableTOTP describes the disabletotp operation and its observable behavior.
//
// DisableTOTP re-verifies the account password, clears all two-factor
// state including the trusted device set, and terminates every live
// session of the account.
//
// DisableTOTP may return an error when input validation, dependency calls, or security checks fail.
// DisableTOTP does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) DisableTOTP(ctx context.Context, accountID, password string) error {
	if e == nil || e.provider == nil || e.verifier == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if accountID == "" {
		return ErrAccountNotFound
	}

	account, err := e.provider.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return ErrProviderUnavailable
	}
	if !account.TOTPEnabled {
		return ErrTOTPNotEnabled
	}

	ok, err := e.verifier.Compare(ctx, password, account.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventTOTPDisabled, false, accountID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.provider.ClearTwoFactor(ctx, accountID); err != nil {
		e.emitAudit(ctx, auditEventTOTPDisabled, false, accountID, "", ErrProviderUnavailable, nil)
		return ErrProviderUnavailable
	}

	removed, err := e.sessions.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		e.emitAudit(ctx, auditEventTOTPDisabled, false, accountID, "", ErrSessionInvalidationFailed, nil)
		return ErrSessionInvalidationFailed
	}
	if removed > 0 {
		e.kick(accountID, notify.ReasonTwoFactor)
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, accountID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes describes the regeneratebackupcodes operation and its observable behavior.
//
// RegenerateBackupCodes replaces the stored set with a fresh one after a
// live TOTP code is verified. The swap is compare-and-swap against the
// current set, so a code consumed concurrently cannot resurface.
//
// RegenerateBackupCodes may return an error when input validation, dependency calls, or security checks fail.
// RegenerateBackupCodes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
	if e == nil || e.provider == nil || e.totp == nil || e.cipher == nil {
		return nil, ErrEngineNotReady
	}
	if accountID == "" {
		return nil, ErrAccountNotFound
	}

	account, err := e.provider.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, ErrProviderUnavailable
	}
	if !account.TOTPEnabled || account.TOTPSecret == nil {
		return nil, ErrTOTPNotEnabled
	}

	secretPlain, err := e.decryptBlob(ctx, accountID, account.TOTPSecret)
	if err != nil {
		return nil, err
	}
	rawSecret, err := decodeTOTPSecret(string(secretPlain))
	if err != nil {
		return nil, ErrTOTPNotEnabled
	}
	ok, _, err := e.totp.VerifyCode(rawSecret, totpCode, e.now())
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, accountID, "", ErrTOTPInvalid, func() map[string]string {
			return map[string]string{
				"reason": "regenerate_code_rejected",
			}
		})
		return nil, ErrTOTPInvalid
	}

	codes, err := generateBackupCodes(e.config.TOTP.BackupCodeCount)
	if err != nil {
		return nil, ErrProviderUnavailable
	}
	plain, err := encodeBackupCodeSet(codes)
	if err != nil {
		return nil, ErrProviderUnavailable
	}
	data, iv, err := e.cipher.Encrypt(plain)
	if err != nil {
		return nil, ErrProviderUnavailable
	}

	next := &EncryptedBlob{Data: data, IV: iv}
	if err := e.provider.ReplaceBackupCodes(ctx, accountID, next, account.BackupCodes); err != nil {
		if errors.Is(err, ErrBackupCodesConflict) {
			return nil, ErrBackupCodesConflict
		}
		return nil, ErrProviderUnavailable
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, accountID, "", nil, nil)
	return formatBackupCodes(codes), nil
}
