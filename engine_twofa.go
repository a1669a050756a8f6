package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/halcyonlabs/authcore/secrets"
)

// VerifyTwoFactor describes the verifytwofactor operation and its observable behavior.
//
// VerifyTwoFactor completes a login parked on a two-factor challenge. The
// submitted code is tried as a TOTP code first and as a backup code
// second. Consuming the challenge is atomic: a reference can complete at
// most one login.
//
// VerifyTwoFactor may return an error when input validation, dependency calls, or security checks fail.
// VerifyTwoFactor does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyTwoFactor(ctx context.Context, req TwoFactorRequest) (*LoginResult, error) {
	if e == nil || e.provider == nil || e.sessions == nil || e.challenges == nil || e.refSigner == nil || e.totp == nil || e.cipher == nil {
		return nil, ErrEngineNotReady
	}
	if req.DeviceFingerprint == "" {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, "", "", ErrFingerprintRequired, func() map[string]string {
			return map[string]string{
				"reason": "missing_fingerprint",
			}
		})
		return nil, ErrFingerprintRequired
	}

	challengeID, accountID, err := e.refSigner.Parse(req.ChallengeRef, req.DeviceFingerprint)
	if err != nil {
		if errors.Is(err, ErrChallengeExpired) {
			e.metricInc(MetricChallengeExpired)
			e.emitAudit(ctx, auditEventChallengeExpired, false, "", "", ErrChallengeExpired, nil)
			return nil, ErrChallengeExpired
		}
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, "", "", ErrChallengeInvalid, func() map[string]string {
			return map[string]string{
				"reason": "challenge_ref_rejected",
			}
		})
		return nil, ErrChallengeInvalid
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckVerify(ctx, accountID); err != nil {
			e.metricInc(MetricTwoFactorRateLimited)
			e.emitAudit(ctx, auditEventTwoFactorRateLimited, false, accountID, "", ErrTwoFactorRateLimited, nil)
			e.emitRateLimit(ctx, "two_factor", func() map[string]string {
				return map[string]string{
					"account_id": accountID,
				}
			})
			return nil, ErrTwoFactorRateLimited
		}
	}

	record, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, errChallengeNotFound):
			// The reference is authentic but names nothing: it was
			// already consumed or swept after expiry.
			e.metricInc(MetricChallengeReplay)
			e.emitAudit(ctx, auditEventChallengeReplay, false, accountID, "", ErrChallengeReplay, nil)
			return nil, ErrChallengeReplay
		case errors.Is(err, ErrChallengeExpired):
			e.metricInc(MetricChallengeExpired)
			e.emitAudit(ctx, auditEventChallengeExpired, false, accountID, "", ErrChallengeExpired, nil)
			return nil, ErrChallengeExpired
		default:
			e.metricInc(MetricTwoFactorFailure)
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrChallengeUnavailable, nil)
			return nil, ErrChallengeUnavailable
		}
	}

	if record.AccountID != accountID || record.Fingerprint != req.DeviceFingerprint {
		_, _ = e.challenges.Delete(ctx, challengeID)
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrChallengeInvalid, func() map[string]string {
			return map[string]string{
				"reason": "challenge_binding_mismatch",
			}
		})
		return nil, ErrChallengeInvalid
	}

	account, err := e.provider.GetByID(ctx, accountID)
	if err != nil {
		_, _ = e.challenges.Delete(ctx, challengeID)
		e.metricInc(MetricTwoFactorFailure)
		if errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrAccountNotFound, nil)
			return nil, ErrAccountNotFound
		}
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrProviderUnavailable, nil)
		return nil, ErrProviderUnavailable
	}
	if !account.Active {
		_, _ = e.challenges.Delete(ctx, challengeID)
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrAccountInactive, nil)
		// Same collapse as the credential phase: the client cannot
		// distinguish a disabled account from bad credentials.
		return nil, ErrInvalidCredentials
	}
	if !account.TOTPEnabled || account.TOTPSecret == nil {
		_, _ = e.challenges.Delete(ctx, challengeID)
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrTOTPNotEnabled, nil)
		return nil, ErrTOTPNotEnabled
	}

	if req.Code == "" {
		return e.failTwoFactorAttempt(ctx, challengeID, accountID, ErrTwoFactorInvalid)
	}

	verified, err := e.verifySecondFactor(ctx, account, req.Code)
	if err != nil {
		return nil, err
	}
	if !verified {
		return e.failTwoFactorAttempt(ctx, challengeID, accountID, ErrTwoFactorInvalid)
	}

	if e.rateLimiter != nil {
		_ = e.rateLimiter.ResetVerify(ctx, accountID)
	}

	// The gate re-runs here so a client that was current at Login but
	// presents stale headers now still cannot displace a session.
	if err := e.checkClientVersion(userAgentFromContext(ctx), req.ClientVersion); err != nil {
		e.metricInc(MetricClientVersionRejected)
		e.emitAudit(ctx, auditEventVersionRejected, false, accountID, "", err, func() map[string]string {
			return map[string]string{
				"version": req.ClientVersion,
			}
		})
		return nil, err
	}

	deleted, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrChallengeUnavailable, nil)
		return nil, ErrChallengeUnavailable
	}
	if !deleted {
		e.metricInc(MetricChallengeReplay)
		e.emitAudit(ctx, auditEventChallengeReplay, false, accountID, "", ErrChallengeReplay, nil)
		return nil, ErrChallengeReplay
	}

	if !account.TrustedDevices.Has(req.DeviceFingerprint) {
		if err := e.provider.AddTrustedDevice(ctx, accountID, req.DeviceFingerprint); err != nil {
			// Trust recording is best-effort after a verified code; the
			// login itself proceeds.
			e.emitAudit(ctx, auditEventDeviceTrusted, false, accountID, "", ErrProviderUnavailable, nil)
		} else {
			e.emitAudit(ctx, auditEventDeviceTrusted, true, accountID, "", nil, nil)
		}
	}

	result, err := e.issueSession(ctx, account, req.DeviceFingerprint)
	if err != nil {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, accountID, result.SessionID, nil, nil)
	return result, nil
}

// verifySecondFactor tries the submitted code as a TOTP code and then as
// a backup code. A consumed backup code is removed from the stored set
// before the method reports success.
func (e *Engine) verifySecondFactor(ctx context.Context, account *AccountRecord, code string) (bool, error) {
	secretPlain, err := e.decryptBlob(ctx, account.AccountID, account.TOTPSecret)
	if err != nil {
		return false, err
	}

	if isNumericString(code) && len(code) == e.config.TOTP.Digits {
		rawSecret, err := decodeTOTPSecret(string(secretPlain))
		if err != nil {
			return false, ErrTOTPNotEnabled
		}
		ok, _, verr := e.totp.VerifyCode(rawSecret, code, e.now())
		if verr == nil && ok {
			return true, nil
		}
	}

	if account.BackupCodes == nil {
		return false, nil
	}
	return e.consumeStoredBackupCode(ctx, account, code)
}

// consumeStoredBackupCode removes the matching code from the encrypted
// set under compare-and-swap so a code spent by a concurrent login
// cannot be spent twice.
func (e *Engine) consumeStoredBackupCode(ctx context.Context, account *AccountRecord, code string) (bool, error) {
	const maxRetries = 4

	candidate := CanonicalizeBackupCode(code)
	if candidate == "" {
		return false, nil
	}

	current := account
	for i := 0; i < maxRetries; i++ {
		if current.BackupCodes == nil {
			return false, nil
		}

		plain, err := e.decryptBlob(ctx, current.AccountID, current.BackupCodes)
		if err != nil {
			return false, err
		}
		codes, err := decodeBackupCodeSet(plain)
		if err != nil {
			return false, ErrProviderUnavailable
		}

		consumed, remaining := consumeBackupCode(candidate, codes)
		if !consumed {
			e.metricInc(MetricBackupCodeFailed)
			e.emitAudit(ctx, auditEventBackupCodeFailed, false, current.AccountID, "", ErrTwoFactorInvalid, nil)
			return false, nil
		}

		nextPlain, err := encodeBackupCodeSet(remaining)
		if err != nil {
			return false, ErrProviderUnavailable
		}
		nextData, nextIV, err := e.cipher.Encrypt(nextPlain)
		if err != nil {
			return false, ErrProviderUnavailable
		}
		next := &EncryptedBlob{Data: nextData, IV: nextIV}

		err = e.provider.ReplaceBackupCodes(ctx, current.AccountID, next, current.BackupCodes)
		if err == nil {
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventBackupCodeUsed, true, current.AccountID, "", nil, func() map[string]string {
				return map[string]string{
					"remaining": strconv.Itoa(len(remaining)),
				}
			})
			return true, nil
		}
		if !errors.Is(err, ErrBackupCodesConflict) {
			return false, ErrProviderUnavailable
		}

		// Lost the swap to a concurrent consumer; reload and retry
		// against the fresh set.
		current, err = e.provider.GetByID(ctx, current.AccountID)
		if err != nil {
			return false, ErrProviderUnavailable
		}
	}

	return false, ErrBackupCodesConflict
}

func (e *Engine) decryptBlob(ctx context.Context, accountID string, blob *EncryptedBlob) ([]byte, error) {
	if blob == nil {
		return nil, secrets.ErrDecryptionFailed
	}
	plain, err := e.cipher.Decrypt(blob.Data, blob.IV)
	if err != nil {
		e.metricInc(MetricDecryptFailure)
		e.emitAudit(ctx, auditEventSecretDecryptFailed, false, accountID, "", secrets.ErrDecryptionFailed, nil)
		return nil, secrets.ErrDecryptionFailed
	}
	return plain, nil
}

func (e *Engine) failTwoFactorAttempt(
	ctx context.Context,
	challengeID string,
	accountID string,
	cause error,
) (*LoginResult, error) {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementVerify(ctx, accountID); err != nil {
			e.metricInc(MetricTwoFactorRateLimited)
			e.emitAudit(ctx, auditEventTwoFactorRateLimited, false, accountID, "", ErrTwoFactorRateLimited, nil)
			e.emitRateLimit(ctx, "two_factor", func() map[string]string {
				return map[string]string{
					"account_id": accountID,
				}
			})
			return nil, ErrTwoFactorRateLimited
		}
	}

	exceeded, recErr := e.challenges.RecordFailure(ctx, challengeID, e.config.Challenge.MaxAttempts)
	if recErr != nil {
		e.metricInc(MetricTwoFactorFailure)
		switch {
		case errors.Is(recErr, errChallengeNotFound):
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrChallengeReplay, nil)
			return nil, ErrChallengeReplay
		case errors.Is(recErr, ErrChallengeExpired):
			e.emitAudit(ctx, auditEventChallengeExpired, false, accountID, "", ErrChallengeExpired, nil)
			return nil, ErrChallengeExpired
		default:
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrChallengeUnavailable, nil)
			return nil, ErrChallengeUnavailable
		}
	}
	if exceeded {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", ErrChallengeAttemptsExceeded, func() map[string]string {
			return map[string]string{
				"reason": "attempts_exceeded",
			}
		})
		return nil, ErrChallengeAttemptsExceeded
	}

	e.metricInc(MetricTwoFactorFailure)
	if cause == nil {
		cause = ErrTwoFactorInvalid
	}
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, "", cause, nil)
	return nil, cause
}
