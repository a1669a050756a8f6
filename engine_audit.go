package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/halcyonlabs/authcore/secrets"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventVersionRejected       = "client_version_rejected"
	auditEventTwoFactorRequired     = "two_factor_required"
	auditEventTwoFactorSuccess      = "two_factor_success"
	auditEventTwoFactorFailure      = "two_factor_failure"
	auditEventTwoFactorRateLimited  = "two_factor_rate_limited"
	auditEventChallengeExpired      = "challenge_expired"
	auditEventChallengeReplay       = "challenge_replay"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventBackupCodeFailed      = "backup_code_failed"
	auditEventSessionEvicted        = "session_evicted"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
	auditEventTOTPSetupRequested    = "totp_setup_requested"
	auditEventTOTPEnabled           = "totp_enabled"
	auditEventTOTPDisabled          = "totp_disabled"
	auditEventDeviceTrusted         = "device_trusted"
	auditEventSecretDecryptFailed   = "secret_decrypt_failed"
	auditEventAuthenticateRejected  = "authenticate_rejected"
)

// AuditErrorCode is the stable error identifier recorded on audit events
// in place of raw error text.
type AuditErrorCode string

const (
	auditErrInvalidCredentials    AuditErrorCode = "invalid_credentials"
	auditErrRateLimited           AuditErrorCode = "rate_limited"
	auditErrInvalidToken          AuditErrorCode = "invalid_token"
	auditErrSessionNotFound       AuditErrorCode = "session_not_found"
	auditErrAccountNotFound       AuditErrorCode = "account_not_found"
	auditErrAccountInactive       AuditErrorCode = "account_inactive"
	auditErrVersionInvalid        AuditErrorCode = "client_version_invalid"
	auditErrVersionTooOld         AuditErrorCode = "client_version_too_old"
	auditErrTwoFactorInvalid      AuditErrorCode = "two_factor_invalid"
	auditErrChallengeInvalid      AuditErrorCode = "challenge_invalid"
	auditErrChallengeExpired      AuditErrorCode = "challenge_expired"
	auditErrChallengeAttempts     AuditErrorCode = "challenge_attempts_exceeded"
	auditErrChallengeReplay       AuditErrorCode = "challenge_replay"
	auditErrTOTPInvalid           AuditErrorCode = "totp_invalid"
	auditErrTOTPNotEnabled        AuditErrorCode = "totp_not_enabled"
	auditErrDecryptFailed         AuditErrorCode = "secret_decrypt_failed"
	auditErrSessionCreationFailed AuditErrorCode = "session_creation_failed"
	auditErrSessionInvalidation   AuditErrorCode = "session_invalidation_failed"
	auditErrUnavailable           AuditErrorCode = "backend_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	metadataBuilder func() map[string]string,
) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrTwoFactorRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrClientVersionInvalid):
		return auditErrVersionInvalid
	case errors.Is(err, ErrClientVersionTooOld):
		return auditErrVersionTooOld
	case errors.Is(err, ErrTwoFactorInvalid):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return auditErrChallengeAttempts
	case errors.Is(err, ErrChallengeReplay):
		return auditErrChallengeReplay
	case errors.Is(err, ErrChallengeInvalid):
		return auditErrChallengeInvalid
	case errors.Is(err, ErrTOTPInvalid):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrTOTPNotEnabled),
		errors.Is(err, ErrTOTPAlreadyEnabled):
		return auditErrTOTPNotEnabled
	case errors.Is(err, secrets.ErrDecryptionFailed):
		return auditErrDecryptFailed
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreationFailed
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrSessionInvalidation
	case errors.Is(err, ErrChallengeUnavailable),
		errors.Is(err, ErrProviderUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
