package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/halcyonlabs/authcore/internal"
	"github.com/halcyonlabs/authcore/internal/rate"
	"github.com/halcyonlabs/authcore/notify"
	"github.com/halcyonlabs/authcore/secrets"
	"github.com/halcyonlabs/authcore/session"
)

// Engine defines a public type used by authcore APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config      Config
	sessions    *session.Registry
	rateLimiter *rate.Limiter
	challenges  *challengeStore
	refSigner   *challengeSigner
	cipher      *secrets.Cipher
	totp        *totpManager
	audit       *auditDispatcher
	metrics     *Metrics
	provider    AccountProvider
	verifier    CredentialVerifier
	notifier    Notifier

	minMobileVersion clientVersion
	clock            func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

func (e *Engine) kick(accountID, reason string) {
	if e.notifier == nil {
		return
	}
	if delivered := e.notifier.Kick(accountID, reason); delivered > 0 {
		e.metricInc(MetricKickDelivered)
	} else {
		e.metricInc(MetricKickDropped)
	}
}

// Login describes the login operation and its observable behavior.
//
// Login runs the credential phase: rate limiting, password verification,
// the mobile version gate, and either session issuance or a parked
// two-factor challenge when the account has TOTP enabled and the
// device fingerprint is not yet trusted.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.provider == nil || e.verifier == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if req.DeviceFingerprint == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrFingerprintRequired, func() map[string]string {
			return map[string]string{
				"identifier": req.Identifier,
				"reason":     "missing_fingerprint",
			}
		})
		return nil, ErrFingerprintRequired
	}

	ip := clientIPFromContext(ctx)
	if e.rateLimiter != nil {
		if err := e.rateLimiter.CheckLogin(ctx, req.Identifier, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": req.Identifier,
				}
			})
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{
					"identifier": req.Identifier,
				}
			})
			return nil, ErrLoginRateLimited
		}
	}

	if req.Password == "" {
		return nil, e.failLogin(ctx, req.Identifier, ip, "", "empty_password")
	}

	account, err := e.provider.GetByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, e.failLogin(ctx, req.Identifier, ip, "", "account_not_found")
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrProviderUnavailable, func() map[string]string {
			return map[string]string{
				"identifier": req.Identifier,
				"reason":     "provider_lookup_failed",
			}
		})
		return nil, ErrProviderUnavailable
	}

	ok, err := e.verifier.Compare(ctx, req.Password, account.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, req.Identifier, ip, account.AccountID, "password_mismatch")
	}
	req.Password = ""

	// A disabled account answers exactly like a wrong password; the
	// audit trail keeps the real cause.
	if !account.Active {
		return nil, e.failLogin(ctx, req.Identifier, ip, account.AccountID, "account_inactive")
	}

	// The version gate runs before any session is touched so a rejected
	// client never displaces a live session.
	if err := e.checkClientVersion(userAgentFromContext(ctx), req.ClientVersion); err != nil {
		e.metricInc(MetricClientVersionRejected)
		e.emitAudit(ctx, auditEventVersionRejected, false, account.AccountID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": req.Identifier,
				"version":    req.ClientVersion,
			}
		})
		return nil, err
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.ResetLogin(ctx, req.Identifier, ip); err != nil {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, "", err, func() map[string]string {
				return map[string]string{
					"identifier": req.Identifier,
					"reason":     "reset_limiter_failed",
				}
			})
			return nil, ErrProviderUnavailable
		}
	}

	// A fingerprint that already satisfied a second factor skips the
	// challenge on later logins.
	if account.TOTPEnabled && !account.TrustedDevices.Has(req.DeviceFingerprint) {
		return e.parkOnChallenge(ctx, account, req.DeviceFingerprint)
	}

	return e.issueSession(ctx, account, req.DeviceFingerprint)
}

func (e *Engine) failLogin(ctx context.Context, identifier, ip, accountID, reason string) error {
	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementLogin(ctx, identifier, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, accountID, "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": identifier,
				}
			})
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{
					"identifier": identifier,
				}
			})
			return ErrLoginRateLimited
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
			"reason":     reason,
		}
	})
	return ErrInvalidCredentials
}

func (e *Engine) parkOnChallenge(ctx context.Context, account *AccountRecord, fingerprint string) (*LoginResult, error) {
	if e.challenges == nil || e.refSigner == nil {
		return nil, ErrEngineNotReady
	}

	challengeID, ref, err := e.refSigner.Mint(account.AccountID, fingerprint)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "challenge_mint_failed",
			}
		})
		return nil, ErrChallengeUnavailable
	}

	record := &twoFactorChallenge{
		AccountID:   account.AccountID,
		Fingerprint: fingerprint,
		ExpiresAt:   e.now().Add(e.config.Challenge.TTL).Unix(),
	}
	if err := e.challenges.Save(ctx, challengeID, record, e.config.Challenge.TTL); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "challenge_save_failed",
			}
		})
		return nil, ErrChallengeUnavailable
	}

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, true, account.AccountID, "", nil, nil)

	return &LoginResult{
		AccountID:         account.AccountID,
		TwoFactorRequired: true,
		ChallengeRef:      ref,
	}, nil
}

// issueSession claims the device fingerprint, displacing whichever session
// held it, and returns the bearer token for the new session. Non-mobile
// clients additionally displace every other session of the account.
func (e *Engine) issueSession(ctx context.Context, account *AccountRecord, fingerprint string) (*LoginResult, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, "", ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"reason": "session_id_generation",
			}
		})
		return nil, ErrSessionCreationFailed
	}
	sessionID := sid.String()

	secret, err := internal.NewSessionSecret()
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, sessionID, ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"reason": "session_secret_generation",
			}
		})
		return nil, ErrSessionCreationFailed
	}

	now := e.now()
	sess := &session.Session{
		SessionID:     sessionID,
		AccountID:     account.AccountID,
		Fingerprint:   fingerprint,
		TokenHash:     internal.HashSessionSecret(secret),
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(e.config.Session.TTL).Unix(),
		SchemaVersion: 1,
	}

	evicted, err := e.sessions.Create(ctx, sess, e.config.Session.TTL)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, sessionID, ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"reason": "session_save_failed",
			}
		})
		return nil, ErrSessionCreationFailed
	}
	if evicted != nil {
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, auditEventSessionEvicted, true, evicted.AccountID, evicted.SessionID, nil, func() map[string]string {
			return map[string]string{
				"reason": "fingerprint_claimed",
			}
		})
		e.kick(evicted.AccountID, notify.ReasonNewLogin)
	}

	if !isMobileClient(userAgentFromContext(ctx)) {
		removed, err := e.sessions.DeleteAllForAccountExcept(ctx, account.AccountID, sessionID)
		if err != nil {
			e.emitAudit(ctx, auditEventSessionEvicted, false, account.AccountID, sessionID, ErrSessionInvalidationFailed, func() map[string]string {
				return map[string]string{
					"reason": "account_sweep_failed",
				}
			})
		} else if removed > 0 {
			e.metricInc(MetricSessionEvicted)
			e.emitAudit(ctx, auditEventSessionEvicted, true, account.AccountID, "", nil, func() map[string]string {
				return map[string]string{
					"reason": "single_session_sweep",
				}
			})
			e.kick(account.AccountID, notify.ReasonNewLogin)
		}
	}

	token, err := internal.EncodeSessionToken(sessionID, secret)
	if err != nil {
		_, _ = e.sessions.DeleteByID(ctx, sessionID)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.AccountID, sessionID, ErrSessionCreationFailed, func() map[string]string {
			return map[string]string{
				"reason": "token_encode_failed",
			}
		})
		return nil, ErrSessionCreationFailed
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.AccountID, sessionID, nil, func() map[string]string {
		return map[string]string{
			"identifier": account.Identifier,
		}
	})

	return &LoginResult{
		AccountID: account.AccountID,
		SessionID: sessionID,
		Token:     token,
	}, nil
}

// Authenticate describes the authenticate operation and its observable behavior.
//
// Authenticate resolves a bearer token to its live session. The token
// secret is compared in constant time against the stored hash.
//
// Authenticate may return an error when input validation, dependency calls, or security checks fail.
// Authenticate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Authenticate(ctx context.Context, token string) (*SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}

	sessionID, secret, err := internal.DecodeSessionToken(token)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		e.emitAudit(ctx, auditEventAuthenticateRejected, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return nil, ErrTokenInvalid
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		if errors.Is(err, session.ErrNotFound) {
			e.emitAudit(ctx, auditEventAuthenticateRejected, false, "", sessionID, ErrSessionNotFound, nil)
			return nil, ErrSessionNotFound
		}
		// Backend failures stay fail-closed.
		e.emitAudit(ctx, auditEventAuthenticateRejected, false, "", sessionID, ErrSessionNotFound, func() map[string]string {
			return map[string]string{
				"reason": "store_unavailable",
			}
		})
		return nil, ErrSessionNotFound
	}

	providedHash := internal.HashSessionSecret(secret)
	if subtle.ConstantTimeCompare(providedHash[:], sess.TokenHash[:]) != 1 {
		e.metricInc(MetricAuthenticateFailure)
		e.emitAudit(ctx, auditEventAuthenticateRejected, false, sess.AccountID, sessionID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "secret_mismatch",
			}
		})
		return nil, ErrTokenInvalid
	}

	e.metricInc(MetricAuthenticateSuccess)
	return &SessionInfo{
		SessionID:   sess.SessionID,
		AccountID:   sess.AccountID,
		Fingerprint: sess.Fingerprint,
		ExpiresAt:   sess.ExpiresAt,
	}, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	info, err := e.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	return e.LogoutSession(ctx, info.SessionID)
}

// LogoutSession describes the logoutsession operation and its observable behavior.
//
// LogoutSession may return an error when input validation, dependency calls, or security checks fail.
// LogoutSession does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sess, err := e.sessions.DeleteByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.emitAudit(ctx, auditEventLogoutSession, false, "", sessionID, ErrSessionNotFound, nil)
			return ErrSessionNotFound
		}
		e.emitAudit(ctx, auditEventLogoutSession, false, "", sessionID, ErrSessionInvalidationFailed, nil)
		return ErrSessionInvalidationFailed
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, sess.AccountID, sessionID, nil, nil)
	return nil
}

// LogoutAll describes the logoutall operation and its observable behavior.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
// LogoutAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	removed, err := e.sessions.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, accountID, "", ErrSessionInvalidationFailed, nil)
		return ErrSessionInvalidationFailed
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", nil, nil)
	if removed > 0 {
		e.kick(accountID, notify.ReasonLogout)
	}
	return nil
}

// ActiveSessions describes the activesessions operation and its observable behavior.
//
// ActiveSessions may return an error when input validation, dependency calls, or security checks fail.
// ActiveSessions does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ActiveSessions(ctx context.Context, accountID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	ids, err := e.sessions.ActiveSessionIDs(ctx, accountID)
	if err != nil {
		return nil, ErrProviderUnavailable
	}

	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := e.sessions.Get(ctx, id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				continue
			}
			return nil, ErrProviderUnavailable
		}
		out = append(out, SessionInfo{
			SessionID:   sess.SessionID,
			AccountID:   sess.AccountID,
			Fingerprint: sess.Fingerprint,
			ExpiresAt:   sess.ExpiresAt,
		})
	}
	return out, nil
}

// ActiveSessionCount describes the activesessioncount operation and its observable behavior.
//
// ActiveSessionCount may return an error when input validation, dependency calls, or security checks fail.
// ActiveSessionCount does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) ActiveSessionCount(ctx context.Context) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.ActiveSessionCount(ctx)
	if err != nil {
		return 0, ErrProviderUnavailable
	}
	return n, nil
}
