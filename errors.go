package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned for any credential failure a login
	// must not distinguish: unknown identifier, wrong password, inactive
	// account. The audit stream records the specific cause.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginRateLimited is an exported constant or variable used by the authentication engine.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrAccountNotFound is an exported constant or variable used by the authentication engine.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountInactive is an exported constant or variable used by the authentication engine.
	ErrAccountInactive = errors.New("account inactive")
	// ErrClientVersionInvalid is an exported constant or variable used by the authentication engine.
	ErrClientVersionInvalid = errors.New("client version missing or malformed")
	// ErrClientVersionTooOld is an exported constant or variable used by the authentication engine.
	ErrClientVersionTooOld = errors.New("client version below supported minimum")
	// ErrTwoFactorRequired signals that credentials were accepted and the
	// login is parked on a pending challenge. Callers see it through
	// [LoginResult.TwoFactorRequired], never as a returned error.
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrTwoFactorInvalid is returned for a wrong TOTP code and a wrong
	// backup code alike; the two are indistinguishable to the client.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
	// ErrTwoFactorRateLimited is an exported constant or variable used by the authentication engine.
	ErrTwoFactorRateLimited = errors.New("two-factor attempts rate limited")
	// ErrChallengeInvalid is an exported constant or variable used by the authentication engine.
	ErrChallengeInvalid = errors.New("login challenge invalid")
	// ErrChallengeExpired is an exported constant or variable used by the authentication engine.
	ErrChallengeExpired = errors.New("login challenge expired")
	// ErrChallengeAttemptsExceeded is an exported constant or variable used by the authentication engine.
	ErrChallengeAttemptsExceeded = errors.New("login challenge attempts exceeded")
	// ErrChallengeReplay is an exported constant or variable used by the authentication engine.
	ErrChallengeReplay = errors.New("login challenge replay detected")
	// ErrChallengeUnavailable is an exported constant or variable used by the authentication engine.
	ErrChallengeUnavailable = errors.New("login challenge backend unavailable")
	// ErrTOTPNotEnabled is an exported constant or variable used by the authentication engine.
	ErrTOTPNotEnabled = errors.New("two-factor not enabled for account")
	// ErrTOTPAlreadyEnabled is an exported constant or variable used by the authentication engine.
	ErrTOTPAlreadyEnabled = errors.New("two-factor already enabled for account")
	// ErrTOTPInvalid is an exported constant or variable used by the authentication engine.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrBackupCodesConflict is returned by providers when a backup code
	// replacement lost a compare-and-swap race and should be retried.
	ErrBackupCodesConflict = errors.New("backup codes modified concurrently")
	// ErrSessionNotFound is an exported constant or variable used by the authentication engine.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrSessionCreationFailed is an exported constant or variable used by the authentication engine.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionInvalidationFailed is an exported constant or variable used by the authentication engine.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrProviderUnavailable wraps account provider failures that are not
	// ErrAccountNotFound or ErrBackupCodesConflict.
	ErrProviderUnavailable = errors.New("account provider unavailable")
	// ErrFingerprintRequired is an exported constant or variable used by the authentication engine.
	ErrFingerprintRequired = errors.New("device fingerprint required")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
