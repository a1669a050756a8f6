package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/halcyonlabs/authcore/notify"
)

func TestBeginTOTPEnrollmentDoesNotPersist(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.provider.addAccount(t, "acct-1", "alice@example.com")
	ctx := context.Background()

	enr, err := fx.engine.BeginTOTPEnrollment(ctx, "acct-1")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}
	if enr.SecretBase32 == "" || enr.URI == "" {
		t.Fatalf("incomplete enrollment: %+v", enr)
	}

	account, err := fx.provider.GetByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if account.TOTPEnabled || account.TOTPSecret != nil {
		t.Fatal("enrollment must not persist before confirmation")
	}

	// An abandoned enrollment leaves password-only login untouched.
	res, err := fx.engine.Login(ctx, LoginRequest{
		Identifier:        "alice@example.com",
		Password:          testPassword,
		DeviceFingerprint: testFingerprint,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.TwoFactorRequired {
		t.Fatal("abandoned enrollment must not require a second factor")
	}
}

func TestConfirmTOTPEnrollmentReturnsBackupCodes(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.provider.addAccount(t, "acct-1", "alice@example.com")
	ctx := context.Background()

	_, codes := enrollTOTP(t, fx, "acct-1")

	if len(codes) != fx.engine.config.TOTP.BackupCodeCount {
		t.Fatalf("codes = %d, want %d", len(codes), fx.engine.config.TOTP.BackupCodeCount)
	}
	seen := make(map[string]bool)
	for _, code := range codes {
		if !backupCodePattern.MatchString(code) {
			t.Fatalf("code %q does not match display format", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}

	account, err := fx.provider.GetByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !account.TOTPEnabled || account.TOTPSecret == nil || account.BackupCodes == nil {
		t.Fatal("expected persisted two-factor state")
	}
}

func TestConfirmTOTPEnrollmentRejectsWrongCode(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.provider.addAccount(t, "acct-1", "alice@example.com")
	ctx := context.Background()

	enr, err := fx.engine.BeginTOTPEnrollment(ctx, "acct-1")
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}

	_, err = fx.engine.ConfirmTOTPEnrollment(ctx, "acct-1", enr.SecretBase32, "000000")
	if !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("err = %v, want ErrTOTPInvalid", err)
	}

	account, err := fx.provider.GetByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if account.TOTPEnabled {
		t.Fatal("failed confirmation must not enable TOTP")
	}
}

func TestEnrollmentRejectedWhenAlreadyEnabled(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.provider.addAccount(t, "acct-1", "alice@example.com")
	enrollTOTP(t, fx, "acct-1")

	if _, err := fx.engine.BeginTOTPEnrollment(context.Background(), "acct-1"); !errors.Is(err, ErrTOTPAlreadyEnabled) {
		t.Fatalf("err = %v, want ErrTOTPAlreadyEnabled", err)
	}
}

func TestDisableTOTPRequiresPassword(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.provider.addAccount(t, "acct-1", "alice@example.com")
	enrollTOTP(t, fx, "acct-1")
	ctx := context.Background()

	if err := fx.engine.DisableTOTP(ctx, "acct-1", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}

	account, err := fx.provider.GetByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !account.TOTPEnabled {
		t.Fatal("rejected disable must not clear two-factor state")
	}
}

func TestDisableTOTPClearsStateAndSessions(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.provider.addAccount(t, "acct-1", "alice@example.com")
	secret, _ := enrollTOTP(t, fx, "acct-1")
	ctx := context.Background()

	sub := fx.bus.Subscribe("acct-1")
	defer sub.Close()

	parked := startTwoFactorLogin(t, fx, testFingerprint)
	res, err := fx.engine.VerifyTwoFactor(ctx, TwoFactorRequest{
		ChallengeRef:      parked.ChallengeRef,
		Code:              totpCodeAt(t, secret, fx.engine.config.TOTP, fx.clock.Now()),
		DeviceFingerprint: testFingerprint,
	})
	if err != nil {
		t.Fatalf("VerifyTwoFactor: %v", err)
	}

	if err := fx.engine.DisableTOTP(ctx, "acct-1", testPassword); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}

	account, err := fx.provider.GetByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if account.TOTPEnabled || account.TOTPSecret != nil || account.BackupCodes != nil {
		t.Fatal("expected two-factor state cleared")
	}
	if account.TrustedDevices.Len() != 0 {
		t.Fatal("expected trusted devices cleared")
	}

	if _, err := fx.engine.Authenticate(ctx, res.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session after disable: err = %v, want ErrSessionNotFound", err)
	}

	var sawReset bool
	for drained := false; !drained; {
		select {
		case msg := <-sub.C():
			if msg.Reason == notify.ReasonTwoFactor {
				sawReset = true
			}
		default:
			drained = true
		}
	}
	if !sawReset {
		t.Fatal("expected two-factor reset kick")
	}
}

func TestDisableTOTPWhenNotEnabled(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.provider.addAccount(t, "acct-1", "alice@example.com")

	if err := fx.engine.DisableTOTP(context.Background(), "acct-1", testPassword); !errors.Is(err, ErrTOTPNotEnabled) {
		t.Fatalf("err = %v, want ErrTOTPNotEnabled", err)
	}
}

func TestRegenerateBackupCodesInvalidatesOldSet(t *testing.T) {
	fx := newEngineFixture(t, func(cfg *Config) {
		cfg.Security.MaxTwoFactorAttempts = 10
	})
	fx.provider.addAccount(t, "acct-1", "alice@example.com")
	secret, oldCodes := enrollTOTP(t, fx, "acct-1")
	ctx := context.Background()

	fresh, err := fx.engine.RegenerateBackupCodes(ctx, "acct-1", totpCodeAt(t, secret, fx.engine.config.TOTP, fx.clock.Now()))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes: %v", err)
	}
	if len(fresh) != fx.engine.config.TOTP.BackupCodeCount {
		t.Fatalf("codes = %d, want %d", len(fresh), fx.engine.config.TOTP.BackupCodeCount)
	}

	parked := startTwoFactorLogin(t, fx, testFingerprint)
	if _, err := fx.engine.VerifyTwoFactor(ctx, TwoFactorRequest{
		ChallengeRef:      parked.ChallengeRef,
		Code:              oldCodes[0],
		DeviceFingerprint: testFingerprint,
	}); !errors.Is(err, ErrTwoFactorInvalid) {
		t.Fatalf("old code: err = %v, want ErrTwoFactorInvalid", err)
	}

	second := startTwoFactorLogin(t, fx, testFingerprint)
	if _, err := fx.engine.VerifyTwoFactor(ctx, TwoFactorRequest{
		ChallengeRef:      second.ChallengeRef,
		Code:              fresh[0],
		DeviceFingerprint: testFingerprint,
	}); err != nil {
		t.Fatalf("fresh code rejected: %v", err)
	}
}

func TestRegenerateBackupCodesRequiresLiveCode(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.provider.addAccount(t, "acct-1", "alice@example.com")
	enrollTOTP(t, fx, "acct-1")

	if _, err := fx.engine.RegenerateBackupCodes(context.Background(), "acct-1", "000000"); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("err = %v, want ErrTOTPInvalid", err)
	}
}
