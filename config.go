package authcore

import (
	"errors"
	"strings"
	"time"

	"github.com/halcyonlabs/authcore/secrets"
)

// Config carries every tunable of the engine. Instances are intended to be
// configured during initialization and then treated as immutable.
type Config struct {
	Secrets   SecretsConfig
	Session   SessionConfig
	TOTP      TOTPConfig
	Challenge ChallengeConfig
	Client    ClientConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

/*
====================================
SECRETS CONFIG
====================================
*/

// SecretsConfig configures the cipher protecting per-account secret
// material. The key is derived once at Build.
type SecretsConfig struct {
	EncryptionSecret string
	EncryptionSalt   string
	KDFIterations    int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures session persistence.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures code generation and verification for enrolled
// authenticator apps.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	// Skew is the number of steps accepted on each side of the current
	// one. Skew 2 with a 30 second period tolerates ±60 seconds of
	// client clock drift.
	Skew            int
	BackupCodeCount int
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig configures the pending two-factor challenge created
// between a successful password check and code verification.
type ChallengeConfig struct {
	TTL           time.Duration
	MaxAttempts   int
	RefSigningKey []byte
}

/*
====================================
CLIENT CONFIG
====================================
*/

// ClientConfig configures mobile client gating. An empty
// MinMobileVersion disables the gate.
type ClientConfig struct {
	MinMobileVersion string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig carries rate limiting and hardening knobs.
type SecurityConfig struct {
	ProductionMode            bool
	EnableIPThrottle          bool
	MaxLoginAttempts          int
	LoginCooldownDuration     time.Duration
	MaxTwoFactorAttempts      int
	TwoFactorCooldownDuration time.Duration
}

// DefaultConfig returns the configuration the Builder starts from.
// Secrets and the challenge signing key have no defaults; callers
// must set them before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Secrets: SecretsConfig{
			KDFIterations: secrets.MinIterations,
		},
		Session: SessionConfig{
			RedisPrefix: "as",
			TTL:         7 * 24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:          "authcore",
			Digits:          6,
			Period:          30,
			Algorithm:       "SHA1",
			Skew:            2,
			BackupCodeCount: 10,
		},
		Challenge: ChallengeConfig{
			TTL:         3 * time.Minute,
			MaxAttempts: 5,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode:            false,
			EnableIPThrottle:          false,
			MaxLoginAttempts:          5,
			LoginCooldownDuration:     15 * time.Minute,
			MaxTwoFactorAttempts:      5,
			TwoFactorCooldownDuration: 1 * time.Minute,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Challenge.RefSigningKey = cloneBytes(cfg.Challenge.RefSigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Config) Validate() error {
	// Secrets
	if c.Secrets.EncryptionSecret == "" {
		return errors.New("Secrets EncryptionSecret is required")
	}
	if c.Secrets.EncryptionSalt == "" {
		return errors.New("Secrets EncryptionSalt is required")
	}
	if c.Secrets.KDFIterations < secrets.MinIterations {
		return errors.New("Secrets KDFIterations below minimum")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix is required")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	if c.TOTP.BackupCodeCount <= 0 {
		return errors.New("TOTP BackupCodeCount must be > 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// valid (empty treated as SHA1)
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Challenge
	if c.Challenge.TTL <= 0 {
		return errors.New("Challenge TTL must be > 0")
	}
	if c.Challenge.MaxAttempts <= 0 {
		return errors.New("Challenge MaxAttempts must be > 0")
	}
	if len(c.Challenge.RefSigningKey) == 0 {
		return errors.New("Challenge RefSigningKey is required")
	}

	// Client
	if c.Client.MinMobileVersion != "" {
		if _, err := parseClientVersion(c.Client.MinMobileVersion); err != nil {
			return errors.New("Client MinMobileVersion is malformed")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("LoginCooldownDuration must be > 0")
	}
	if c.Security.MaxTwoFactorAttempts <= 0 {
		return errors.New("MaxTwoFactorAttempts must be > 0")
	}
	if c.Security.TwoFactorCooldownDuration <= 0 {
		return errors.New("TwoFactorCooldownDuration must be > 0")
	}

	if c.Security.ProductionMode {
		if c.Session.TTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires Session TTL <= 30d")
		}
		if len(c.Challenge.RefSigningKey) < 32 {
			return errors.New("ProductionMode requires Challenge RefSigningKey >= 256 bits")
		}
		if c.Challenge.TTL > 15*time.Minute {
			return errors.New("ProductionMode requires Challenge TTL <= 15m")
		}
		if c.TOTP.Period > 60 {
			return errors.New("ProductionMode requires TOTP Period <= 60")
		}
		if c.TOTP.Skew > 2 {
			return errors.New("ProductionMode requires TOTP Skew <= 2")
		}
		if c.TOTP.BackupCodeCount < 8 {
			return errors.New("ProductionMode requires TOTP BackupCodeCount >= 8")
		}
	}

	return nil
}
