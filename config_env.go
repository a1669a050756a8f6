package authcore

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type envConfig struct {
	EncryptionSecret string `env:"AUTHCORE_ENCRYPTION_SECRET"`
	EncryptionSalt   string `env:"AUTHCORE_ENCRYPTION_SALT"`
	KDFIterations    int    `env:"AUTHCORE_KDF_ITERATIONS" envDefault:"100000"`

	SessionTTL         time.Duration `env:"AUTHCORE_SESSION_TTL" envDefault:"168h"`
	SessionRedisPrefix string        `env:"AUTHCORE_SESSION_REDIS_PREFIX" envDefault:"as"`

	TOTPIssuer      string `env:"AUTHCORE_TOTP_ISSUER" envDefault:"authcore"`
	TOTPDigits      int    `env:"AUTHCORE_TOTP_DIGITS" envDefault:"6"`
	TOTPPeriod      int    `env:"AUTHCORE_TOTP_PERIOD" envDefault:"30"`
	TOTPAlgorithm   string `env:"AUTHCORE_TOTP_ALGORITHM" envDefault:"SHA1"`
	TOTPSkew        int    `env:"AUTHCORE_TOTP_SKEW" envDefault:"2"`
	BackupCodeCount int    `env:"AUTHCORE_BACKUP_CODE_COUNT" envDefault:"10"`

	ChallengeTTL         time.Duration `env:"AUTHCORE_CHALLENGE_TTL" envDefault:"3m"`
	ChallengeMaxAttempts int           `env:"AUTHCORE_CHALLENGE_MAX_ATTEMPTS" envDefault:"5"`
	ChallengeSigningKey  string        `env:"AUTHCORE_CHALLENGE_SIGNING_KEY"`

	MinMobileVersion string `env:"AUTHCORE_MIN_MOBILE_VERSION"`

	AuditEnabled    bool `env:"AUTHCORE_AUDIT_ENABLED" envDefault:"false"`
	AuditBufferSize int  `env:"AUTHCORE_AUDIT_BUFFER_SIZE" envDefault:"1024"`

	MetricsEnabled bool `env:"AUTHCORE_METRICS_ENABLED" envDefault:"false"`

	ProductionMode       bool          `env:"AUTHCORE_PRODUCTION_MODE" envDefault:"false"`
	EnableIPThrottle     bool          `env:"AUTHCORE_ENABLE_IP_THROTTLE" envDefault:"false"`
	MaxLoginAttempts     int           `env:"AUTHCORE_MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginCooldown        time.Duration `env:"AUTHCORE_LOGIN_COOLDOWN" envDefault:"15m"`
	MaxTwoFactorAttempts int           `env:"AUTHCORE_MAX_TWO_FACTOR_ATTEMPTS" envDefault:"5"`
	TwoFactorCooldown    time.Duration `env:"AUTHCORE_TWO_FACTOR_COOLDOWN" envDefault:"1m"`
}

// ConfigFromEnv builds a Config from AUTHCORE_* environment variables,
// starting from the same defaults as the Builder. The result is not
// validated; Build does that.
func ConfigFromEnv() (Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := defaultConfig()
	cfg.Secrets.EncryptionSecret = ec.EncryptionSecret
	cfg.Secrets.EncryptionSalt = ec.EncryptionSalt
	cfg.Secrets.KDFIterations = ec.KDFIterations
	cfg.Session.TTL = ec.SessionTTL
	cfg.Session.RedisPrefix = ec.SessionRedisPrefix
	cfg.TOTP.Issuer = ec.TOTPIssuer
	cfg.TOTP.Digits = ec.TOTPDigits
	cfg.TOTP.Period = ec.TOTPPeriod
	cfg.TOTP.Algorithm = ec.TOTPAlgorithm
	cfg.TOTP.Skew = ec.TOTPSkew
	cfg.TOTP.BackupCodeCount = ec.BackupCodeCount
	cfg.Challenge.TTL = ec.ChallengeTTL
	cfg.Challenge.MaxAttempts = ec.ChallengeMaxAttempts
	if ec.ChallengeSigningKey != "" {
		cfg.Challenge.RefSigningKey = []byte(ec.ChallengeSigningKey)
	}
	cfg.Client.MinMobileVersion = ec.MinMobileVersion
	cfg.Audit.Enabled = ec.AuditEnabled
	cfg.Audit.BufferSize = ec.AuditBufferSize
	cfg.Metrics.Enabled = ec.MetricsEnabled
	cfg.Security.ProductionMode = ec.ProductionMode
	cfg.Security.EnableIPThrottle = ec.EnableIPThrottle
	cfg.Security.MaxLoginAttempts = ec.MaxLoginAttempts
	cfg.Security.LoginCooldownDuration = ec.LoginCooldown
	cfg.Security.MaxTwoFactorAttempts = ec.MaxTwoFactorAttempts
	cfg.Security.TwoFactorCooldownDuration = ec.TwoFactorCooldown

	return cfg, nil
}
