package authcore

import (
	"errors"
	"time"

	"github.com/halcyonlabs/authcore/internal/rate"
	"github.com/halcyonlabs/authcore/notify"
	"github.com/halcyonlabs/authcore/secrets"
	"github.com/halcyonlabs/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by authcore APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client

	provider  AccountProvider
	verifier  CredentialVerifier
	notifier  Notifier
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithAccountProvider describes the withaccountprovider operation and its observable behavior.
//
// WithAccountProvider may return an error when input validation, dependency calls, or security checks fail.
// WithAccountProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.provider = p
	return b
}

// WithCredentialVerifier describes the withcredentialverifier operation and its observable behavior.
//
// WithCredentialVerifier may return an error when input validation, dependency calls, or security checks fail.
// WithCredentialVerifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithCredentialVerifier(v CredentialVerifier) *Builder {
	b.verifier = v
	return b
}

// WithNotifier describes the withnotifier operation and its observable behavior.
//
// WithNotifier may return an error when input validation, dependency calls, or security checks fail.
// WithNotifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock describes the withclock operation and its observable behavior.
//
// WithClock may return an error when input validation, dependency calls, or security checks fail.
// WithClock does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.provider == nil {
		return nil, errors.New("account provider required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	cipher, err := secrets.NewCipher(
		cfg.Secrets.EncryptionSecret,
		cfg.Secrets.EncryptionSalt,
		cfg.Secrets.KDFIterations,
	)
	if err != nil {
		return nil, err
	}

	var minMobile clientVersion
	if cfg.Client.MinMobileVersion != "" {
		minMobile, err = parseClientVersion(cfg.Client.MinMobileVersion)
		if err != nil {
			return nil, errors.New("Client MinMobileVersion is malformed")
		}
	}

	engine := &Engine{
		config:           cloneConfig(cfg),
		sessions:         session.NewRegistry(b.redis, cfg.Session.RedisPrefix, clock),
		challenges:       newChallengeStore(b.redis, clock),
		refSigner:        newChallengeSigner(cfg.Challenge, clock),
		cipher:           cipher,
		totp:             newTOTPManager(cfg.TOTP),
		audit:            newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:          NewMetrics(cfg.Metrics),
		provider:         b.provider,
		minMobileVersion: minMobile,
		clock:            clock,
	}

	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:       cfg.Security.EnableIPThrottle,
		MaxLoginAttempts:       cfg.Security.MaxLoginAttempts,
		LoginCooldownDuration:  cfg.Security.LoginCooldownDuration,
		MaxVerifyAttempts:      cfg.Security.MaxTwoFactorAttempts,
		VerifyCooldownDuration: cfg.Security.TwoFactorCooldownDuration,
	})

	engine.verifier = b.verifier
	if engine.verifier == nil {
		engine.verifier = BcryptVerifier{}
	}

	engine.notifier = b.notifier
	if engine.notifier == nil {
		engine.notifier = notify.NewBus()
	}

	b.built = true

	return engine, nil
}
