package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
//
// MetricID values are stable across a process lifetime and index directly
// into the metric storage.
type MetricID uint16

const (
	// MetricLoginSuccess counts fully completed logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts logins rejected for credential reasons.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins rejected by the login limiter.
	MetricLoginRateLimited
	// MetricTwoFactorRequired counts logins parked on a pending challenge.
	MetricTwoFactorRequired
	// MetricTwoFactorSuccess counts successful challenge verifications.
	MetricTwoFactorSuccess
	// MetricTwoFactorFailure counts rejected challenge verifications.
	MetricTwoFactorFailure
	// MetricTwoFactorRateLimited counts verifications rejected by the verify limiter.
	MetricTwoFactorRateLimited
	// MetricChallengeExpired counts verifications against expired challenges.
	MetricChallengeExpired
	// MetricChallengeReplay counts verifications against consumed challenges.
	MetricChallengeReplay
	// MetricBackupCodeUsed counts backup codes consumed during verification.
	MetricBackupCodeUsed
	// MetricBackupCodeFailed counts backup code candidates that matched nothing.
	MetricBackupCodeFailed
	// MetricBackupCodeRegenerated counts full backup code set replacements.
	MetricBackupCodeRegenerated
	// MetricSessionCreated counts sessions written to the registry.
	MetricSessionCreated
	// MetricSessionEvicted counts sessions displaced by the replacement policy.
	MetricSessionEvicted
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricLogoutAll counts whole-account logouts.
	MetricLogoutAll
	// MetricKickDelivered counts kick notifications accepted by a subscriber.
	MetricKickDelivered
	// MetricKickDropped counts kick notifications with no listener or a full buffer.
	MetricKickDropped
	// MetricClientVersionRejected counts mobile logins failing the version gate.
	MetricClientVersionRejected
	// MetricDecryptFailure counts secret blob decryptions that failed closed.
	MetricDecryptFailure
	// MetricTOTPEnrollStarted counts enrollment secrets issued.
	MetricTOTPEnrollStarted
	// MetricTOTPEnrollConfirmed counts enrollments confirmed and persisted.
	MetricTOTPEnrollConfirmed
	// MetricTOTPDisabled counts two-factor teardowns.
	MetricTOTPDisabled
	// MetricAuthenticateSuccess counts bearer tokens resolved to live sessions.
	MetricAuthenticateSuccess
	// MetricAuthenticateFailure counts bearer tokens that resolved to nothing.
	MetricAuthenticateFailure
	// MetricAuthenticateLatency is the histogram slot for Authenticate duration.
	MetricAuthenticateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's in-process counters. All methods are safe for
// concurrent use and are no-ops on a nil or disabled receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counter and histogram values.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates metric storage according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether metric collection is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the Authenticate latency histogram is active.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records an Authenticate duration into the latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAuthenticateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters and histograms into a detached snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthenticateLatency].buckets[i])
		}
		s.Histograms[MetricAuthenticateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
