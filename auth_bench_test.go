package authcore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBenchmarkEngine(tb testing.TB) (*Engine, *memoryProvider, func()) {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.Audit.Enabled = false
	// The fixed windows must not trip during a long benchmark run.
	cfg.Security.MaxLoginAttempts = 1 << 30
	cfg.Security.MaxTwoFactorAttempts = 1 << 30

	provider := newMemoryProvider()
	provider.addAccount(tb, "acct-1", "alice@example.com")

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		Build()
	if err != nil {
		tb.Fatalf("Build failed: %v", err)
	}

	return engine, provider, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func BenchmarkAuthenticate(b *testing.B) {
	engine, _, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	result, err := engine.Login(context.Background(), LoginRequest{
		Identifier:        "alice@example.com",
		Password:          testPassword,
		DeviceFingerprint: testFingerprint,
	})
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Authenticate(context.Background(), result.Token); err != nil {
			b.Fatalf("authenticate failed: %v", err)
		}
	}
}

func BenchmarkLogin(b *testing.B) {
	engine, _, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		result, err := engine.Login(context.Background(), LoginRequest{
			Identifier:        "alice@example.com",
			Password:          testPassword,
			DeviceFingerprint: testFingerprint,
		})
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		if err := engine.LogoutSession(context.Background(), result.SessionID); err != nil {
			b.Fatalf("logout failed: %v", err)
		}
	}
}

// BenchmarkLoginDisplacement measures the eviction path: every login
// claims a fingerprint that is already held.
func BenchmarkLoginDisplacement(b *testing.B) {
	engine, _, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	if _, err := engine.Login(context.Background(), LoginRequest{
		Identifier:        "alice@example.com",
		Password:          testPassword,
		DeviceFingerprint: testFingerprint,
	}); err != nil {
		b.Fatalf("seed login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Login(context.Background(), LoginRequest{
			Identifier:        "alice@example.com",
			Password:          testPassword,
			DeviceFingerprint: testFingerprint,
		}); err != nil {
			b.Fatalf("login failed: %v", err)
		}
	}
}
