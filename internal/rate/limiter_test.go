package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*miniredis.Miniredis, *Limiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client, cfg)
}

func TestLoginBudget(t *testing.T) {
	_, l := newTestLimiter(t, Config{
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("fresh identifier should pass: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := l.IncrementLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := l.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("over budget: got %v, want ErrRateLimited", err)
	}
	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("check after exhaustion: got %v, want ErrRateLimited", err)
	}

	if err := l.ResetLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("check after reset: %v", err)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	mr, l := newTestLimiter(t, Config{
		MaxLoginAttempts:      1,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	if err := l.IncrementLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := l.IncrementLogin(ctx, "bob", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := l.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("window should have expired: %v", err)
	}
}

func TestIPThrottle(t *testing.T) {
	_, l := newTestLimiter(t, Config{
		EnableIPThrottle:      true,
		MaxLoginAttempts:      2,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.IncrementLogin(ctx, "carol", "10.0.0.9"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	// Different identifier, same IP.
	if err := l.IncrementLogin(ctx, "dave", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("shared IP should be throttled, got %v", err)
	}
}

func TestVerifyBudget(t *testing.T) {
	_, l := newTestLimiter(t, Config{
		MaxVerifyAttempts:      2,
		VerifyCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	if err := l.CheckVerify(ctx, "acct-1"); err != nil {
		t.Fatalf("fresh account should pass: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := l.IncrementVerify(ctx, "acct-1"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := l.IncrementVerify(ctx, "acct-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("over budget: got %v, want ErrRateLimited", err)
	}

	if err := l.ResetVerify(ctx, "acct-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckVerify(ctx, "acct-1"); err != nil {
		t.Fatalf("check after reset: %v", err)
	}
}

func TestGetLoginAttempts(t *testing.T) {
	_, l := newTestLimiter(t, Config{
		MaxLoginAttempts:      5,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	n, err := l.GetLoginAttempts(ctx, "missing")
	if err != nil || n != 0 {
		t.Fatalf("missing key: got (%d, %v), want (0, nil)", n, err)
	}

	_ = l.IncrementLogin(ctx, "erin", "")
	_ = l.IncrementLogin(ctx, "erin", "")
	n, err = l.GetLoginAttempts(ctx, "erin")
	if err != nil || n != 2 {
		t.Fatalf("got (%d, %v), want (2, nil)", n, err)
	}
}
