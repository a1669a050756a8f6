package notify

import (
	"sync"
	"testing"
)

func TestKickDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("acct-1")
	defer sub.Close()

	if n := b.Kick("acct-1", ReasonNewLogin); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	select {
	case msg := <-sub.C():
		if msg.Reason != ReasonNewLogin {
			t.Fatalf("reason = %q, want %q", msg.Reason, ReasonNewLogin)
		}
	default:
		t.Fatal("no message buffered")
	}
}

func TestKickWithoutSubscriberIsDropped(t *testing.T) {
	b := NewBus()
	if n := b.Kick("nobody", ReasonNewLogin); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
}

func TestKickNeverBlocksOnFullBuffer(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("acct-1")
	defer sub.Close()

	// Saturate the buffer, then keep kicking. All extra kicks drop.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Kick("acct-1", ReasonNewLogin)
	}

	received := 0
	for {
		select {
		case <-sub.C():
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Fatalf("expected %d buffered messages, got %d", subscriberBuffer, received)
	}
}

func TestKickFansOutToAllSubscribers(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe("acct-1")
	s2 := b.Subscribe("acct-1")
	other := b.Subscribe("acct-2")
	defer s1.Close()
	defer s2.Close()
	defer other.Close()

	if n := b.Kick("acct-1", ReasonLogout); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}

	select {
	case <-other.C():
		t.Fatal("message leaked to a different account")
	default:
	}
}

func TestKickDuringConcurrentClose(t *testing.T) {
	b := NewBus()

	// Subscribers churn while kicks fan out. A send must never land on
	// a channel that Close has already closed.
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sub := b.Subscribe("acct-1")
				b.Kick("acct-1", ReasonNewLogin)
				sub.Close()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Kick("acct-1", ReasonLogout)
		}
	}()
	wg.Wait()
}

func TestClosedSubscriberStopsReceiving(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("acct-1")
	sub.Close()
	sub.Close() // idempotent

	if n := b.Kick("acct-1", ReasonNewLogin); n != 0 {
		t.Fatalf("closed subscriber still counted: %d", n)
	}

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed")
	}
}
