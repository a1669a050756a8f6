// Package notify provides the in-process notification bus used to tell a
// connected client that its session was displaced by a login elsewhere.
//
// Delivery is at-most-once and best-effort. Sends never block: a kick
// addressed to an account with no subscriber, or whose subscriber buffer
// is full, is dropped silently. The bus is never on the critical path of
// login or session persistence.
package notify

import "sync"

// KickMessage tells a subscriber why its session ended.
type KickMessage struct {
	Reason string `json:"reason"`
}

// Kick reasons.
const (
	ReasonNewLogin  = "new_login"
	ReasonLogout    = "logout"
	ReasonTwoFactor = "two_factor_reset"
)

const subscriberBuffer = 4

// Subscriber receives kick messages for one account. Close it when the
// client disconnects; a closed subscriber stops receiving.
type Subscriber struct {
	bus       *Bus
	accountID string
	ch        chan KickMessage

	closeOnce sync.Once
}

// C returns the receive channel. It is closed by Close.
func (s *Subscriber) C() <-chan KickMessage {
	return s.ch
}

// Close detaches the subscriber from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.bus.unsubscribe(s)
	})
}

// Bus fans kick messages out to per-account subscribers. The zero value
// is not usable; call NewBus.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a listener for kicks addressed to accountID. An
// account may hold several subscribers; each gets its own copy.
func (b *Bus) Subscribe(accountID string) *Subscriber {
	sub := &Subscriber{
		bus:       b,
		accountID: accountID,
		ch:        make(chan KickMessage, subscriberBuffer),
	}

	b.mu.Lock()
	set, ok := b.subs[accountID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subs[accountID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Kick delivers msg to every current subscriber of accountID without
// blocking. It returns the number of subscribers that accepted the
// message; callers on the login path ignore the count.
//
// Sends happen under the bus read lock. A subscriber's channel is only
// closed under the write lock, so a send can never land on a closed
// channel.
func (b *Bus) Kick(accountID, reason string) int {
	msg := KickMessage{Reason: reason}
	delivered := 0

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[accountID] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			// Full buffer, drop. No retry, no queue.
		}
	}
	return delivered
}

func (b *Bus) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[sub.accountID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.accountID)
	}
	// Closed inside the critical section; Kick holds the read lock
	// while sending.
	close(sub.ch)
}
