// Package bus implements the in-process publish/subscribe route-event
// bus that couples multiple co-hosted FSMs (§4.5): route additions,
// withdrawals, and session collisions.
package bus

import (
	"sync"

	"github.com/route-beacon/bgpspeaker/bgp"
)

// SubscriptionID is the monotonically increasing handle returned by
// Subscribe, used both to suppress self-delivery and to Unsubscribe
// without relying on pointer identity (§9: "Use a subscription-id
// handle so a dropped FSM's slot can be removed without pointer
// identity").
type SubscriptionID uint64

// Add4 carries a shared attribute bundle and the prefixes it covers
// (§4.5); Withdraw4 carries only the prefixes, with no attributes.
type Add4 struct {
	SrcID   [4]byte
	Attrs   bgp.AttributeList
	Prefixes []bgp.Prefix4
}

type Withdraw4 struct {
	SrcID    [4]byte
	Prefixes []bgp.Prefix4
}

type Add6 struct {
	SrcID    [4]byte
	Attrs    bgp.AttributeList
	Prefixes []bgp.Prefix6
}

type Withdraw6 struct {
	SrcID    [4]byte
	Prefixes []bgp.Prefix6
}

// Collision carries the peer bgp-id under contention and the
// publisher's own local router-id (§4.6.5). The subscribing FSM's
// handler returns true if it believes it should survive the collision;
// a false return means either it isn't contending for that peer at all,
// or it is and concedes.
type Collision struct {
	PeerID  [4]byte
	LocalID [4]byte
}

// Subscriber is implemented by anything that wants to receive route
// events. The fsm package's FSM type implements it.
type Subscriber interface {
	OnAdd4(Add4)
	OnWithdraw4(Withdraw4)
	OnAdd6(Add6)
	OnWithdraw6(Withdraw6)
	OnCollision(Collision) bool
}

type subscription struct {
	id  SubscriptionID
	sub Subscriber
}

// Bus holds an ordered list of subscribers (§4.5). All operations take
// a re-entrant-by-convention mutex: handlers are invoked synchronously
// from within Publish*, and a handler is expected not to call back into
// the same Bus instance's Subscribe/Unsubscribe while holding its own
// lock elsewhere (the FSM's own mutex, per §5, is what actually prevents
// reentrant deadlocks across FSMs sharing a bus).
type Bus struct {
	mu     sync.Mutex
	subs   []subscription
	nextID SubscriptionID
}

func New() *Bus {
	return &Bus{nextID: 1}
}

// Subscribe appends sub to the ordered subscriber list and returns its
// subscription id.
func (b *Bus) Subscribe(sub Subscriber) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, sub: sub})
	return id
}

// Unsubscribe removes the subscriber with the given id, if present.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) snapshot() []subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]subscription(nil), b.subs...)
}

// PublishAdd4 delivers ev to every subscriber except publisher, in
// subscription order (§5: "delivery of an event to subscribers is
// synchronous and in subscription order").
func (b *Bus) PublishAdd4(publisher SubscriptionID, ev Add4) {
	for _, s := range b.snapshot() {
		if s.id == publisher {
			continue
		}
		s.sub.OnAdd4(ev)
	}
}

func (b *Bus) PublishWithdraw4(publisher SubscriptionID, ev Withdraw4) {
	for _, s := range b.snapshot() {
		if s.id == publisher {
			continue
		}
		s.sub.OnWithdraw4(ev)
	}
}

func (b *Bus) PublishAdd6(publisher SubscriptionID, ev Add6) {
	for _, s := range b.snapshot() {
		if s.id == publisher {
			continue
		}
		s.sub.OnAdd6(ev)
	}
}

func (b *Bus) PublishWithdraw6(publisher SubscriptionID, ev Withdraw6) {
	for _, s := range b.snapshot() {
		if s.id == publisher {
			continue
		}
		s.sub.OnWithdraw6(ev)
	}
}

// PublishCollision delivers ev to every subscriber except publisher and
// returns true once any subscriber's handler claims survival, per
// §4.6.5's single-winner collision resolution.
func (b *Bus) PublishCollision(publisher SubscriptionID, ev Collision) (anySurvivor bool) {
	for _, s := range b.snapshot() {
		if s.id == publisher {
			continue
		}
		if s.sub.OnCollision(ev) {
			anySurvivor = true
		}
	}
	return anySurvivor
}
