// Package fanout routes status stream events to the single live subscriber
// registered for each order.
package fanout

import (
	"sync"

	"github.com/alanyoungcy/dexrouter/internal/metrics"
)

// Subscriber is a live outbound channel for one order's status payloads.
type Subscriber interface {
	// Deliver hands payload to the transport. It must not block on a slow
	// peer.
	Deliver(payload []byte) error
	// Close releases the transport. It is safe to call more than once.
	Close()
}

// Registry maps order ids to at most one Subscriber each. All access goes
// through its methods; entries never leave the lock.
type Registry struct {
	mu      sync.Mutex
	subs    map[string]Subscriber
	metrics *metrics.Metrics
}

// NewRegistry creates an empty Registry.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		subs:    make(map[string]Subscriber),
		metrics: m,
	}
}

// Register installs s for orderID. A previously registered subscriber is
// replaced and closed.
func (r *Registry) Register(orderID string, s Subscriber) {
	r.mu.Lock()
	prev := r.subs[orderID]
	r.subs[orderID] = s
	n := len(r.subs)
	r.mu.Unlock()

	r.metrics.Subscribers(n)
	if prev != nil && prev != s {
		prev.Close()
	}
}

// Unregister removes orderID only while s is still its subscriber, so a
// late transport close cannot evict a newer registration. It reports whether
// an entry was removed.
func (r *Registry) Unregister(orderID string, s Subscriber) bool {
	r.mu.Lock()
	cur, ok := r.subs[orderID]
	removed := ok && cur == s
	if removed {
		delete(r.subs, orderID)
	}
	n := len(r.subs)
	r.mu.Unlock()

	if removed {
		r.metrics.Subscribers(n)
	}
	return removed
}

// Remove deletes whatever subscriber is registered for orderID and returns
// it. The caller owns closing it.
func (r *Registry) Remove(orderID string) (Subscriber, bool) {
	r.mu.Lock()
	s, ok := r.subs[orderID]
	if ok {
		delete(r.subs, orderID)
	}
	n := len(r.subs)
	r.mu.Unlock()

	if ok {
		r.metrics.Subscribers(n)
	}
	return s, ok
}

// Lookup returns the subscriber for orderID, if any.
func (r *Registry) Lookup(orderID string) (Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[orderID]
	return s, ok
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// CloseAll removes and closes every subscriber.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]Subscriber)
	r.mu.Unlock()

	r.metrics.Subscribers(0)
	for _, s := range subs {
		s.Close()
	}
}
