package ws

import "sync"

// Bus is a lossy multi-subscriber broadcast queue. Publish never blocks: an
// event that does not fit in a subscriber's buffer is dropped for that
// subscriber only, and the subscriber stays attached.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one subscriber's attachment to a Bus.
type Subscription struct {
	bus    *Bus
	ch     chan<- any
	onDrop func()
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe attaches ch to the bus. onDrop, when not nil, is invoked for every
// event discarded because ch was full.
func (b *Bus) Subscribe(ch chan<- any, onDrop func()) *Subscription {
	sub := &Subscription{bus: b, ch: ch, onDrop: onDrop}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
}

// Publish delivers v to every current subscriber. Delivery happens under the
// bus lock, so all subscribers observe surviving events in one publish order.
func (b *Bus) Publish(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- v:
		default:
			if sub.onDrop != nil {
				sub.onDrop()
			}
		}
	}
}

// Registry tracks per-channel buses, creating them on first use.
type Registry struct {
	mu    sync.Mutex
	buses map[string]*Bus
}

func NewRegistry() *Registry {
	return &Registry{buses: make(map[string]*Bus)}
}

// Get returns the bus for name, creating it if absent.
func (r *Registry) Get(name string) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	bus, ok := r.buses[name]
	if !ok {
		bus = NewBus()
		r.buses[name] = bus
	}
	return bus
}

// Has reports whether a bus for name currently exists.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buses[name]
	return ok
}

// Remove drops the bus for name. Live subscriptions keep their dangling handle
// but see nothing published through the registry afterwards.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buses, name)
}
