package ws

import "testing"

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	a := make(chan any, 4)
	b := make(chan any, 4)
	bus.Subscribe(a, nil)
	bus.Subscribe(b, nil)

	bus.Publish("one")
	bus.Publish("two")

	for name, ch := range map[string]chan any{"a": a, "b": b} {
		if got := len(ch); got != 2 {
			t.Fatalf("subscriber %s holds %d events, want 2", name, got)
		}
		if got := <-ch; got != "one" {
			t.Fatalf("subscriber %s received %v first, want one", name, got)
		}
	}
}

func TestBusDropsForFullSubscriberOnly(t *testing.T) {
	bus := NewBus()
	slow := make(chan any, 1)
	fast := make(chan any, 4)
	drops := 0
	bus.Subscribe(slow, func() { drops++ })
	bus.Subscribe(fast, nil)

	bus.Publish("one")
	bus.Publish("two")
	bus.Publish("three")

	if drops != 2 {
		t.Fatalf("drops = %d, want 2", drops)
	}
	if len(slow) != 1 || len(fast) != 3 {
		t.Fatalf("queue lengths = %d, %d, want 1, 3", len(slow), len(fast))
	}
	if got := <-slow; got != "one" {
		t.Fatalf("slow subscriber kept %v, want the oldest event", got)
	}
}

func TestSubscriptionCancel(t *testing.T) {
	bus := NewBus()
	ch := make(chan any, 2)
	sub := bus.Subscribe(ch, nil)

	bus.Publish("before")
	sub.Cancel()
	sub.Cancel()
	bus.Publish("after")

	if got := len(ch); got != 1 {
		t.Fatalf("cancelled subscription received %d events, want 1", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Has("general") {
		t.Fatal("registry should start empty")
	}

	bus := r.Get("general")
	if bus == nil {
		t.Fatal("Get should create a bus")
	}
	if r.Get("general") != bus {
		t.Fatal("Get should return the same bus for the same name")
	}
	if !r.Has("general") {
		t.Fatal("Has should report the created bus")
	}

	r.Remove("general")
	if r.Has("general") {
		t.Fatal("Remove should drop the bus")
	}
	if r.Get("general") == bus {
		t.Fatal("Get after Remove should create a fresh bus")
	}
}
