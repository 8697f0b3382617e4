package occupancy

import (
	"testing"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/locations"
)

func newRegistry() *locations.Registry {
	return locations.NewRegistry([]locations.Location{
		{Position: geom.Coord{X: 10, Y: 10}},
		{Position: geom.Coord{X: 30, Y: 40}},
	})
}

func TestPublishAppliesBeforeReturning(t *testing.T) {
	reg := newRegistry()
	b := NewBroadcaster(reg)

	p := geom.Coord{X: 30, Y: 40}
	if got := b.Publish(NewDelta(1, 0, p, Increment)); got != locations.Incremented {
		t.Fatalf("expected Incremented, got %v", got)
	}
	if got := reg.Locations()[1].Occupancy; got != 1 {
		t.Fatalf("expected registry to reflect delta, got %d", got)
	}
}

func TestPublishCountsMisses(t *testing.T) {
	b := NewBroadcaster(newRegistry())
	b.Publish(NewDelta(1, 0, geom.Coord{X: 1, Y: 1}, Increment))
	b.Publish(NewDelta(1, 0, geom.Coord{X: 10, Y: 10}, Decrement))
	if b.Misses() != 2 {
		t.Fatalf("expected 2 misses, got %d", b.Misses())
	}
}

func TestSubscribersReceiveDeltas(t *testing.T) {
	b := NewBroadcaster(newRegistry())
	id, ch := b.Subscribe()

	b.Publish(NewDelta(7, 12.5, geom.Coord{X: 10, Y: 10}, Increment))

	select {
	case got := <-ch:
		if got.NodeID != 7 || got.Time != 12.5 || got.Outcome != locations.Incremented {
			t.Fatalf("unexpected notification %+v", got)
		}
	default:
		t.Fatal("expected a buffered notification")
	}

	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	b.Unsubscribe(id)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(newRegistry())
	b.Subscribe()
	p := geom.Coord{X: 10, Y: 10}
	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(NewDelta(1, float64(i), p, Increment))
	}
	if b.Dropped() != 5 {
		t.Fatalf("expected 5 dropped notifications, got %d", b.Dropped())
	}
}
