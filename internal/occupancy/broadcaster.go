// Package occupancy propagates occupancy changes made by one node to the
// registry every node reads from, and fans them out to observers.
package occupancy

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/locations"
)

// Direction distinguishes an arrival from a departure.
type Direction int8

const (
	Decrement Direction = -1
	Increment Direction = 1
)

// String returns "inc" or "dec".
func (d Direction) String() string {
	if d == Increment {
		return "inc"
	}
	return "dec"
}

// Delta is a single occupancy change at an anchor position.
type Delta struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Direction Direction `json:"direction"`
	NodeID    int       `json:"node_id"`
	Time      float64   `json:"time"`
}

// NewDelta builds a delta for pos.
func NewDelta(nodeID int, now float64, pos geom.Coord, dir Direction) Delta {
	return Delta{X: pos.X, Y: pos.Y, Z: pos.Z, Direction: dir, NodeID: nodeID, Time: now}
}

// Position returns the anchor the delta refers to.
func (d Delta) Position() geom.Coord {
	return geom.Coord{X: d.X, Y: d.Y, Z: d.Z}
}

// Applied pairs a delta with the outcome it had on the registry.
type Applied struct {
	Delta
	Outcome locations.Outcome `json:"-"`
}

const subscriberBuffer = 256

// Broadcaster applies deltas to the shared registry before returning, so the
// next decision of any node already sees them. Observers receive a copy.
type Broadcaster struct {
	reg *locations.Registry

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Applied

	dropped atomic.Int64
	misses  atomic.Int64
}

// NewBroadcaster creates a broadcaster over reg.
func NewBroadcaster(reg *locations.Registry) *Broadcaster {
	return &Broadcaster{
		reg:  reg,
		subs: make(map[int]chan Applied),
	}
}

// Publish applies d to the registry and notifies subscribers. NotFound and
// NoEffect outcomes are expected when counts race, so they are only logged.
func (b *Broadcaster) Publish(d Delta) locations.Outcome {
	outcome := b.reg.Adjust(d.Position(), int(d.Direction))
	if outcome == locations.NotFound || outcome == locations.NoEffect {
		b.misses.Add(1)
		slog.Debug("occupancy update had no match",
			"node", d.NodeID,
			"position", d.Position(),
			"direction", d.Direction,
			"outcome", outcome,
		)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- Applied{Delta: d, Outcome: outcome}:
		default:
			b.dropped.Add(1)
		}
	}
	return outcome
}

// Subscribe registers an observer. The channel is closed by Unsubscribe.
func (b *Broadcaster) Subscribe() (int, <-chan Applied) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan Applied, subscriberBuffer)
	b.subs[b.nextID] = ch
	return b.nextID, ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Misses returns how many deltas matched no entry or had nothing to decrement.
func (b *Broadcaster) Misses() int64 { return b.misses.Load() }

// Dropped returns how many notifications slow subscribers missed.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }
