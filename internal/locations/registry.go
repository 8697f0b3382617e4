// Package locations holds the fixed set of known locations and their live
// occupancy counters, shared by every node in a run.
package locations

import (
	"log/slog"
	"sync"

	"github.com/talgya/swim-mobility/internal/geom"
)

// Location is a known spot and the number of nodes currently attributed to it.
type Location struct {
	Position  geom.Coord `json:"position"`
	Occupancy int        `json:"occupancy"`
}

// Outcome reports what an Adjust call did.
type Outcome uint8

const (
	NotFound    Outcome = iota // no entry at that exact coordinate
	Incremented                // count raised by one
	Decremented                // count lowered by one
	NoEffect                   // matched, but nothing to decrement
)

// String returns the outcome name used in logs.
func (o Outcome) String() string {
	switch o {
	case Incremented:
		return "incremented"
	case Decremented:
		return "decremented"
	case NoEffect:
		return "no_effect"
	default:
		return "not_found"
	}
}

// Registry is the shared location store. The scheduler is the only writer,
// but the HTTP API reads concurrently, so access is serialized.
type Registry struct {
	mu   sync.RWMutex
	locs []Location
}

// NewRegistry creates a registry holding a copy of locs. Negative counts are
// raised to zero.
func NewRegistry(locs []Location) *Registry {
	r := &Registry{}
	r.Restore(locs)
	return r
}

// Locations returns a copy of every location in stable order.
func (r *Registry) Locations() []Location {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Location, len(r.locs))
	copy(out, r.locs)
	return out
}

// Len returns the number of known locations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locs)
}

// Total returns the sum of all occupancy counts.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, l := range r.locs {
		total += l.Occupancy
	}
	return total
}

// Adjust applies delta (+1 or -1) to every entry whose position equals pos
// exactly. Increments are unconditional; decrements only apply to positive
// counts, so no entry ever goes negative.
func (r *Registry) Adjust(pos geom.Coord, delta int) Outcome {
	if delta != 1 && delta != -1 {
		slog.Debug("ignoring occupancy delta", "delta", delta, "position", pos)
		return NoEffect
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	matched := false
	incremented := false
	decremented := false
	for i := range r.locs {
		if !r.locs[i].Position.Equal(pos) {
			continue
		}
		matched = true
		if delta > 0 {
			r.locs[i].Occupancy++
			incremented = true
		} else if r.locs[i].Occupancy > 0 {
			r.locs[i].Occupancy--
			decremented = true
		}
	}

	switch {
	case incremented:
		return Incremented
	case decremented:
		return Decremented
	case matched:
		return NoEffect
	default:
		return NotFound
	}
}

// Restore replaces the registry contents, e.g. after loading a snapshot.
func (r *Registry) Restore(locs []Location) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.locs = make([]Location, len(locs))
	copy(r.locs, locs)
	for i := range r.locs {
		if r.locs[i].Occupancy < 0 {
			r.locs[i].Occupancy = 0
		}
	}
}
