package locations

import (
	"testing"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/rng"
)

func sampleLocations() []Location {
	return []Location{
		{Position: geom.Coord{X: 10, Y: 10}},
		{Position: geom.Coord{X: 20, Y: 5}, Occupancy: 2},
		{Position: geom.Coord{X: 0.5, Y: 7.25, Z: 3}},
	}
}

func TestAdjustIncrementAndDecrement(t *testing.T) {
	r := NewRegistry(sampleLocations())
	p := geom.Coord{X: 10, Y: 10}

	if got := r.Adjust(p, +1); got != Incremented {
		t.Fatalf("expected Incremented, got %v", got)
	}
	if got := r.Locations()[0].Occupancy; got != 1 {
		t.Fatalf("expected occupancy 1, got %d", got)
	}
	if got := r.Adjust(p, -1); got != Decremented {
		t.Fatalf("expected Decremented, got %v", got)
	}
	if got := r.Adjust(p, -1); got != NoEffect {
		t.Fatalf("expected NoEffect on zero count, got %v", got)
	}
	if got := r.Locations()[0].Occupancy; got != 0 {
		t.Fatalf("expected occupancy to stay at 0, got %d", got)
	}
}

func TestAdjustNotFoundUsesExactMatch(t *testing.T) {
	r := NewRegistry(sampleLocations())
	if got := r.Adjust(geom.Coord{X: 10.0000001, Y: 10}, +1); got != NotFound {
		t.Fatalf("expected NotFound for a near miss, got %v", got)
	}
	if got := r.Adjust(geom.Coord{X: 99, Y: 99}, -1); got != NotFound {
		t.Fatalf("expected NotFound, got %v", got)
	}
	if r.Total() != 2 {
		t.Fatalf("expected total to be unchanged, got %d", r.Total())
	}
}

func TestAdjustRoundTripRestoresCount(t *testing.T) {
	r := NewRegistry(sampleLocations())
	p := geom.Coord{X: 20, Y: 5}
	r.Adjust(p, +1)
	r.Adjust(p, -1)
	if got := r.Locations()[1].Occupancy; got != 2 {
		t.Fatalf("expected round trip to restore 2, got %d", got)
	}
}

func TestAdjustRejectsOtherDeltas(t *testing.T) {
	r := NewRegistry(sampleLocations())
	if got := r.Adjust(geom.Coord{X: 20, Y: 5}, -2); got != NoEffect {
		t.Fatalf("expected NoEffect, got %v", got)
	}
	if got := r.Locations()[1].Occupancy; got != 2 {
		t.Fatalf("expected occupancy 2, got %d", got)
	}
}

func TestOccupancyNeverNegative(t *testing.T) {
	r := NewRegistry(sampleLocations())
	s := rng.NewStream("adjust", 3)
	locs := r.Locations()
	for i := 0; i < 2000; i++ {
		p := locs[s.IntUniform(0, len(locs)-1)].Position
		delta := 1
		if s.Float64() < 0.6 {
			delta = -1
		}
		r.Adjust(p, delta)
		for _, l := range r.Locations() {
			if l.Occupancy < 0 {
				t.Fatalf("occupancy went negative at %v", l.Position)
			}
		}
	}
}

func TestRestoreClampsNegative(t *testing.T) {
	r := NewRegistry([]Location{{Position: geom.Coord{X: 1}, Occupancy: -4}})
	if got := r.Locations()[0].Occupancy; got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
}

func TestLocationsReturnsCopy(t *testing.T) {
	r := NewRegistry(sampleLocations())
	locs := r.Locations()
	locs[0].Occupancy = 50
	if r.Locations()[0].Occupancy != 0 {
		t.Fatal("expected registry to be unaffected by caller mutation")
	}
}
