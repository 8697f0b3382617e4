package mobility

import (
	"math"
	"sort"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/rng"
)

// Partition splits weighted locations into neighbors (within limit of Home)
// and visiting locations, each sorted by descending weight. The sort is
// stable so equal weights keep registry order.
func Partition(weighted []WeightedLocation, limit float64) (neighbors, visiting []WeightedLocation) {
	for _, w := range weighted {
		if w.Distance <= limit {
			neighbors = append(neighbors, w)
		} else {
			visiting = append(visiting, w)
		}
	}
	byWeight(neighbors)
	byWeight(visiting)
	return neighbors, visiting
}

func byWeight(set []WeightedLocation) {
	sort.SliceStable(set, func(i, j int) bool {
		return set[i].Weight > set[j].Weight
	})
}

// Selector picks a destination from the partitioned sets. It holds no state;
// every draw goes through the caller's stream.
type Selector struct {
	Alpha                       float64
	Radius                      float64
	PopularityDecisionThreshold int
}

// Decide prefers neighbors with probability alpha, otherwise visiting
// locations, and falls back to the other set when the preferred one yields
// nothing. With both sets empty it returns the origin and ok=false.
func (s Selector) Decide(st *rng.Stream, neighbors, visiting []WeightedLocation) (target, anchor geom.Coord, ok bool) {
	first, second := visiting, neighbors
	if st.Float64() <= s.Alpha {
		first, second = neighbors, visiting
	}
	if target, anchor, ok = s.Choose(st, first); ok {
		return target, anchor, true
	}
	return s.Choose(st, second)
}

// Choose picks one entry of a weight-sorted set and jitters around it. The
// anchor is the entry's stored position; target is the jittered point.
func (s Selector) Choose(st *rng.Stream, set []WeightedLocation) (target, anchor geom.Coord, ok bool) {
	if len(set) == 0 {
		return geom.Origin, geom.Origin, false
	}

	var popular, rest []WeightedLocation
	for _, w := range set {
		if w.Popular() {
			popular = append(popular, w)
		} else {
			rest = append(rest, w)
		}
	}

	pickPopular := false
	if len(popular) > 0 {
		pickPopular = st.IntUniform(0, 10) > 10-s.PopularityDecisionThreshold
	}
	if !pickPopular && len(rest) == 0 {
		pickPopular = true
	}

	category := rest
	if pickPopular {
		category = popular
	}
	chosen := category[st.IntUniform(0, len(category)-1)]

	anchor = chosen.Position
	return s.jitter(st, anchor), anchor, true
}

// jitter moves a point to a random spot within Radius of the anchor in the
// x/y plane. Offsets are whole numbers. A y that lands at or below zero is
// put back on the anchor's y, and any remaining negative component is
// reflected.
func (s Selector) jitter(st *rng.Stream, a geom.Coord) geom.Coord {
	r := s.Radius

	x := a.X - r
	if span := int(r * 2); span >= 1 {
		x += float64(st.IntUniform(0, span-1))
	}

	y := a.Y
	yb := math.Sqrt(r*r - (a.X-x)*(a.X-x))
	if yb > 0 {
		y = a.Y - yb
		if span := int(yb * 2); span >= 1 {
			y += float64(st.IntUniform(0, span-1))
		}
		if y <= 0 {
			y = a.Y
		}
	}

	return geom.Coord{X: x, Y: y, Z: a.Z}.Abs()
}
