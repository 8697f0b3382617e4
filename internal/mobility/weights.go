package mobility

import (
	"fmt"
	"math"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/locations"
)

// WeightedLocation is a location snapshot with its weight for one node and
// one decision step.
type WeightedLocation struct {
	Position  geom.Coord
	Occupancy int
	Distance  float64 // from Home
	Weight    float64 // normalized by the model's max weight
}

// Popular reports whether the location is above the popularity threshold.
func (w WeightedLocation) Popular() bool {
	return w.Weight > PopularityThreshold
}

// WeightModel scores locations by distance from Home and current occupancy.
//
//	weight = (alpha·distance + (1-alpha)·occupancy) / maxWeight
//	maxWeight = alpha·|area| + (1-alpha)·population
type WeightModel struct {
	alpha     float64
	maxWeight float64
}

// NewWeightModel fails fast when the normalizer would be zero or not finite.
func NewWeightModel(alpha float64, area geom.Area, population int) (WeightModel, error) {
	maxWeight := alpha*area.Magnitude() + (1-alpha)*float64(population)
	if maxWeight == 0 || math.IsNaN(maxWeight) || math.IsInf(maxWeight, 0) {
		return WeightModel{}, fmt.Errorf("%w: max weight is %v (alpha=%v, area=%+v, population=%d)",
			ErrConfiguration, maxWeight, alpha, area, population)
	}
	return WeightModel{alpha: alpha, maxWeight: maxWeight}, nil
}

// MaxWeight returns the normalizer.
func (m WeightModel) MaxWeight() float64 { return m.maxWeight }

// Weight scores a single location. The result is not clamped.
func (m WeightModel) Weight(distance float64, occupancy int) float64 {
	return (m.alpha*distance + (1-m.alpha)*float64(occupancy)) / m.maxWeight
}

// Compute scores every location in registry order. Positions are copied
// verbatim so occupancy updates can match them exactly later.
func (m WeightModel) Compute(home geom.Coord, locs []locations.Location) []WeightedLocation {
	out := make([]WeightedLocation, len(locs))
	for i, l := range locs {
		d := geom.Distance(l.Position, home)
		out[i] = WeightedLocation{
			Position:  l.Position,
			Occupancy: l.Occupancy,
			Distance:  d,
			Weight:    m.Weight(d, l.Occupancy),
		}
	}
	return out
}
