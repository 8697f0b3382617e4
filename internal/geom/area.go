package geom

import (
	"math"

	"github.com/paulmach/orb"
)

// Area holds the environment extents. The playground spans [0,X]×[0,Y]×[0,Z].
type Area struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Magnitude is the length of the area diagonal, the largest distance two
// points inside the area can be apart.
func (a Area) Magnitude() float64 {
	return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z)
}

// Bound returns the planar footprint of the area.
func (a Area) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{a.X, a.Y}}
}

// Contains reports whether c lies inside the area, borders included.
func (a Area) Contains(c Coord) bool {
	if !a.Bound().Contains(c.Planar()) {
		return false
	}
	return c.Z >= 0 && c.Z <= a.Z
}
