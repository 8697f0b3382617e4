// Package geom provides the 3D coordinates and environment extents used by
// the mobility model.
package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Coord is a point in simulation space. Z stays 0 for planar runs.
type Coord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Origin is the zero coordinate, also used as the "no selection" sentinel.
var Origin = Coord{}

// Sub returns c - o.
func (c Coord) Sub(o Coord) Coord {
	return Coord{X: c.X - o.X, Y: c.Y - o.Y, Z: c.Z - o.Z}
}

// Length returns the Euclidean norm of c.
func (c Coord) Length() float64 {
	return math.Sqrt(c.X*c.X + c.Y*c.Y + c.Z*c.Z)
}

// Equal compares stored values exactly. Positions are always copied verbatim,
// so no tolerance is applied.
func (c Coord) Equal(o Coord) bool {
	return c.X == o.X && c.Y == o.Y && c.Z == o.Z
}

// Abs reflects every negative component to its magnitude.
func (c Coord) Abs() Coord {
	return Coord{X: math.Abs(c.X), Y: math.Abs(c.Y), Z: math.Abs(c.Z)}
}

// Lerp returns the point a fraction f of the way from c to o.
func (c Coord) Lerp(o Coord, f float64) Coord {
	return Coord{
		X: c.X + (o.X-c.X)*f,
		Y: c.Y + (o.Y-c.Y)*f,
		Z: c.Z + (o.Z-c.Z)*f,
	}
}

// Planar drops Z.
func (c Coord) Planar() orb.Point {
	return orb.Point{c.X, c.Y}
}

// String formats the coordinate the way it appears in logs.
func (c Coord) String() string {
	return fmt.Sprintf("(%g, %g, %g)", c.X, c.Y, c.Z)
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Coord) float64 {
	return a.Sub(b).Length()
}
