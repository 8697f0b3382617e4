package engine

import "github.com/talgya/swim-mobility/internal/geom"

// Segment is straight-line travel from From to To over [Start, End].
type Segment struct {
	From  geom.Coord `json:"from"`
	To    geom.Coord `json:"to"`
	Start float64    `json:"start"`
	End   float64    `json:"end"`
}

// PositionAt interpolates the position at time t. Zero-length segments, such
// as waits or fallback moves to the origin, return To.
func (s Segment) PositionAt(t float64) geom.Coord {
	if t >= s.End || s.End <= s.Start {
		return s.To
	}
	if t <= s.Start {
		return s.From
	}
	return s.From.Lerp(s.To, (t-s.Start)/(s.End-s.Start))
}
