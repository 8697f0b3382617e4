// Package mobility implements the SWIM destination decision engine: location
// weights, neighbor/visiting classification, popularity-biased selection with
// radius jitter, and the per-node wait/move state machine.
package mobility

import (
	"errors"
	"fmt"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/rng"
)

// ErrConfiguration marks parameter sets the engine cannot run with.
var ErrConfiguration = errors.New("configuration error")

// PopularityThreshold is the normalized weight above which a location counts
// as popular.
const PopularityThreshold = 0.75

// Params are the resolved model parameters shared by every node in a run.
type Params struct {
	Speed                       float64
	Alpha                       float64
	Radius                      float64
	PopularityDecisionThreshold int
	NeighbourLocationLimit      float64
	ReturnHomePercentage        float64
	Area                        geom.Area
	Population                  int
	WaitTime                    rng.Distribution
}

// Normalize applies the radius correction: a zero radius means 1.
func (p Params) Normalize() Params {
	if p.Radius == 0 {
		p.Radius = 1
	}
	return p
}

// Validate reports the first out-of-range parameter. Errors wrap
// ErrConfiguration.
func (p Params) Validate() error {
	switch {
	case !(p.Speed > 0):
		return fmt.Errorf("%w: speed %v must be positive", ErrConfiguration, p.Speed)
	case !(p.Alpha >= 0 && p.Alpha <= 1):
		return fmt.Errorf("%w: alpha %v outside [0,1]", ErrConfiguration, p.Alpha)
	case p.Radius < 0:
		return fmt.Errorf("%w: radius %v is negative", ErrConfiguration, p.Radius)
	case p.PopularityDecisionThreshold < 0 || p.PopularityDecisionThreshold > 10:
		return fmt.Errorf("%w: popularity decision threshold %d outside [0,10]", ErrConfiguration, p.PopularityDecisionThreshold)
	case p.NeighbourLocationLimit < 0:
		return fmt.Errorf("%w: neighbour location limit %v is negative", ErrConfiguration, p.NeighbourLocationLimit)
	case !(p.ReturnHomePercentage >= 0 && p.ReturnHomePercentage <= 100):
		return fmt.Errorf("%w: return home percentage %v outside [0,100]", ErrConfiguration, p.ReturnHomePercentage)
	case p.Area.X < 0 || p.Area.Y < 0 || p.Area.Z < 0:
		return fmt.Errorf("%w: area extents %+v must not be negative", ErrConfiguration, p.Area)
	case p.Population <= 0:
		return fmt.Errorf("%w: population %d must be positive", ErrConfiguration, p.Population)
	}
	if err := p.WaitTime.Validate(); err != nil {
		return fmt.Errorf("%w: wait time: %v", ErrConfiguration, err)
	}
	return nil
}

// Model bundles the validated parameters with the derived weight model and
// selector. It is read-only and shared by all nodes.
type Model struct {
	Params   Params
	Weights  WeightModel
	Selector Selector
}

// NewModel normalizes and validates p.
func NewModel(p Params) (*Model, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	wm, err := NewWeightModel(p.Alpha, p.Area, p.Population)
	if err != nil {
		return nil, err
	}
	return &Model{
		Params:  p,
		Weights: wm,
		Selector: Selector{
			Alpha:                       p.Alpha,
			Radius:                      p.Radius,
			PopularityDecisionThreshold: p.PopularityDecisionThreshold,
		},
	}, nil
}
