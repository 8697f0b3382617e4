package rng

import "fmt"

// Distribution names accepted for wait times.
const (
	DistConstant    = "constant"
	DistUniform     = "uniform"
	DistExponential = "exponential"
)

// Distribution describes a non-negative random duration in sim-seconds.
type Distribution struct {
	Kind  string  `yaml:"distribution" json:"distribution"`
	Value float64 `yaml:"value" json:"value,omitempty"` // constant
	Min   float64 `yaml:"min" json:"min,omitempty"`     // uniform
	Max   float64 `yaml:"max" json:"max,omitempty"`     // uniform
	Mean  float64 `yaml:"mean" json:"mean,omitempty"`   // exponential
}

// Validate checks that the distribution is well formed. A distribution that
// can only yield zero is rejected, since nodes parked at home would then
// never let simulated time advance.
func (d Distribution) Validate() error {
	switch d.Kind {
	case DistConstant:
		if d.Value <= 0 {
			return fmt.Errorf("constant value %v must be positive", d.Value)
		}
	case DistUniform:
		if d.Min < 0 || d.Max < d.Min || d.Max == 0 {
			return fmt.Errorf("uniform range [%v, %v] is invalid", d.Min, d.Max)
		}
	case DistExponential:
		if d.Mean <= 0 {
			return fmt.Errorf("exponential mean %v must be positive", d.Mean)
		}
	default:
		return fmt.Errorf("unknown distribution %q", d.Kind)
	}
	return nil
}

// Draw samples one duration from s.
func (d Distribution) Draw(s *Stream) float64 {
	switch d.Kind {
	case DistUniform:
		return s.Uniform(d.Min, d.Max)
	case DistExponential:
		return s.Exponential(d.Mean)
	default:
		return d.Value
	}
}
