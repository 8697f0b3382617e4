// Location generation. Uniform placement reproduces the classic SWIM layout;
// clustered placement biases locations toward OpenSimplex noise hotspots.
package locations

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/rng"
)

// Placement selects how locations are spread over the area.
type Placement string

const (
	PlacementUniform   Placement = "uniform"
	PlacementClustered Placement = "clustered"
)

// edgeMargin keeps generated locations away from the far edge of each axis.
const edgeMargin = 10

// maxRejections bounds clustered sampling per location before falling back
// to a uniform draw.
const maxRejections = 64

// GenConfig holds location generation parameters.
type GenConfig struct {
	Count      int
	Area       geom.Area
	Placement  Placement
	NoiseScale float64 // clustered only; smaller = larger hotspots
}

// Validate checks the generation parameters.
func (c GenConfig) Validate() error {
	if c.Count <= 0 {
		return fmt.Errorf("location count %d must be positive", c.Count)
	}
	switch c.Placement {
	case PlacementUniform, "":
	case PlacementClustered:
		if c.NoiseScale <= 0 {
			return fmt.Errorf("noise scale %v must be positive", c.NoiseScale)
		}
	default:
		return fmt.Errorf("unknown placement %q", c.Placement)
	}
	return nil
}

// Generate creates cfg.Count locations with zero occupancy. Coordinates are
// whole numbers so the text store round-trips them exactly.
func Generate(cfg GenConfig, s *rng.Stream) []Location {
	locs := make([]Location, cfg.Count)

	var noise opensimplex.Noise
	if cfg.Placement == PlacementClustered {
		noise = opensimplex.NewNormalized(s.Seed())
	}

	for i := range locs {
		var pos geom.Coord
		if noise != nil {
			pos = clusteredPoint(cfg, noise, s)
		} else {
			pos = uniformPoint(cfg.Area, s)
		}
		locs[i] = Location{Position: pos}
	}
	return locs
}

func uniformPoint(a geom.Area, s *rng.Stream) geom.Coord {
	return geom.Coord{
		X: axisDraw(a.X, s),
		Y: axisDraw(a.Y, s),
		Z: axisDraw(a.Z, s),
	}
}

// axisDraw picks an integer in [0, round(extent)-edgeMargin-1], or 0 when the
// axis is flat.
func axisDraw(extent float64, s *rng.Stream) float64 {
	if extent <= 0 {
		return 0
	}
	hi := int(math.Round(extent)) - edgeMargin - 1
	if hi < 0 {
		hi = 0
	}
	return float64(s.IntUniform(0, hi))
}

func clusteredPoint(cfg GenConfig, noise opensimplex.Noise, s *rng.Stream) geom.Coord {
	for attempt := 0; attempt < maxRejections; attempt++ {
		p := uniformPoint(cfg.Area, s)
		density := noise.Eval2(p.X*cfg.NoiseScale, p.Y*cfg.NoiseScale)
		if density*density >= s.Float64() {
			return p
		}
	}
	return uniformPoint(cfg.Area, s)
}
