// Package config loads the run configuration from YAML and resolves it into
// the model parameters.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/locations"
	"github.com/talgya/swim-mobility/internal/mobility"
	"github.com/talgya/swim-mobility/internal/rng"
)

// ErrConfiguration marks a configuration the simulator refuses to start with.
var ErrConfiguration = mobility.ErrConfiguration

// AdminKeyEnv names the environment variable holding the API admin token.
const AdminKeyEnv = "SWIMSIM_ADMIN_KEY"

// Config is the full run configuration.
type Config struct {
	Seed                        int64            `yaml:"seed"`
	Hosts                       int              `yaml:"hosts"`
	Speed                       float64          `yaml:"speed"`
	Alpha                       float64          `yaml:"alpha"`
	NoOfLocations               int              `yaml:"no_of_locations"`
	Radius                      float64          `yaml:"radius"`
	PopularityDecisionThreshold int              `yaml:"popularity_decision_threshold"`
	NeighbourLocationLimit      float64          `yaml:"neighbour_location_limit"`
	ReturnHomePercentage        float64          `yaml:"return_home_percentage"`
	MaxArea                     geom.Area        `yaml:"max_area"`
	WaitTime                    rng.Distribution `yaml:"wait_time"`
	Locations                   LocationsConfig  `yaml:"locations"`
	Database                    string           `yaml:"database"`
	API                         APIConfig        `yaml:"api"`
	Run                         RunConfig        `yaml:"run"`

	AdminKey string `yaml:"-" json:"-"`
}

// LocationsConfig controls the location file and placement.
type LocationsConfig struct {
	Path       string              `yaml:"path"`
	Placement  locations.Placement `yaml:"placement"`
	NoiseScale float64             `yaml:"noise_scale"`
}

// APIConfig controls the HTTP API. Port 0 disables it.
type APIConfig struct {
	Port int `yaml:"port"`
}

// RunConfig controls the scheduler.
type RunConfig struct {
	Duration       float64 `yaml:"duration"`        // simulated seconds per invocation; 0 runs until stopped
	ReportInterval float64 `yaml:"report_interval"` // simulated seconds between reports and auto-saves
	Realtime       float64 `yaml:"realtime"`        // simulated seconds per wall second; 0 = unpaced
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Seed:                        42,
		Hosts:                       20,
		Speed:                       1.5,
		Alpha:                       0.5,
		NoOfLocations:               50,
		Radius:                      5,
		PopularityDecisionThreshold: 7,
		NeighbourLocationLimit:      200,
		ReturnHomePercentage:        15,
		MaxArea:                     geom.Area{X: 1000, Y: 1000, Z: 0},
		WaitTime:                    rng.Distribution{Kind: rng.DistUniform, Min: 60, Max: 3600},
		Locations: LocationsConfig{
			Path:       "data/locations.txt",
			Placement:  locations.PlacementUniform,
			NoiseScale: 0.01,
		},
		Database: "data/swim.db",
		API:      APIConfig{Port: 8080},
		Run: RunConfig{
			Duration:       7 * 86400,
			ReportInterval: 3600,
		},
	}
}

// Load reads path over the defaults, picks up the admin key from the
// environment, and validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.AdminKey = os.Getenv(AdminKeyEnv)

	if cfg.Radius == 0 {
		cfg.Radius = 1
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field. Errors wrap ErrConfiguration.
func (c Config) Validate() error {
	if c.NoOfLocations <= 0 {
		return fmt.Errorf("%w: no_of_locations %d must be positive", ErrConfiguration, c.NoOfLocations)
	}
	if c.Hosts <= 0 {
		return fmt.Errorf("%w: hosts %d must be positive", ErrConfiguration, c.Hosts)
	}
	if c.Run.Duration < 0 || c.Run.ReportInterval < 0 || c.Run.Realtime < 0 {
		return fmt.Errorf("%w: run settings %+v must not be negative", ErrConfiguration, c.Run)
	}
	if c.Locations.Path == "" {
		return fmt.Errorf("%w: locations.path is empty", ErrConfiguration)
	}
	if err := c.GenConfig().Validate(); err != nil {
		return fmt.Errorf("%w: locations: %v", ErrConfiguration, err)
	}
	if _, err := mobility.NewModel(c.Params()); err != nil {
		return err
	}
	return nil
}

// Params converts the configuration into model parameters.
func (c Config) Params() mobility.Params {
	return mobility.Params{
		Speed:                       c.Speed,
		Alpha:                       c.Alpha,
		Radius:                      c.Radius,
		PopularityDecisionThreshold: c.PopularityDecisionThreshold,
		NeighbourLocationLimit:      c.NeighbourLocationLimit,
		ReturnHomePercentage:        c.ReturnHomePercentage,
		Area:                        c.MaxArea,
		Population:                  c.Hosts,
		WaitTime:                    c.WaitTime,
	}
}

// ModelFor builds the model for a run holding population nodes, which differs
// from Hosts when a saved run is resumed under an edited config.
func (c Config) ModelFor(population int) (*mobility.Model, error) {
	p := c.Params()
	p.Population = population
	return mobility.NewModel(p)
}

// GenConfig returns the location generation settings.
func (c Config) GenConfig() locations.GenConfig {
	return locations.GenConfig{
		Count:      c.NoOfLocations,
		Area:       c.MaxArea,
		Placement:  c.Locations.Placement,
		NoiseScale: c.Locations.NoiseScale,
	}
}
