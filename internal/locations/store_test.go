package locations

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/rng"
)

func TestWriteReadRoundTrip(t *testing.T) {
	locs := sampleLocations()
	var buf bytes.Buffer
	if err := Write(&buf, locs); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Read(&buf, len(locs))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := range locs {
		if !got[i].Position.Equal(locs[i].Position) || got[i].Occupancy != locs[i].Occupancy {
			t.Fatalf("location %d: expected %+v, got %+v", i, locs[i], got[i])
		}
	}
}

func TestWriteFormat(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, []Location{{Position: geom.Coord{X: 12, Y: 7.5}, Occupancy: 3}})
	if got := buf.String(); got != "12 7.5 0 3\n" {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestReadShortInput(t *testing.T) {
	_, err := Read(strings.NewReader("1 2 0 0\n3 4 0"), 2)
	if err == nil {
		t.Fatal("expected an error for a truncated record")
	}
}

func TestReadIgnoresLineLayout(t *testing.T) {
	got, err := Read(strings.NewReader("1 2\n0 5   3\t4 0 0\n"), 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0].Occupancy != 5 || got[1].Position.X != 3 {
		t.Fatalf("unexpected decode %+v", got)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.txt"), 1)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestLoadOrCreateCreatesThenReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "locations.txt")
	cfg := GenConfig{Count: 5, Area: geom.Area{X: 100, Y: 100}, Placement: PlacementUniform}

	r := LoadOrCreate(path, cfg, rng.NewStream("locations", 1))
	if r.Len() != 5 {
		t.Fatalf("expected 5 locations, got %d", r.Len())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}

	again := LoadOrCreate(path, cfg, rng.NewStream("locations", 99))
	for i, l := range again.Locations() {
		if !l.Position.Equal(r.Locations()[i].Position) {
			t.Fatalf("expected existing file to be reused at %d", i)
		}
	}
}

func TestLoadOrCreateFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.txt")
	if err := os.WriteFile(path, []byte("1 2 0 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := GenConfig{Count: 3, Area: geom.Area{X: 100, Y: 100}}
	r := LoadOrCreate(path, cfg, rng.NewStream("locations", 1))
	if r.Len() != 0 {
		t.Fatalf("expected empty registry on unreadable store, got %d", r.Len())
	}
}

func TestLoadOrCreateDropsOutOfAreaRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.txt")
	body := "10 10 0 1\n5000 5 0 4\n90 40 0 0\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := GenConfig{Count: 3, Area: geom.Area{X: 100, Y: 100}}
	r := LoadOrCreate(path, cfg, rng.NewStream("locations", 1))
	if r.Len() != 2 {
		t.Fatalf("expected the far record to be dropped, got %d locations", r.Len())
	}
	if r.Total() != 1 {
		t.Fatalf("expected only in-area occupancy to survive, got %d", r.Total())
	}
	for _, l := range r.Locations() {
		if l.Position.X == 5000 {
			t.Fatalf("out-of-area location kept: %+v", l)
		}
	}
}

func TestWithinAreaKeepsOrder(t *testing.T) {
	area := geom.Area{X: 50, Y: 50, Z: 10}
	locs := []Location{
		{Position: geom.Coord{X: 1, Y: 1}},
		{Position: geom.Coord{X: 2, Y: 2, Z: 11}},
		{Position: geom.Coord{X: -1, Y: 3}},
		{Position: geom.Coord{X: 50, Y: 50, Z: 10}},
	}
	got := WithinArea(locs, area)
	if len(got) != 2 || got[0].Position.X != 1 || got[1].Position.X != 50 {
		t.Fatalf("unexpected filter result %+v", got)
	}
	if len(locs) != 4 || locs[1].Position.Z != 11 {
		t.Fatalf("expected input to be left untouched, got %+v", locs)
	}
}

func TestGenerateWithinMargins(t *testing.T) {
	area := geom.Area{X: 400, Y: 300}
	for _, placement := range []Placement{PlacementUniform, PlacementClustered} {
		cfg := GenConfig{Count: 200, Area: area, Placement: placement, NoiseScale: 0.01}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("%s: %v", placement, err)
		}
		for _, l := range Generate(cfg, rng.NewStream("locations", 5)) {
			p := l.Position
			if p.X < 0 || p.X > 389 || p.Y < 0 || p.Y > 289 || p.Z != 0 {
				t.Fatalf("%s: location %v outside margins", placement, p)
			}
			if p.X != float64(int(p.X)) || p.Y != float64(int(p.Y)) {
				t.Fatalf("%s: expected whole-number coordinates, got %v", placement, p)
			}
			if l.Occupancy != 0 {
				t.Fatalf("%s: expected zero occupancy", placement)
			}
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := GenConfig{Count: 20, Area: geom.Area{X: 500, Y: 500}, Placement: PlacementClustered, NoiseScale: 0.02}
	a := Generate(cfg, rng.NewStream("locations", 8))
	b := Generate(cfg, rng.NewStream("locations", 8))
	for i := range a {
		if !a[i].Position.Equal(b[i].Position) {
			t.Fatalf("location %d differs: %v vs %v", i, a[i].Position, b[i].Position)
		}
	}
}

func TestGenConfigValidate(t *testing.T) {
	if err := (GenConfig{Count: 0}).Validate(); err == nil {
		t.Fatal("expected error for zero count")
	}
	if err := (GenConfig{Count: 1, Placement: "grid"}).Validate(); err == nil {
		t.Fatal("expected error for unknown placement")
	}
	if err := (GenConfig{Count: 1, Placement: PlacementClustered}).Validate(); err == nil {
		t.Fatal("expected error for zero noise scale")
	}
}
