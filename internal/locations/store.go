// Text store for the location set: one line per location, "x y z count".
package locations

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/rng"
)

// ErrStorageUnavailable is returned when the location file cannot be read.
var ErrStorageUnavailable = errors.New("location storage unavailable")

// Write encodes locs in the text format.
func Write(w io.Writer, locs []Location) error {
	bw := bufio.NewWriter(w)
	for _, l := range locs {
		_, err := fmt.Fprintf(bw, "%s %s %s %d\n",
			formatFloat(l.Position.X), formatFloat(l.Position.Y), formatFloat(l.Position.Z), l.Occupancy)
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read decodes exactly n locations. Fields are whitespace separated; line
// breaks carry no meaning beyond that.
func Read(r io.Reader, n int) ([]Location, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	next := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return sc.Text(), nil
	}

	locs := make([]Location, n)
	for i := 0; i < n; i++ {
		var fields [4]string
		for j := range fields {
			tok, err := next()
			if err != nil {
				return nil, fmt.Errorf("location %d: %w", i, err)
			}
			fields[j] = tok
		}

		var coords [3]float64
		for j := 0; j < 3; j++ {
			v, err := strconv.ParseFloat(fields[j], 64)
			if err != nil {
				return nil, fmt.Errorf("location %d: %w", i, err)
			}
			coords[j] = v
		}
		count, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("location %d: %w", i, err)
		}
		if count < 0 {
			count = 0
		}

		locs[i].Position.X = coords[0]
		locs[i].Position.Y = coords[1]
		locs[i].Position.Z = coords[2]
		locs[i].Occupancy = count
	}
	return locs, nil
}

// SaveFile writes locs to path, truncating any previous content.
func SaveFile(path string, locs []Location) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f, locs); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// LoadFile reads n locations from path. Failures wrap ErrStorageUnavailable.
func LoadFile(path string, n int) ([]Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer f.Close()

	locs, err := Read(f, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, path, err)
	}
	return locs, nil
}

// LoadOrCreate returns the registry for a run. A missing file is created from
// freshly generated locations and then read back. If the read fails the run
// continues with an empty registry and a warning. Records outside the area
// are dropped with a warning.
func LoadOrCreate(path string, cfg GenConfig, s *rng.Stream) *Registry {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		locs := Generate(cfg, s)
		if err := SaveFile(path, locs); err != nil {
			slog.Warn("locations can't be created", "path", path, "error", err)
		} else {
			slog.Info("locations created", "path", path, "count", len(locs))
		}
	}

	locs, err := LoadFile(path, cfg.Count)
	if err != nil {
		slog.Warn("falling back to empty location set", "path", path, "error", err)
		return NewRegistry(nil)
	}
	locs = WithinArea(locs, cfg.Area)
	slog.Info("locations read", "path", path, "count", len(locs))
	return NewRegistry(locs)
}

// WithinArea returns the locations of locs that lie inside area, in their
// original order, and logs any it drops.
func WithinArea(locs []Location, area geom.Area) []Location {
	kept := locs[:0:0]
	for _, l := range locs {
		if !area.Contains(l.Position) {
			slog.Warn("dropping location outside area", "position", l.Position, "area", area)
			continue
		}
		kept = append(kept, l)
	}
	if dropped := len(locs) - len(kept); dropped > 0 {
		slog.Warn("locations outside area ignored", "dropped", dropped, "kept", len(kept))
	}
	return kept
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
