package orbit

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/canopysense/gnssvod/internal/geodesy"
)

// Source is a resolved ephemeris handle for a bounded time window. It is
// immutable once built and safe for concurrent queries.
type Source struct {
	sats     map[string]satellite.Satellite
	coverage Window
	paths    []string
}

// newSource parses the ephemeris files into per-satellite propagators.
// Files hold named TLE groups: a satellite id line followed by the two
// element lines. Malformed groups are skipped; a source with no usable
// satellites is an error.
func newSource(paths []string, coverage Window) (*Source, error) {
	sats := make(map[string]satellite.Satellite)

	for _, path := range paths {
		if err := parseEphemerisFile(path, sats); err != nil {
			return nil, fmt.Errorf("orbit: reading %s: %w", path, err)
		}
	}

	if len(sats) == 0 {
		return nil, fmt.Errorf("orbit: no usable satellites in %d ephemeris file(s)", len(paths))
	}

	return &Source{sats: sats, coverage: coverage, paths: paths}, nil
}

func parseEphemerisFile(path string, sats map[string]satellite.Satellite) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	for i := 0; i+2 < len(lines); i += 3 {
		id, line1, line2 := lines[i], lines[i+1], lines[i+2]
		if validateElementLines(line1, line2) != nil {
			continue
		}

		sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
		if sat.Error != 0 {
			continue
		}

		// Later files win so a fresher day's elements replace older ones.
		sats[id] = sat
	}
	return nil
}

// validateElementLines rejects malformed element lines before they reach
// the propagation library, which terminates the process on parse errors.
func validateElementLines(line1, line2 string) error {
	if len(line1) != 69 || len(line2) != 69 {
		return fmt.Errorf("element line length %d/%d, expected 69", len(line1), len(line2))
	}
	if line1[0] != '1' || line2[0] != '2' {
		return fmt.Errorf("element lines must start with '1' and '2'")
	}
	return nil
}

// Coverage returns the half-open window the source answers queries for.
func (s *Source) Coverage() Window { return s.coverage }

// Satellites returns the ids the source can propagate, in no fixed order.
func (s *Source) Satellites() []string {
	ids := make([]string, 0, len(s.sats))
	for id := range s.sats {
		ids = append(ids, id)
	}
	return ids
}

// PositionAt returns the satellite's Earth-centered Earth-fixed position in
// metres at the given instant. Queries outside the source's coverage, for
// unknown satellites, or whose propagation diverges fail with an
// UnavailableError.
func (s *Source) PositionAt(t time.Time, satID string) (geodesy.CartesianPosition, error) {
	if !s.coverage.Contains(t) {
		return geodesy.CartesianPosition{}, &UnavailableError{Satellite: satID, Epoch: t}
	}
	sat, ok := s.sats[satID]
	if !ok {
		return geodesy.CartesianPosition{}, &UnavailableError{Satellite: satID, Epoch: t}
	}

	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	if !saneECI(posECI) {
		return geodesy.CartesianPosition{}, &UnavailableError{Satellite: satID, Epoch: t}
	}

	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	const kmToM = 1000.0
	return geodesy.CartesianPosition{
		X: posECEF.X * kmToM,
		Y: posECEF.Y * kmToM,
		Z: posECEF.Z * kmToM,
	}, nil
}

// saneECI rejects NaN/Inf output and positions outside the plausible
// 6200-50000 km band; the propagator reports errors this way because
// Propagate takes its satellite by value.
func saneECI(v satellite.Vector3) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	mag := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	return mag > 6200.0 && mag < 50000.0
}
