// Package sky computes satellite viewing angles (azimuth, elevation) as
// seen from a fixed receiver. Records are produced lazily so arbitrarily
// long epoch lists never force full materialization upstream; re-iterating
// a series recomputes instead of caching.
package sky

import (
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/canopysense/gnssvod/internal/geodesy"
)

// Ephemeris answers satellite position queries. *orbit.Source satisfies
// this; tests substitute fakes.
type Ephemeris interface {
	PositionAt(t time.Time, satID string) (geodesy.CartesianPosition, error)
}

// Record is one satellite's viewing angle at one epoch.
type Record struct {
	Epoch     time.Time
	Satellite string
	Azimuth   float64 // degrees, [0, 360)
	Elevation float64 // degrees, [-90, 90]
}

// Series lazily yields sky records for every (epoch, satellite) pair.
// Pairs without valid ephemeris are omitted, not zero-filled; Omitted
// reports how many were dropped by the most recent iteration.
type Series struct {
	epochs []time.Time
	sats   []string
	eph    Ephemeris

	// ENU rotation terms anchored at the receiver, precomputed once.
	rx, ry, rz     float64
	sinLat, cosLat float64
	sinLon, cosLon float64

	omitted int
}

// Compute prepares a sky series for the given receiver position. The
// receiver must be a valid non-degenerate Cartesian position; the all-zero
// vector fails immediately rather than propagating nonsense angles.
func Compute(receiver geodesy.CartesianPosition, epochs []time.Time, sats []string, eph Ephemeris) (*Series, error) {
	geo, err := geodesy.Cart2Ell(receiver)
	if err != nil {
		return nil, fmt.Errorf("sky: receiver position: %w", err)
	}

	lat := geo.Lat * math.Pi / 180.0
	lon := geo.Lon * math.Pi / 180.0

	return &Series{
		epochs: epochs,
		sats:   sats,
		eph:    eph,
		rx:     receiver.X,
		ry:     receiver.Y,
		rz:     receiver.Z,
		sinLat: math.Sin(lat),
		cosLat: math.Cos(lat),
		sinLon: math.Sin(lon),
		cosLon: math.Cos(lon),
	}, nil
}

// Records returns a restartable sequence over all (epoch, satellite)
// pairs, ordered by epoch then satellite id as given. Each iteration
// resets and recounts the omissions.
func (s *Series) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		s.omitted = 0
		for _, epoch := range s.epochs {
			for _, sat := range s.sats {
				pos, err := s.eph.PositionAt(epoch, sat)
				if err != nil {
					s.omitted++
					continue
				}

				az, el, ok := s.lookAngles(pos)
				if !ok {
					s.omitted++
					continue
				}

				if !yield(Record{Epoch: epoch, Satellite: sat, Azimuth: az, Elevation: el}) {
					return
				}
			}
		}
	}
}

// Omitted returns the number of pairs dropped by the last iteration of
// Records.
func (s *Series) Omitted() int { return s.omitted }

// lookAngles rotates the topocentric vector (satellite - receiver) into
// the local East-North-Up frame and derives azimuth/elevation. A satellite
// coincident with the receiver has no defined direction and is rejected.
func (s *Series) lookAngles(sat geodesy.CartesianPosition) (az, el float64, ok bool) {
	dx := sat.X - s.rx
	dy := sat.Y - s.ry
	dz := sat.Z - s.rz

	east := -s.sinLon*dx + s.cosLon*dy
	north := -s.sinLat*s.cosLon*dx - s.sinLat*s.sinLon*dy + s.cosLat*dz
	up := s.cosLat*s.cosLon*dx + s.cosLat*s.sinLon*dy + s.sinLat*dz

	rng := math.Sqrt(east*east + north*north + up*up)
	if rng == 0 {
		return 0, 0, false
	}

	az = math.Atan2(east, north) * 180.0 / math.Pi
	if az < 0 {
		az += 360
	}
	el = math.Asin(up/rng) * 180.0 / math.Pi
	return az, el, true
}
