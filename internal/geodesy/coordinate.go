// Package geodesy converts between geodetic and Earth-centered Cartesian
// receiver coordinates on the GRS80 reference ellipsoid. All positions are
// metres and degrees; the ellipsoid constants are fixed at build time.
package geodesy

import (
	"errors"
	"fmt"
	"math"
)

// GRS80 ellipsoid parameters.
const (
	grs80A  = 6378137.0             // semi-major axis (meters)
	grs80F  = 1.0 / 298.257222101   // flattening
	grs80E2 = grs80F * (2 - grs80F) // first eccentricity squared
)

// ErrInvalidPosition is returned for degenerate Cartesian input (the
// all-zero vector), which historically came from observation files with a
// missing approximate position header.
var ErrInvalidPosition = errors.New("geodesy: degenerate cartesian position")

// GeodeticPosition is an ellipsoidal position in degrees and metres.
type GeodeticPosition struct {
	Lat    float64 // degrees, positive north
	Lon    float64 // degrees, positive east
	Height float64 // metres above the ellipsoid
}

// CartesianPosition is an Earth-centered Earth-fixed position in metres.
type CartesianPosition struct {
	X, Y, Z float64
}

// IsZero reports whether the position is the all-zero vector.
func (c CartesianPosition) IsZero() bool {
	return c.X == 0 && c.Y == 0 && c.Z == 0
}

func (c CartesianPosition) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", c.X, c.Y, c.Z)
}

// PositionSource records where a receiver position came from.
type PositionSource int

const (
	// PositionExplicit marks a user-supplied position, used unchanged for
	// every epoch and every file of a station.
	PositionExplicit PositionSource = iota
	// PositionFileDerived marks a position read from an observation file
	// header, which may vary between files.
	PositionFileDerived
)

func (s PositionSource) String() string {
	if s == PositionExplicit {
		return "explicit"
	}
	return "file-derived"
}

// ReceiverPosition is a Cartesian antenna position tagged with provenance.
type ReceiverPosition struct {
	CartesianPosition
	Source PositionSource
}

// Ell2Cart converts a geodetic position to Earth-centered Cartesian metres.
func Ell2Cart(p GeodeticPosition) CartesianPosition {
	lat := p.Lat * math.Pi / 180.0
	lon := p.Lon * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := grs80A / math.Sqrt(1-grs80E2*sinLat*sinLat)

	return CartesianPosition{
		X: (n + p.Height) * cosLat * math.Cos(lon),
		Y: (n + p.Height) * cosLat * math.Sin(lon),
		Z: (n*(1-grs80E2) + p.Height) * sinLat,
	}
}

// Cart2Ell converts an Earth-centered Cartesian position to geodetic
// coordinates using the iterative Bowring method, which converges in a few
// iterations anywhere on or near the Earth, poles included. The all-zero
// vector has no geodetic counterpart and returns ErrInvalidPosition.
func Cart2Ell(c CartesianPosition) (GeodeticPosition, error) {
	if c.IsZero() {
		return GeodeticPosition{}, ErrInvalidPosition
	}

	lon := math.Atan2(c.Y, c.X)
	p := math.Sqrt(c.X*c.X + c.Y*c.Y)

	lat := math.Atan2(c.Z, p*(1-grs80E2))
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := grs80A / math.Sqrt(1-grs80E2*sinLat*sinLat)
		lat = math.Atan2(c.Z+grs80E2*n*sinLat, p)
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	n := grs80A / math.Sqrt(1-grs80E2*sinLat*sinLat)

	// Near the poles p/cosLat blows up; derive the height from Z instead.
	var height float64
	if math.Abs(cosLat) > 1e-10 {
		height = p/cosLat - n
	} else {
		height = math.Abs(c.Z)/math.Abs(sinLat) - n*(1-grs80E2)
	}

	return GeodeticPosition{
		Lat:    lat * 180.0 / math.Pi,
		Lon:    lon * 180.0 / math.Pi,
		Height: height,
	}, nil
}
