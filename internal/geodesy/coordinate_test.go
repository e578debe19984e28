package geodesy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference pairs computed against the GRS80 ellipsoid: Paris, Rio, three
// equator points, and both poles.
var coordinatePairs = []struct {
	name      string
	cartesian CartesianPosition
	geodetic  GeodeticPosition
}{
	{
		name:      "paris",
		cartesian: CartesianPosition{X: 4201197.602, Y: 168347.839, Z: 4780461.69},
		geodetic:  GeodeticPosition{Lat: 48.858093, Lon: 2.294694, Height: 360},
	},
	{
		name:      "rio",
		cartesian: CartesianPosition{X: 4283607.333, Y: -4023489.49, Z: -2472000.982},
		geodetic:  GeodeticPosition{Lat: -22.950996, Lon: -43.206499, Height: 713},
	},
	{
		name:      "equator prime meridian",
		cartesian: CartesianPosition{X: 6378137.0, Y: 0, Z: 0},
		geodetic:  GeodeticPosition{Lat: 0, Lon: 0, Height: 0},
	},
	{
		name:      "equator 90W",
		cartesian: CartesianPosition{X: 0, Y: -6378137.0, Z: 0},
		geodetic:  GeodeticPosition{Lat: 0, Lon: -90, Height: 0},
	},
	{
		name:      "north pole",
		cartesian: CartesianPosition{X: 0, Y: 0, Z: 6356752.314},
		geodetic:  GeodeticPosition{Lat: 90, Lon: 0, Height: 0},
	},
	{
		name:      "south pole",
		cartesian: CartesianPosition{X: 0, Y: 0, Z: -6356752.314},
		geodetic:  GeodeticPosition{Lat: -90, Lon: 0, Height: 0},
	},
}

func TestEll2Cart(t *testing.T) {
	for _, tc := range coordinatePairs {
		t.Run(tc.name, func(t *testing.T) {
			got := Ell2Cart(tc.geodetic)
			assert.InDelta(t, tc.cartesian.X, got.X, 1e-3)
			assert.InDelta(t, tc.cartesian.Y, got.Y, 1e-3)
			assert.InDelta(t, tc.cartesian.Z, got.Z, 1e-3)
		})
	}
}

func TestCart2Ell(t *testing.T) {
	for _, tc := range coordinatePairs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Cart2Ell(tc.cartesian)
			require.NoError(t, err)
			assert.InDelta(t, tc.geodetic.Lat, got.Lat, 1e-6)
			assert.InDelta(t, tc.geodetic.Lon, got.Lon, 1e-6)
			assert.InDelta(t, tc.geodetic.Height, got.Height, 1e-3)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for lat := -89.0; lat <= 89.0; lat += 11.0 {
		for lon := 0.0; lon < 360.0; lon += 45.0 {
			for _, h := range []float64{-1000, 0, 471.25, 9000} {
				p := GeodeticPosition{Lat: lat, Lon: lon, Height: h}
				back, err := Cart2Ell(Ell2Cart(p))
				require.NoError(t, err)

				assert.InDelta(t, p.Lat, back.Lat, 1e-6)
				// Longitude comes back in (-180, 180].
				dLon := math.Mod(p.Lon-back.Lon+540, 360) - 180
				assert.InDelta(t, 0, dLon, 1e-6)
				assert.InDelta(t, p.Height, back.Height, 1e-3)
			}
		}
	}
}

func TestCart2EllDegenerate(t *testing.T) {
	_, err := Cart2Ell(CartesianPosition{})
	require.ErrorIs(t, err, ErrInvalidPosition)
}

func TestReceiverPositionProvenance(t *testing.T) {
	p := ReceiverPosition{CartesianPosition: CartesianPosition{X: 1}, Source: PositionExplicit}
	assert.Equal(t, "explicit", p.Source.String())
	p.Source = PositionFileDerived
	assert.Equal(t, "file-derived", p.Source.String())
}
