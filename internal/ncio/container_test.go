package ncio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopysense/gnssvod/internal/table"
)

func buildDataset(rows int) *Dataset {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tbl := table.New("S1", "Azimuth", "Elevation")
	for i := 0; i < rows; i++ {
		values := map[string]float64{
			"S1":        40 + math.Sin(float64(i)/10)*5,
			"Azimuth":   math.Mod(float64(i)*3.7, 360),
			"Elevation": 10 + math.Mod(float64(i), 70),
		}
		if i%17 == 0 {
			delete(values, "S1")
		}
		tbl.AppendRow(t0.Add(time.Duration(i)*15*time.Second), "G01", values)
	}
	return &Dataset{
		Table: tbl,
		Attrs: map[string]string{"station": "Laeg1_Grnd"},
		Units: map[string]string{"S1": "dB-Hz", "Azimuth": "degrees", "Elevation": "degrees"},
	}
}

func TestRoundTripNone(t *testing.T) {
	ds := buildDataset(50)
	path := filepath.Join(t.TempDir(), "obs.gvd")
	require.NoError(t, Write(path, ds, None()))

	back, err := Read(path)
	require.NoError(t, err)

	require.Equal(t, ds.Table.Len(), back.Table.Len())
	assert.Equal(t, ds.Table.VarNames, back.Table.VarNames)
	assert.Equal(t, ds.Attrs, back.Attrs)
	assert.Equal(t, "dB-Hz", back.Units["S1"])
	assert.Equal(t, ds.Table.Epochs, back.Table.Epochs)
	assert.Equal(t, ds.Table.Sats, back.Table.Sats)

	// Raw float64 storage is exact, NaNs included.
	for i, v := range ds.Table.Vars["S1"] {
		got := back.Table.Vars["S1"][i]
		if math.IsNaN(v) {
			assert.True(t, math.IsNaN(got))
		} else {
			assert.Equal(t, v, got)
		}
	}
}

func TestRoundTripDefault(t *testing.T) {
	ds := buildDataset(200)
	path := filepath.Join(t.TempDir(), "obs.gvd")
	require.NoError(t, Write(path, ds, Default()))

	back, err := Read(path)
	require.NoError(t, err)

	// Default quantizes S1/Azimuth/Elevation to one decimal.
	for _, name := range []string{"S1", "Azimuth", "Elevation"} {
		for i, v := range ds.Table.Vars[name] {
			got := back.Table.Vars[name][i]
			if math.IsNaN(v) {
				assert.True(t, math.IsNaN(got))
			} else {
				assert.InDelta(t, v, got, 0.051)
			}
		}
	}
}

func TestDefaultSmallerThanNone(t *testing.T) {
	ds := buildDataset(500)
	dir := t.TempDir()

	pathDefault := filepath.Join(dir, "default.gvd")
	pathNone := filepath.Join(dir, "none.gvd")
	require.NoError(t, Write(pathDefault, ds, Default()))
	require.NoError(t, Write(pathNone, ds, None()))

	sizeDefault := fileSize(t, pathDefault)
	sizeNone := fileSize(t, pathNone)
	assert.LessOrEqual(t, sizeDefault, sizeNone)
}

func TestExplicitEncodingHonoredInMetadata(t *testing.T) {
	ds := buildDataset(100)
	path := filepath.Join(t.TempDir(), "obs.gvd")

	enc := Explicit(map[string]VarEncoding{
		"S1":      {Codec: CodecZstd, Level: 3, Scale: 0.1},
		"Azimuth": {Codec: CodecNone},
	})
	require.NoError(t, Write(path, ds, enc))

	hdr, err := ReadHeader(path)
	require.NoError(t, err)

	byName := make(map[string]VarEncoding)
	for _, vm := range hdr.Vars {
		byName[vm.Name] = vm.Encoding
	}
	assert.Equal(t, CodecZstd, byName["S1"].Codec)
	assert.Equal(t, 0.1, byName["S1"].Scale)
	assert.Equal(t, CodecNone, byName["Azimuth"].Codec)
	assert.Equal(t, CodecNone, byName["Elevation"].Codec, "unlisted variable stays raw")

	back, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, ds.Table.Len(), back.Table.Len())
}

func TestReadHeaderRangeScan(t *testing.T) {
	ds := buildDataset(10)
	path := filepath.Join(t.TempDir(), "obs.gvd")
	require.NoError(t, Write(path, ds, Default()))

	hdr, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, 10, hdr.Rows)
	assert.Equal(t, ds.Table.Epochs[0], hdr.EpochStart)
	assert.Equal(t, ds.Table.Epochs[9], hdr.EpochEnd)
	assert.Equal(t, FillValue, hdr.FillValue)
}

func TestStationColumnRoundTrip(t *testing.T) {
	grnd := table.New("S1")
	grnd.AppendRow(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "G01", map[string]float64{"S1": 38})
	twr := table.New("S1")
	twr.AppendRow(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "G01", map[string]float64{"S1": 45})
	stacked := table.Stack([]string{"grnd", "twr"}, []*table.Table{grnd, twr})

	path := filepath.Join(t.TempDir(), "pair.gvd")
	require.NoError(t, Write(path, &Dataset{Table: stacked}, None()))

	back, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"grnd", "twr"}, back.Table.Stations)
}

func TestInvalidInputs(t *testing.T) {
	t.Run("empty dataset", func(t *testing.T) {
		err := Write(filepath.Join(t.TempDir(), "x.gvd"), &Dataset{Table: table.New("S1")}, None())
		require.Error(t, err)
	})

	t.Run("unknown codec", func(t *testing.T) {
		ds := buildDataset(5)
		enc := Explicit(map[string]VarEncoding{"S1": {Codec: "lz77"}})
		err := Write(filepath.Join(t.TempDir(), "x.gvd"), ds, enc)
		require.Error(t, err)
	})

	t.Run("unknown policy string", func(t *testing.T) {
		_, err := ParseEncoding("fastest")
		require.Error(t, err)
	})

	t.Run("not a container", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.gvd")
		require.NoError(t, os.WriteFile(path, []byte("hello world, definitely not a container"), 0o644))
		_, err := Read(path)
		require.Error(t, err)
	})
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}
