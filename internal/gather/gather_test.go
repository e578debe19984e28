package gather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopysense/gnssvod/internal/ncio"
	"github.com/canopysense/gnssvod/internal/table"
)

var horizon = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// recorder collects load and export events in order so tests can verify
// the gatherer works interval by interval.
type recorder struct {
	events []string
}

type fakeArtifact struct {
	info ArtifactInfo
	data *table.Table
}

type fakeStore struct {
	rec       *recorder
	artifacts map[string][]fakeArtifact
	loadErr   map[string]error // keyed by artifact path
}

func (s *fakeStore) List(station string) ([]ArtifactInfo, error) {
	arts, ok := s.artifacts[station]
	if !ok {
		return nil, fmt.Errorf("unknown station %s", station)
	}
	infos := make([]ArtifactInfo, len(arts))
	for i, a := range arts {
		infos[i] = a.info
	}
	return infos, nil
}

func (s *fakeStore) Load(info ArtifactInfo) (*table.Table, error) {
	if s.rec != nil {
		s.rec.events = append(s.rec.events, "load")
	}
	if err, ok := s.loadErr[info.Path]; ok {
		return nil, err
	}
	for _, a := range s.artifacts[info.Station] {
		if a.info.Path == info.Path {
			return a.data, nil
		}
	}
	return nil, fmt.Errorf("no artifact at %s", info.Path)
}

type fakeExporter struct {
	rec   *recorder
	paths []string
}

func (e *fakeExporter) Export(path string, ds *ncio.Dataset, enc ncio.Encoding) error {
	if e.rec != nil {
		e.rec.events = append(e.rec.events, "export")
	}
	e.paths = append(e.paths, path)
	return nil
}

// artifact builds one synthetic artifact with a single S1 row per epoch.
func artifact(station, path string, epochs ...time.Time) fakeArtifact {
	t := table.New("S1")
	for i, e := range epochs {
		t.AppendRow(e, "G01", map[string]float64{"S1": 40 + float64(i)})
	}
	first, last := epochs[0], epochs[len(epochs)-1]
	return fakeArtifact{
		info: ArtifactInfo{Path: path, Station: station, EpochStart: first, EpochEnd: last},
		data: t,
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "gather: ", log.LstdFlags)
}

func TestGatherStacksClipsAndSorts(t *testing.T) {
	day := horizon
	// twr1 has rows straddling the day boundary; grnd1 has duplicates.
	twr := artifact("twr1", "twr1/a.gvd",
		day.Add(-time.Hour), day, day.Add(6*time.Hour), day.Add(23*time.Hour), day.Add(24*time.Hour))
	dup := table.New("S1")
	dup.AppendRow(day.Add(2*time.Hour), "G01", map[string]float64{"S1": 41})
	dup.AppendRow(day.Add(2*time.Hour), "G01", map[string]float64{"S1": 99})
	grnd := fakeArtifact{
		info: ArtifactInfo{Path: "grnd1/a.gvd", Station: "grnd1", EpochStart: day.Add(2 * time.Hour), EpochEnd: day.Add(2 * time.Hour)},
		data: dup,
	}
	store := &fakeStore{artifacts: map[string][]fakeArtifact{
		"twr1":  {twr},
		"grnd1": {grnd},
	}}

	g := NewGatherer(store, &fakeExporter{}, quietLogger())
	results, sum, err := g.Run(context.Background(), Options{
		Cases:        []Case{{Name: "site1", Stations: []string{"twr1", "grnd1"}}},
		Start:        day,
		End:          day.AddDate(0, 0, 1),
		Interval:     24 * time.Hour,
		OutputResult: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Intervals)

	got := results["site1"]
	require.Len(t, got, 1)
	data := got[0].Data
	require.NotNil(t, data)

	// Rows before the start and at the end boundary are clipped; the
	// duplicate keeps its first value.
	assert.Equal(t, 4, data.Len())
	require.NotNil(t, data.Stations)
	assert.Equal(t, []string{"twr1", "twr1", "twr1", "grnd1"}, data.Stations)
	assert.Equal(t, 41.0, data.Vars["S1"][3])
}

func TestMemoryBoundOverManyIntervals(t *testing.T) {
	const intervals = 1000
	rec := &recorder{}
	store := &fakeStore{rec: rec, artifacts: map[string][]fakeArtifact{}}
	for _, station := range []string{"twr1", "grnd1"} {
		for i := 0; i < intervals; i++ {
			e := horizon.Add(time.Duration(i) * time.Hour)
			path := fmt.Sprintf("%s/%d.gvd", station, i)
			store.artifacts[station] = append(store.artifacts[station], artifact(station, path, e, e.Add(30*time.Minute)))
		}
	}
	exp := &fakeExporter{rec: rec}

	g := NewGatherer(store, exp, quietLogger())
	results, sum, err := g.Run(context.Background(), Options{
		Cases:     []Case{{Name: "site1", Stations: []string{"twr1", "grnd1"}}},
		Start:     horizon,
		End:       horizon.Add(intervals * time.Hour),
		Interval:  time.Hour,
		OutputDir: "out",
		Encoding:  ncio.Default(),
	})
	require.NoError(t, err)
	assert.Equal(t, intervals, sum.Intervals)

	// Every interval's loads complete before its export, and no interval
	// loads more than one artifact per station.
	maxRun, run := 0, 0
	for _, ev := range rec.events {
		if ev == "load" {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 0
		}
	}
	assert.LessOrEqual(t, maxRun, 2, "loads between exports must stay bounded by stations per interval")

	// Without OutputResult the gathered tables are released.
	for _, got := range results["site1"] {
		assert.Nil(t, got.Data)
		assert.NotEmpty(t, got.Path)
	}
}

func TestOutputFileNamingAndSkipExisting(t *testing.T) {
	outDir := t.TempDir()
	day := horizon
	store := &fakeStore{artifacts: map[string][]fakeArtifact{
		"twr1": {artifact("twr1", "twr1/a.gvd", day.Add(time.Hour), day.Add(2*time.Hour))},
	}}

	opts := Options{
		Cases:     []Case{{Name: "site1", Stations: []string{"twr1"}}},
		Start:     day,
		End:       day.AddDate(0, 0, 1),
		Interval:  24 * time.Hour,
		OutputDir: outDir,
		Encoding:  ncio.Default(),
	}

	g := NewGatherer(store, nil, quietLogger())
	results, sum, err := g.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Intervals)

	want := filepath.Join(outDir, "site1_20240501000000_20240502000000.gvd")
	assert.Equal(t, want, results["site1"][0].Path)
	_, statErr := os.Stat(want)
	require.NoError(t, statErr)

	hdr, err := ncio.ReadHeader(want)
	require.NoError(t, err)
	assert.Equal(t, "site1", hdr.Attrs["case"])
	assert.True(t, hdr.HasStations)

	// Rerun without overwrite skips, with overwrite regathers.
	_, sum2, err := g.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, sum2.Intervals)
	assert.Equal(t, 1, sum2.Skipped[SkipExists])

	opts.Overwrite = true
	_, sum3, err := g.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, sum3.Intervals)
}

func TestEmptyIntervalsAreSkipped(t *testing.T) {
	day := horizon
	store := &fakeStore{artifacts: map[string][]fakeArtifact{
		"twr1": {artifact("twr1", "twr1/a.gvd", day.Add(time.Hour))},
	}}

	g := NewGatherer(store, &fakeExporter{}, quietLogger())
	results, sum, err := g.Run(context.Background(), Options{
		Cases:        []Case{{Name: "site1", Stations: []string{"twr1"}}},
		Start:        day,
		End:          day.AddDate(0, 0, 3),
		Interval:     24 * time.Hour,
		OutputResult: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Intervals)
	assert.Equal(t, 2, sum.Skipped[SkipEmpty])
	assert.Len(t, results["site1"], 1)
}

func TestLoadErrorSkipsIntervalAndContinues(t *testing.T) {
	day := horizon
	bad := artifact("twr1", "twr1/bad.gvd", day.Add(time.Hour))
	good := artifact("twr1", "twr1/good.gvd", day.Add(25*time.Hour))
	store := &fakeStore{
		artifacts: map[string][]fakeArtifact{"twr1": {bad, good}},
		loadErr:   map[string]error{"twr1/bad.gvd": errors.New("truncated container")},
	}

	g := NewGatherer(store, &fakeExporter{}, quietLogger())
	_, sum, err := g.Run(context.Background(), Options{
		Cases:        []Case{{Name: "site1", Stations: []string{"twr1"}}},
		Start:        day,
		End:          day.AddDate(0, 0, 2),
		Interval:     24 * time.Hour,
		OutputResult: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Intervals)
	assert.Equal(t, 1, sum.Skipped[SkipLoadError])
	require.Len(t, sum.Failures, 1)
	assert.Contains(t, sum.Failures[0].Err.Error(), "truncated")
}

func TestAllIntervalsFailingIsAnError(t *testing.T) {
	day := horizon
	bad := artifact("twr1", "twr1/bad.gvd", day.Add(time.Hour))
	store := &fakeStore{
		artifacts: map[string][]fakeArtifact{"twr1": {bad}},
		loadErr:   map[string]error{"twr1/bad.gvd": errors.New("truncated container")},
	}

	g := NewGatherer(store, &fakeExporter{}, quietLogger())
	_, sum, err := g.Run(context.Background(), Options{
		Cases:        []Case{{Name: "site1", Stations: []string{"twr1"}}},
		Start:        day,
		End:          day.AddDate(0, 0, 1),
		Interval:     24 * time.Hour,
		OutputResult: true,
	})
	require.Error(t, err)
	assert.Equal(t, 0, sum.Intervals)
}

func TestOptionValidation(t *testing.T) {
	g := NewGatherer(&fakeStore{artifacts: map[string][]fakeArtifact{}}, &fakeExporter{}, quietLogger())
	cases := []Options{
		{Start: horizon, End: horizon.Add(time.Hour), Interval: time.Hour},
		{Cases: []Case{{Name: "x", Stations: []string{"s"}}}, Start: horizon, End: horizon.Add(time.Hour)},
		{Cases: []Case{{Name: "x", Stations: []string{"s"}}}, Start: horizon, End: horizon, Interval: time.Hour},
	}
	for i, opts := range cases {
		_, _, err := g.Run(context.Background(), opts)
		assert.Error(t, err, "case %d", i)
	}
}

func TestExportedPathsChronological(t *testing.T) {
	rec := &recorder{}
	store := &fakeStore{rec: rec, artifacts: map[string][]fakeArtifact{}}
	for i := 0; i < 5; i++ {
		e := horizon.Add(time.Duration(i) * 24 * time.Hour).Add(time.Hour)
		store.artifacts["twr1"] = append(store.artifacts["twr1"],
			artifact("twr1", fmt.Sprintf("twr1/%d.gvd", i), e))
	}
	exp := &fakeExporter{rec: rec}

	g := NewGatherer(store, exp, quietLogger())
	_, sum, err := g.Run(context.Background(), Options{
		Cases:     []Case{{Name: "site1", Stations: []string{"twr1"}}},
		Start:     horizon,
		End:       horizon.AddDate(0, 0, 5),
		Interval:  24 * time.Hour,
		OutputDir: "out",
		Encoding:  ncio.Default(),
	})
	require.NoError(t, err)
	require.Equal(t, 5, sum.Intervals)
	require.True(t, sort.StringsAreSorted(exp.paths), "interval outputs must be written in chronological order")
	for _, p := range exp.paths {
		assert.True(t, strings.HasPrefix(filepath.Base(p), "site1_"))
	}
}
