// Package vod derives vegetation optical depth from paired GNSS
// receivers: a reference antenna above the canopy and a ground antenna
// beneath it. Rows are paired on (epoch, satellite), attenuation comes
// from the signal-to-noise difference, and the slant path is corrected
// to vertical with the ground antenna's elevation angle.
package vod

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/canopysense/gnssvod/internal/ncio"
	"github.com/canopysense/gnssvod/internal/table"
)

// Band maps one output variable to an ordered list of candidate SNR
// variables. The first candidate with a value wins, so receivers that
// report S1C instead of S1 still feed the same band.
type Band struct {
	Name string
	Vars []string
}

// Case pairs a reference station with a ground station under a name.
type Case struct {
	Name      string
	Reference string
	Ground    string
}

type rowKey struct {
	epoch int64
	sat   string
}

// Calc computes per-band VOD for one stacked table. The table must carry
// a station column holding both of the case's stations, and Azimuth and
// Elevation variables. The result has one row per matched (epoch,
// satellite) pair, with the band columns plus the reference antenna's
// Azimuth and Elevation.
func Calc(t *table.Table, c Case, bands []Band) (*table.Table, error) {
	if t.Stations == nil {
		return nil, fmt.Errorf("vod: table has no station column")
	}
	for _, name := range []string{"Azimuth", "Elevation"} {
		if _, ok := t.Vars[name]; !ok {
			return nil, fmt.Errorf("vod: table has no %s variable", name)
		}
	}

	ref := t.StationView(c.Reference)
	grn := t.StationView(c.Ground)
	if ref.Len() == 0 {
		return nil, fmt.Errorf("vod: case %s: no rows for reference station %s", c.Name, c.Reference)
	}
	if grn.Len() == 0 {
		return nil, fmt.Errorf("vod: case %s: no rows for ground station %s", c.Name, c.Ground)
	}

	// Keep-first index of the reference rows.
	refIdx := make(map[rowKey]int, ref.Len())
	for i := range ref.Epochs {
		k := rowKey{ref.Epochs[i].UnixNano(), ref.Sats[i]}
		if _, ok := refIdx[k]; !ok {
			refIdx[k] = i
		}
	}

	names := make([]string, 0, len(bands)+2)
	for _, b := range bands {
		names = append(names, b.Name)
	}
	names = append(names, "Azimuth", "Elevation")

	out := table.New(names...)
	values := make(map[string]float64, len(names))
	for gi := range grn.Epochs {
		ri, ok := refIdx[rowKey{grn.Epochs[gi].UnixNano(), grn.Sats[gi]}]
		if !ok {
			continue
		}
		elevGrn := grn.Vars["Elevation"][gi]

		for _, b := range bands {
			v := math.NaN()
			for _, snr := range b.Vars {
				col, ok := grn.Vars[snr]
				if !ok {
					continue
				}
				refCol, ok := ref.Vars[snr]
				if !ok {
					continue
				}
				if w := opticalDepth(refCol[ri], col[gi], elevGrn); !math.IsNaN(w) {
					v = w
					break
				}
			}
			values[b.Name] = v
		}
		values["Azimuth"] = ref.Vars["Azimuth"][ri]
		values["Elevation"] = ref.Vars["Elevation"][ri]
		out.AppendRow(grn.Epochs[gi], grn.Sats[gi], values)
	}
	return out, nil
}

// opticalDepth converts a signal-to-noise difference in dB into VOD,
// projecting the slant path to vertical with the ground elevation angle.
func opticalDepth(snrRef, snrGrn, elevGrn float64) float64 {
	tau := -math.Log(math.Pow(10, (snrGrn-snrRef)/10))
	return tau * math.Cos((90-elevGrn)*math.Pi/180)
}

// CalcFiles reads every gathered container matching the glob pattern,
// concatenates them, and computes VOD for each case.
func CalcFiles(pattern string, cases []Case, bands []Band) (map[string]*table.Table, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("vod: bad pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("vod: no files match %q", pattern)
	}
	sort.Strings(paths)

	parts := make([]*table.Table, 0, len(paths))
	for _, p := range paths {
		ds, err := ncio.Read(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ds.Table)
	}
	merged := table.Concat(parts...)

	out := make(map[string]*table.Table, len(cases))
	for _, c := range cases {
		t, err := Calc(merged, c, bands)
		if err != nil {
			return nil, err
		}
		out[c.Name] = t
	}
	return out, nil
}

// EpochRange reports the output table's epoch span, for log lines.
func EpochRange(t *table.Table) (time.Time, time.Time) {
	if t.Len() == 0 {
		return time.Time{}, time.Time{}
	}
	min, max := t.Epochs[0], t.Epochs[0]
	for _, e := range t.Epochs[1:] {
		if e.Before(min) {
			min = e
		}
		if e.After(max) {
			max = e
		}
	}
	return min, max
}
