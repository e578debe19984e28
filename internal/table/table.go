// Package table implements the row-aligned columnar observation table the
// pipeline passes between stages: epochs, satellite ids, an optional
// station id column, and named float variables where NaN marks a missing
// value.
package table

import (
	"math"
	"path"
	"sort"
	"time"
)

// Table holds rows keyed by (station, epoch, satellite). The station
// column is nil for single-station tables and only appears once stations
// have been stacked by the gatherer.
type Table struct {
	Epochs   []time.Time
	Sats     []string
	Stations []string // nil or row-aligned

	// VarNames fixes the variable order; Vars maps each name to its
	// row-aligned column.
	VarNames []string
	Vars     map[string][]float64
}

// New returns an empty table with the given variable order.
func New(varNames ...string) *Table {
	t := &Table{VarNames: append([]string(nil), varNames...), Vars: make(map[string][]float64)}
	for _, name := range varNames {
		t.Vars[name] = nil
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Epochs) }

// AppendRow adds one row; values are aligned to VarNames and missing
// entries are NaN.
func (t *Table) AppendRow(epoch time.Time, sat string, values map[string]float64) {
	t.Epochs = append(t.Epochs, epoch)
	t.Sats = append(t.Sats, sat)
	if t.Stations != nil {
		t.Stations = append(t.Stations, "")
	}
	for _, name := range t.VarNames {
		v, ok := values[name]
		if !ok {
			v = math.NaN()
		}
		t.Vars[name] = append(t.Vars[name], v)
	}
}

// AddVar appends a new row-aligned column. Panics if the length does not
// match the current row count; columns are built by the caller in step
// with the table.
func (t *Table) AddVar(name string, col []float64) {
	if len(col) != t.Len() {
		panic("table: column length mismatch")
	}
	if _, exists := t.Vars[name]; !exists {
		t.VarNames = append(t.VarNames, name)
	}
	t.Vars[name] = col
}

// station returns the station id of row i, or "" for unstacked tables.
func (t *Table) station(i int) string {
	if t.Stations == nil {
		return ""
	}
	return t.Stations[i]
}

// Select returns a new table holding only the rows for which keep is true,
// preserving order.
func (t *Table) Select(keep func(i int) bool) *Table {
	out := &Table{VarNames: append([]string(nil), t.VarNames...), Vars: make(map[string][]float64)}
	if t.Stations != nil {
		out.Stations = []string{}
	}
	for i := 0; i < t.Len(); i++ {
		if !keep(i) {
			continue
		}
		out.Epochs = append(out.Epochs, t.Epochs[i])
		out.Sats = append(out.Sats, t.Sats[i])
		if t.Stations != nil {
			out.Stations = append(out.Stations, t.Stations[i])
		}
	}
	for _, name := range t.VarNames {
		src := t.Vars[name]
		var col []float64
		for i := 0; i < t.Len(); i++ {
			if keep(i) {
				col = append(col, src[i])
			}
		}
		out.Vars[name] = col
	}
	return out
}

// FilterInterval keeps rows whose epoch falls in the half-open
// [start, end) window.
func (t *Table) FilterInterval(start, end time.Time) *Table {
	return t.Select(func(i int) bool {
		e := t.Epochs[i]
		return !e.Before(start) && e.Before(end)
	})
}

// Sort orders rows by (station, epoch, satellite) in place.
func (t *Table) Sort() {
	idx := make([]int, t.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if t.station(i) != t.station(j) {
			return t.station(i) < t.station(j)
		}
		if !t.Epochs[i].Equal(t.Epochs[j]) {
			return t.Epochs[i].Before(t.Epochs[j])
		}
		return t.Sats[i] < t.Sats[j]
	})
	t.reorder(idx)
}

func (t *Table) reorder(idx []int) {
	epochs := make([]time.Time, len(idx))
	sats := make([]string, len(idx))
	var stations []string
	if t.Stations != nil {
		stations = make([]string, len(idx))
	}
	for pos, i := range idx {
		epochs[pos] = t.Epochs[i]
		sats[pos] = t.Sats[i]
		if stations != nil {
			stations[pos] = t.Stations[i]
		}
	}
	t.Epochs, t.Sats, t.Stations = epochs, sats, stations

	for _, name := range t.VarNames {
		src := t.Vars[name]
		col := make([]float64, len(idx))
		for pos, i := range idx {
			col[pos] = src[i]
		}
		t.Vars[name] = col
	}
}

// Dedupe drops rows whose (station, epoch, satellite) key was already
// seen, keeping the first occurrence.
func (t *Table) Dedupe() *Table {
	type key struct {
		station string
		epoch   int64
		sat     string
	}
	seen := make(map[key]bool, t.Len())
	return t.Select(func(i int) bool {
		k := key{t.station(i), t.Epochs[i].UnixNano(), t.Sats[i]}
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	})
}

// SubsetVars keeps the variables matching any of the glob patterns, plus
// any names listed in always, then drops rows where every kept variable is
// NaN.
func (t *Table) SubsetVars(patterns []string, always ...string) *Table {
	keep := make(map[string]bool)
	for _, name := range t.VarNames {
		for _, pat := range patterns {
			if ok, _ := path.Match(pat, name); ok {
				keep[name] = true
			}
		}
	}
	for _, name := range always {
		if _, exists := t.Vars[name]; exists {
			keep[name] = true
		}
	}

	out := &Table{Vars: make(map[string][]float64)}
	out.Epochs = append([]time.Time(nil), t.Epochs...)
	out.Sats = append([]string(nil), t.Sats...)
	if t.Stations != nil {
		out.Stations = append([]string(nil), t.Stations...)
	}
	for _, name := range t.VarNames {
		if keep[name] {
			out.VarNames = append(out.VarNames, name)
			out.Vars[name] = append([]float64(nil), t.Vars[name]...)
		}
	}

	return out.Select(func(i int) bool {
		for _, name := range out.VarNames {
			if !math.IsNaN(out.Vars[name][i]) {
				return true
			}
		}
		return false
	})
}

// Resample averages observations into fixed interval buckets per
// (bucket, satellite), ignoring NaNs. Bucket start times become the new
// epochs; output rows are sorted.
func (t *Table) Resample(interval time.Duration) *Table {
	type key struct {
		epoch int64
		sat   string
	}
	type acc struct {
		sum   []float64
		count []int
	}

	buckets := make(map[key]*acc)
	var order []key
	for i := 0; i < t.Len(); i++ {
		k := key{t.Epochs[i].Truncate(interval).UnixNano(), t.Sats[i]}
		a, ok := buckets[k]
		if !ok {
			a = &acc{sum: make([]float64, len(t.VarNames)), count: make([]int, len(t.VarNames))}
			buckets[k] = a
			order = append(order, k)
		}
		for vi, name := range t.VarNames {
			v := t.Vars[name][i]
			if !math.IsNaN(v) {
				a.sum[vi] += v
				a.count[vi]++
			}
		}
	}

	out := New(t.VarNames...)
	for _, k := range order {
		a := buckets[k]
		values := make(map[string]float64, len(t.VarNames))
		for vi, name := range t.VarNames {
			if a.count[vi] > 0 {
				values[name] = a.sum[vi] / float64(a.count[vi])
			}
		}
		out.AppendRow(time.Unix(0, k.epoch).UTC(), k.sat, values)
	}
	out.Sort()
	return out
}

// Concat appends the rows of others, unioning variables; values a table
// lacks come out as NaN.
func Concat(tables ...*Table) *Table {
	out := &Table{Vars: make(map[string][]float64)}
	hasStations := false
	for _, t := range tables {
		if t.Stations != nil {
			hasStations = true
		}
		for _, name := range t.VarNames {
			if _, ok := out.Vars[name]; !ok {
				out.VarNames = append(out.VarNames, name)
				out.Vars[name] = nil
			}
		}
	}
	if hasStations {
		out.Stations = []string{}
	}

	for _, t := range tables {
		n := t.Len()
		out.Epochs = append(out.Epochs, t.Epochs...)
		out.Sats = append(out.Sats, t.Sats...)
		if hasStations {
			for i := 0; i < n; i++ {
				out.Stations = append(out.Stations, t.station(i))
			}
		}
		for _, name := range out.VarNames {
			src, ok := t.Vars[name]
			for i := 0; i < n; i++ {
				if ok {
					out.Vars[name] = append(out.Vars[name], src[i])
				} else {
					out.Vars[name] = append(out.Vars[name], math.NaN())
				}
			}
		}
	}
	return out
}

// Stack concatenates per-station tables into one table carrying a station
// column, in the given station order.
func Stack(stations []string, tables []*Table) *Table {
	tagged := make([]*Table, 0, len(tables))
	for si, t := range tables {
		c := t.Select(func(int) bool { return true })
		c.Stations = make([]string, c.Len())
		for i := range c.Stations {
			c.Stations[i] = stations[si]
		}
		tagged = append(tagged, c)
	}
	return Concat(tagged...)
}

// StationView returns the rows of one station with the station column
// removed.
func (t *Table) StationView(station string) *Table {
	v := t.Select(func(i int) bool { return t.station(i) == station })
	v.Stations = nil
	return v
}
