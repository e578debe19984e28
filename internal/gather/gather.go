// Package gather assembles preprocessed station artifacts into
// per-interval tables. It iterates time intervals strictly in
// chronological order and never holds more than one interval's data in
// memory, however many intervals or files the run spans.
package gather

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/canopysense/gnssvod/internal/ncio"
	"github.com/canopysense/gnssvod/internal/table"
	"github.com/canopysense/gnssvod/internal/telemetry"
)

// Skip reasons recorded in the run summary.
const (
	SkipExists     = "exists"
	SkipEmpty      = "empty"
	SkipLoadError  = "load_error"
	SkipWriteError = "write_error"
)

const stampFormat = "20060102150405"

// Case names a set of stations gathered together, typically a reference
// receiver above the canopy paired with one or more ground receivers.
type Case struct {
	Name     string
	Stations []string
}

// Exporter persists one gathered interval. The file exporter is the
// production implementation; tests substitute their own to observe the
// interval-by-interval write order.
type Exporter interface {
	Export(path string, ds *ncio.Dataset, enc ncio.Encoding) error
}

// FileExporter writes gathered intervals as encoded containers.
type FileExporter struct{}

func (FileExporter) Export(path string, ds *ncio.Dataset, enc ncio.Encoding) error {
	return ncio.Write(path, ds, enc)
}

// Options configures a gathering run.
type Options struct {
	Cases []Case

	// [Start, End) is partitioned into half-open intervals of Interval.
	Start    time.Time
	End      time.Time
	Interval time.Duration

	// OutputDir receives one container per case per interval, named
	// <case>_<start>_<end>.gvd with second-resolution timestamps. Empty
	// disables persistence.
	OutputDir string
	Encoding  ncio.Encoding
	Overwrite bool

	// OutputResult keeps every gathered table in memory in the returned
	// map. This defeats the per-interval memory bound; use it only for
	// short horizons.
	OutputResult bool
}

func (o Options) validate() error {
	if len(o.Cases) == 0 {
		return fmt.Errorf("gather: no cases given")
	}
	if o.Interval <= 0 {
		return fmt.Errorf("gather: interval must be positive, got %v", o.Interval)
	}
	if !o.Start.Before(o.End) {
		return fmt.Errorf("gather: empty horizon [%v, %v)", o.Start, o.End)
	}
	return nil
}

// Gathered describes one assembled interval of one case.
type Gathered struct {
	Case  string
	Start time.Time
	End   time.Time
	Rows  int
	Path  string // persisted container path, empty if not persisted

	// Data is populated only when Options.OutputResult is set.
	Data *table.Table
}

// IntervalFailure records one skipped or failed interval.
type IntervalFailure struct {
	Case   string
	Start  time.Time
	Reason string
	Err    error
}

// Summary aggregates a gathering run's outcome.
type Summary struct {
	Intervals int
	Rows      int
	Skipped   map[string]int
	Failures  []IntervalFailure
}

// Gatherer assembles per-interval tables from an artifact store.
type Gatherer struct {
	store    ArtifactStore
	exporter Exporter
	log      *log.Logger
	reporter *telemetry.Reporter
}

// NewGatherer builds a gatherer over the given store. A nil exporter
// defaults to writing encoded containers.
func NewGatherer(store ArtifactStore, exporter Exporter, logger *log.Logger) *Gatherer {
	if exporter == nil {
		exporter = FileExporter{}
	}
	return &Gatherer{store: store, exporter: exporter, log: logger}
}

// SetReporter attaches a telemetry reporter. A nil reporter is fine.
func (g *Gatherer) SetReporter(r *telemetry.Reporter) { g.reporter = r }

// Run gathers every case over the configured horizon. Artifact listings
// are read once per station up front (headers only); payloads are loaded
// interval by interval and discarded before the next interval starts.
// Per-interval failures are recorded and skipped; Run fails only when
// errors occurred and not a single interval succeeded, or on cancellation.
func (g *Gatherer) Run(ctx context.Context, opts Options) (map[string][]*Gathered, *Summary, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}

	sum := &Summary{Skipped: make(map[string]int)}
	results := make(map[string][]*Gathered)

	for _, c := range opts.Cases {
		infos, err := g.listCase(c)
		if err != nil {
			g.fail(sum, c.Name, opts.Start, SkipLoadError, err)
			continue
		}

		for start := opts.Start; start.Before(opts.End); start = start.Add(opts.Interval) {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			end := start.Add(opts.Interval)
			if end.After(opts.End) {
				end = opts.End
			}

			got, err := g.gatherInterval(c, infos, start, end, opts, sum)
			if err != nil || got == nil {
				continue
			}

			sum.Intervals++
			sum.Rows += got.Rows
			g.reporter.IntervalGathered(c.Name, start, end, got.Rows, got.Path)
			if !opts.OutputResult {
				got.Data = nil
			}
			results[c.Name] = append(results[c.Name], got)
		}
	}

	if sum.Intervals == 0 && len(sum.Failures) > 0 {
		return nil, sum, fmt.Errorf("gather: no interval succeeded (%d failures)", len(sum.Failures))
	}
	return results, sum, nil
}

// listCase reads the artifact listings of every station in the case.
func (g *Gatherer) listCase(c Case) (map[string][]ArtifactInfo, error) {
	infos := make(map[string][]ArtifactInfo, len(c.Stations))
	for _, station := range c.Stations {
		list, err := g.store.List(station)
		if err != nil {
			return nil, err
		}
		infos[station] = list
	}
	return infos, nil
}

// gatherInterval assembles one case's table for [start, end). A nil
// result with nil error means the interval held no data.
func (g *Gatherer) gatherInterval(c Case, infos map[string][]ArtifactInfo, start, end time.Time, opts Options, sum *Summary) (*Gathered, error) {
	outPath := ""
	if opts.OutputDir != "" {
		outPath = filepath.Join(opts.OutputDir, fmt.Sprintf("%s_%s_%s.gvd",
			c.Name, start.UTC().Format(stampFormat), end.UTC().Format(stampFormat)))
		if !opts.Overwrite && fileExists(outPath) {
			sum.Skipped[SkipExists]++
			return nil, nil
		}
	}

	var stations []string
	var tables []*table.Table
	for _, station := range c.Stations {
		st, err := g.loadStation(infos[station], start, end)
		if err != nil {
			g.fail(sum, c.Name, start, SkipLoadError, fmt.Errorf("station %s: %w", station, err))
			return nil, err
		}
		if st == nil || st.Len() == 0 {
			continue
		}
		stations = append(stations, station)
		tables = append(tables, st)
	}

	if len(tables) == 0 {
		sum.Skipped[SkipEmpty]++
		return nil, nil
	}

	stacked := table.Stack(stations, tables)
	got := &Gathered{Case: c.Name, Start: start, End: end, Rows: stacked.Len(), Data: stacked}

	if outPath != "" {
		ds := &ncio.Dataset{
			Table: stacked,
			Attrs: map[string]string{
				"case":           c.Name,
				"interval_start": start.UTC().Format(time.RFC3339),
				"interval_end":   end.UTC().Format(time.RFC3339),
			},
			Units: map[string]string{"Azimuth": "degrees", "Elevation": "degrees"},
		}
		if err := g.exporter.Export(outPath, ds, opts.Encoding); err != nil {
			g.fail(sum, c.Name, start, SkipWriteError, err)
			return nil, err
		}
		got.Path = outPath
	}
	return got, nil
}

// loadStation concatenates one station's artifacts that overlap the
// interval, clipped to its bounds, deduplicated, and sorted.
func (g *Gatherer) loadStation(infos []ArtifactInfo, start, end time.Time) (*table.Table, error) {
	var parts []*table.Table
	for _, info := range infos {
		if !info.Intersects(start, end) {
			continue
		}
		t, err := g.store.Load(info)
		if err != nil {
			return nil, err
		}
		parts = append(parts, t)
	}
	if len(parts) == 0 {
		return nil, nil
	}

	merged := table.Concat(parts...).FilterInterval(start, end).Dedupe()
	merged.Sort()
	return merged, nil
}

func (g *Gatherer) fail(sum *Summary, caseName string, start time.Time, reason string, err error) {
	sum.Skipped[reason]++
	sum.Failures = append(sum.Failures, IntervalFailure{Case: caseName, Start: start, Reason: reason, Err: err})
	if g.log != nil {
		g.log.Printf("skipping %s interval at %s: %s: %v", caseName, start.UTC().Format(time.RFC3339), reason, err)
	}
}
