// Package preprocess turns raw per-station observation files into enriched
// artifacts: each observation row gains the satellite's azimuth and
// elevation as seen from the receiver, and the result is optionally
// persisted as an encoded container for later gathering.
package preprocess

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/canopysense/gnssvod/internal/geodesy"
	"github.com/canopysense/gnssvod/internal/ncio"
	"github.com/canopysense/gnssvod/internal/obsfile"
	"github.com/canopysense/gnssvod/internal/orbit"
	"github.com/canopysense/gnssvod/internal/sky"
	"github.com/canopysense/gnssvod/internal/table"
	"github.com/canopysense/gnssvod/internal/telemetry"
)

// Skip reasons recorded in the run summary and metrics.
const (
	SkipExists     = "exists"
	SkipReadError  = "read_error"
	SkipPosition   = "position"
	SkipOrbit      = "orbit"
	SkipEmpty      = "empty"
	SkipWriteError = "write_error"
)

// MissingPositionError marks a file whose header carries no usable
// receiver position and for which no explicit override was supplied.
type MissingPositionError struct {
	Path string
}

func (e *MissingPositionError) Error() string {
	return fmt.Sprintf("preprocess: %s: no usable receiver position in header and none supplied", e.Path)
}

// FileReader abstracts observation-file parsing so tests can feed
// synthetic files.
type FileReader interface {
	Read(path string) (*obsfile.File, error)
}

// DiskReader reads observation files from the filesystem.
type DiskReader struct{}

func (DiskReader) Read(path string) (*obsfile.File, error) { return obsfile.Read(path) }

// Ephemeris is the resolved orbit handle the preprocessor queries.
// *orbit.Source satisfies it.
type Ephemeris interface {
	sky.Ephemeris
	Coverage() orbit.Window
	Satellites() []string
}

// Resolver produces an Ephemeris covering a time window, downloading into
// dir as needed.
type Resolver interface {
	Resolve(ctx context.Context, w orbit.Window, dir string) (Ephemeris, error)
}

// ProviderResolver adapts *orbit.Provider to the Resolver interface.
type ProviderResolver struct {
	Provider *orbit.Provider
}

func (r ProviderResolver) Resolve(ctx context.Context, w orbit.Window, dir string) (Ephemeris, error) {
	return r.Provider.Resolve(ctx, w, dir)
}

// StationInput names one station's files and its position policy. When
// Position is non-nil it overrides every file's header position
// unconditionally; otherwise each file must carry a usable header
// position of its own.
type StationInput struct {
	Station   string
	Files     []string
	Position  *geodesy.CartesianPosition
	OutputDir string // artifacts persist here; empty disables persistence
}

// Options configures a preprocessing run.
type Options struct {
	Stations []StationInput

	// KeepVars restricts observation variables by glob pattern before
	// geometry is computed; empty keeps everything.
	KeepVars []string

	// Interval averages observations into fixed buckets when positive.
	Interval time.Duration

	// AuxPath is where orbit files persist across runs. Empty means an
	// ephemeral directory that is removed when Run returns.
	AuxPath string

	Encoding ncio.Encoding

	// Overwrite reprocesses files whose output artifact already exists.
	Overwrite bool

	// OutputResult keeps each artifact's table in memory in the returned
	// map. Leave false for large batches and read the persisted files
	// back instead.
	OutputResult bool
}

// Artifact describes one preprocessed observation file.
type Artifact struct {
	Station  string
	Source   string
	Path     string // persisted container path, empty if not persisted
	Position geodesy.ReceiverPosition
	Rows     int
	Dropped  int

	// Data is populated only when Options.OutputResult is set.
	Data *table.Table
}

// FileFailure records one skipped or failed input file.
type FileFailure struct {
	Station string
	Path    string
	Reason  string
	Err     error
}

// Summary aggregates a run's outcome.
type Summary struct {
	Processed int
	Skipped   map[string]int
	Failures  []FileFailure

	Joined  int
	Dropped int
	Omitted int
}

// Preprocessor orchestrates per-file position resolution, orbit lookup,
// sky geometry, and the observation join.
type Preprocessor struct {
	reader   FileReader
	resolver Resolver
	log      *log.Logger
	reporter *telemetry.Reporter
}

// NewPreprocessor builds a preprocessor over the given collaborators.
func NewPreprocessor(reader FileReader, resolver Resolver, logger *log.Logger) *Preprocessor {
	return &Preprocessor{reader: reader, resolver: resolver, log: logger}
}

// SetReporter attaches a telemetry reporter. A nil reporter is fine.
func (p *Preprocessor) SetReporter(r *telemetry.Reporter) { p.reporter = r }

// Run preprocesses every station's files. Per-file failures are recorded
// in the summary and do not abort the batch; Run fails only when files
// were attempted and none succeeded, or on cancellation. The ephemeral
// orbit directory, if one was created, is removed on every exit path.
func (p *Preprocessor) Run(ctx context.Context, opts Options) (map[string][]*Artifact, *Summary, error) {
	ws, err := orbit.NewWorkspace(opts.AuxPath)
	if err != nil {
		return nil, nil, err
	}
	defer ws.Close()

	sum := &Summary{Skipped: make(map[string]int)}
	results := make(map[string][]*Artifact)
	attempted := 0

	// The resolved ephemeris is reused across files while its coverage
	// still spans the next file's epoch range.
	var eph Ephemeris

	for _, in := range opts.Stations {
		for _, path := range in.Files {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}

			outPath := ""
			if in.OutputDir != "" {
				outPath = filepath.Join(in.OutputDir, artifactName(path))
				if !opts.Overwrite && fileExists(outPath) {
					p.skip(sum, in.Station, path, SkipExists, nil)
					continue
				}
			}
			attempted++

			art, nextEph, err := p.processFile(ctx, in, path, outPath, ws.Dir, eph, opts, sum)
			if nextEph != nil {
				eph = nextEph
			}
			if err != nil {
				continue
			}

			sum.Processed++
			sum.Joined += art.Rows
			sum.Dropped += art.Dropped
			results[in.Station] = append(results[in.Station], art)
		}
	}

	if attempted > 0 && sum.Processed == 0 {
		return nil, sum, fmt.Errorf("preprocess: all %d attempted files failed", attempted)
	}
	return results, sum, nil
}

// processFile handles one observation file. It returns the refreshed
// ephemeris (possibly the one passed in) so the caller can reuse it.
// Failures are already recorded in the summary when err is non-nil.
func (p *Preprocessor) processFile(ctx context.Context, in StationInput, path, outPath, orbitDir string, eph Ephemeris, opts Options, sum *Summary) (*Artifact, Ephemeris, error) {
	start := time.Now()

	f, err := p.reader.Read(path)
	if err != nil {
		p.skip(sum, in.Station, path, SkipReadError, err)
		return nil, eph, err
	}

	recv, err := resolvePosition(in, f)
	if err != nil {
		p.skip(sum, in.Station, path, SkipPosition, err)
		return nil, eph, err
	}

	first, last := f.EpochRange()
	window := orbit.Window{Start: first, End: last.Add(time.Nanosecond)}
	if eph == nil || !eph.Coverage().Covers(window) {
		fresh, err := p.resolver.Resolve(ctx, window, orbitDir)
		if err != nil {
			p.reporter.OrbitFailed()
			p.skip(sum, in.Station, path, SkipOrbit, err)
			return nil, eph, err
		}
		p.reporter.OrbitResolved(false)
		eph = fresh
	} else {
		p.reporter.OrbitResolved(true)
	}

	obs := f.Observations
	if len(opts.KeepVars) > 0 {
		obs = obs.SubsetVars(opts.KeepVars)
	}
	if opts.Interval > 0 {
		obs = obs.Resample(opts.Interval)
	}
	obs = obs.Dedupe()

	epochs, sats := uniqueKeys(obs)
	series, err := sky.Compute(recv.CartesianPosition, epochs, sats, eph)
	if err != nil {
		p.skip(sum, in.Station, path, SkipPosition, err)
		return nil, eph, err
	}

	joined, dropped := joinSky(obs, series)
	sum.Omitted += series.Omitted()
	p.reporter.SkyOmissions(series.Omitted())

	if joined.Len() == 0 {
		err := fmt.Errorf("preprocess: %s: no observation matched the sky geometry", path)
		p.skip(sum, in.Station, path, SkipEmpty, err)
		return nil, eph, err
	}
	joined.Sort()

	art := &Artifact{
		Station:  in.Station,
		Source:   path,
		Position: recv,
		Rows:     joined.Len(),
		Dropped:  dropped,
	}

	if outPath != "" {
		ds := &ncio.Dataset{
			Table: joined,
			Attrs: map[string]string{
				"station":         in.Station,
				"source_file":     filepath.Base(path),
				"position":        recv.CartesianPosition.String(),
				"position_source": recv.Source.String(),
			},
			Units: map[string]string{"Azimuth": "degrees", "Elevation": "degrees"},
		}
		if err := ncio.Write(outPath, ds, opts.Encoding); err != nil {
			p.skip(sum, in.Station, path, SkipWriteError, err)
			return nil, eph, err
		}
		art.Path = outPath
	}
	if opts.OutputResult {
		art.Data = joined
	}

	p.reporter.FileProcessed(in.Station, path, art.Rows, art.Dropped, time.Since(start))
	return art, eph, nil
}

func (p *Preprocessor) skip(sum *Summary, station, path, reason string, err error) {
	sum.Skipped[reason]++
	sum.Failures = append(sum.Failures, FileFailure{Station: station, Path: path, Reason: reason, Err: err})
	p.reporter.FileSkipped(station, path, reason, err)
	if p.log != nil && p.reporter == nil {
		p.log.Printf("skipping %s: %s: %v", path, reason, err)
	}
}

// resolvePosition applies the position policy: an explicit station
// override wins unconditionally, otherwise the file header must carry a
// usable non-zero position.
func resolvePosition(in StationInput, f *obsfile.File) (geodesy.ReceiverPosition, error) {
	if in.Position != nil {
		return geodesy.ReceiverPosition{
			CartesianPosition: *in.Position,
			Source:            geodesy.PositionExplicit,
		}, nil
	}
	if f.ApproxPosition == nil || f.ApproxPosition.IsZero() {
		return geodesy.ReceiverPosition{}, &MissingPositionError{Path: f.Path}
	}
	return geodesy.ReceiverPosition{
		CartesianPosition: *f.ApproxPosition,
		Source:            geodesy.PositionFileDerived,
	}, nil
}

// uniqueKeys lists the distinct epochs and satellite ids of a table, each
// in first-seen order.
func uniqueKeys(t *table.Table) ([]time.Time, []string) {
	seenEpoch := make(map[int64]struct{})
	seenSat := make(map[string]struct{})
	var epochs []time.Time
	var sats []string
	for i := range t.Epochs {
		ns := t.Epochs[i].UnixNano()
		if _, ok := seenEpoch[ns]; !ok {
			seenEpoch[ns] = struct{}{}
			epochs = append(epochs, t.Epochs[i])
		}
		if _, ok := seenSat[t.Sats[i]]; !ok {
			seenSat[t.Sats[i]] = struct{}{}
			sats = append(sats, t.Sats[i])
		}
	}
	return epochs, sats
}

type skyKey struct {
	epoch int64
	sat   string
}

// joinSky inner-joins observations with sky records on (epoch, satellite).
// Unmatched observation rows are dropped and counted.
func joinSky(obs *table.Table, series *sky.Series) (*table.Table, int) {
	angles := make(map[skyKey][2]float64)
	for rec := range series.Records() {
		angles[skyKey{rec.Epoch.UnixNano(), rec.Satellite}] = [2]float64{rec.Azimuth, rec.Elevation}
	}

	names := append(append([]string(nil), obs.VarNames...), "Azimuth", "Elevation")
	out := table.New(names...)
	dropped := 0
	values := make(map[string]float64, len(names))
	for i := range obs.Epochs {
		ae, ok := angles[skyKey{obs.Epochs[i].UnixNano(), obs.Sats[i]}]
		if !ok {
			dropped++
			continue
		}
		for _, name := range obs.VarNames {
			values[name] = obs.Vars[name][i]
		}
		values["Azimuth"] = ae[0]
		values["Elevation"] = ae[1]
		out.AppendRow(obs.Epochs[i], obs.Sats[i], values)
	}
	return out, dropped
}

// artifactName maps an observation file name to its container name.
func artifactName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".gvd"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
