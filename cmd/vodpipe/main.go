// Vodpipe is the batch pipeline for GNSS vegetation optical depth.
//
// It preprocesses raw receiver observation files into sky-annotated
// artifacts, gathers them into per-interval tables across stations, and
// computes VOD from paired receivers. An optional monitor server exposes
// progress over HTTP and WebSocket while a run is in flight.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/canopysense/gnssvod/internal/config"
	"github.com/canopysense/gnssvod/internal/gather"
	"github.com/canopysense/gnssvod/internal/geodesy"
	"github.com/canopysense/gnssvod/internal/monitor"
	"github.com/canopysense/gnssvod/internal/ncio"
	"github.com/canopysense/gnssvod/internal/observability"
	"github.com/canopysense/gnssvod/internal/orbit"
	"github.com/canopysense/gnssvod/internal/preprocess"
	"github.com/canopysense/gnssvod/internal/telemetry"
	"github.com/canopysense/gnssvod/internal/vod"
	"github.com/canopysense/gnssvod/internal/ws"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/gnssvod/vodpipe.toml", "Path to config TOML")
		bind       = pflag.String("bind", "", "Monitor bind address (overrides config)")
		auxPath    = pflag.String("aux", "", "Orbit download directory (overrides config)")
		overwrite  = pflag.Bool("overwrite", false, "Reprocess outputs that already exist")
		startStr   = pflag.String("start", "", "Gather horizon start (YYYY-MM-DD or RFC 3339)")
		endStr     = pflag.String("end", "", "Gather horizon end, exclusive (YYYY-MM-DD or RFC 3339)")
	)
	pflag.Parse()

	if pflag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	cmd := pflag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *auxPath != "" {
		cfg.Orbit.AuxPath = *auxPath
	}
	if *overwrite {
		cfg.Preprocess.Overwrite = true
		cfg.Gather.Overwrite = true
	}
	if *bind != "" {
		cfg.Monitor.Enabled = true
		cfg.Monitor.Bind = *bind
	}

	logger := log.New(os.Stdout, "vodpipe ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var hub *ws.Hub
	var mSrv *monitor.Server
	var metrics *observability.Metrics
	if cfg.Monitor.Enabled {
		hub = ws.NewHub()
		metrics = observability.NewMetrics()
		mSrv = monitor.New(cfg.Monitor.Bind, hub, logger)
		go func() {
			if err := mSrv.Run(ctx); err != nil {
				logger.Printf("monitor server failed: %v", err)
			}
		}()
		metrics.RunActive.Set(1)
		defer metrics.RunActive.Set(0)
	}
	reporter := telemetry.NewReporter(logger, hubOrNil(hub), metrics)

	p := pipeline{cfg: cfg, log: logger, reporter: reporter, monitor: mSrv}

	switch cmd {
	case "preprocess":
		err = p.preprocess(ctx)
	case "gather":
		err = p.gather(ctx, *startStr, *endStr)
	case "vod":
		err = p.vod(ctx)
	case "all":
		if err = p.preprocess(ctx); err == nil {
			if err = p.gather(ctx, *startStr, *endStr); err == nil {
				err = p.vod(ctx)
			}
		}
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Fatalf("%s failed: %v", cmd, err)
	}

	// Brief pause so in-flight broadcasts and log writes can flush.
	time.Sleep(50 * time.Millisecond)
}

// hubOrNil avoids handing the reporter a typed-nil broadcaster.
func hubOrNil(h *ws.Hub) telemetry.Broadcaster {
	if h == nil {
		return nil
	}
	return h
}

type pipeline struct {
	cfg      config.Config
	log      *log.Logger
	reporter *telemetry.Reporter
	monitor  *monitor.Server
}

func (p *pipeline) setPhase(phase, detail string) {
	p.reporter.Phase(phase, detail)
	if p.monitor != nil {
		p.monitor.SetPhase(phase)
	}
}

func (p *pipeline) setSummary(v any) {
	if p.monitor != nil {
		p.monitor.SetSummary(v)
	}
}

func (p *pipeline) preprocess(ctx context.Context) error {
	cfg := p.cfg
	if len(cfg.Preprocess.Stations) == 0 {
		return fmt.Errorf("no stations configured under [preprocess.stations]")
	}

	enc, err := ncio.ParseEncoding(cfg.Preprocess.Encoding)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Preprocess.Stations))
	for name := range cfg.Preprocess.Stations {
		names = append(names, name)
	}
	sort.Strings(names)

	var stations []preprocess.StationInput
	for _, name := range names {
		sc := cfg.Preprocess.Stations[name]
		files, err := filepath.Glob(sc.Files)
		if err != nil {
			return fmt.Errorf("station %s: bad glob %q: %w", name, sc.Files, err)
		}
		if len(files) == 0 {
			p.log.Printf("station %s: no files match %q", name, sc.Files)
			continue
		}
		sort.Strings(files)

		in := preprocess.StationInput{Station: name, Files: files}
		if len(sc.Position) == 3 {
			in.Position = &geodesy.CartesianPosition{X: sc.Position[0], Y: sc.Position[1], Z: sc.Position[2]}
		}
		if cfg.Preprocess.OutputRoot != "" {
			in.OutputDir = filepath.Join(cfg.Preprocess.OutputRoot, name)
			if err := os.MkdirAll(in.OutputDir, 0o755); err != nil {
				return err
			}
		}
		stations = append(stations, in)
	}
	if len(stations) == 0 {
		return fmt.Errorf("no observation files found for any configured station")
	}

	p.setPhase("preprocess", fmt.Sprintf("%d stations", len(stations)))

	provider := orbit.NewProvider(cfg.Orbit.URLTemplate, cfg.Orbit.MaxRetries, p.log)
	pre := preprocess.NewPreprocessor(preprocess.DiskReader{}, preprocess.ProviderResolver{Provider: provider}, p.log)
	pre.SetReporter(p.reporter)

	_, sum, err := pre.Run(ctx, preprocess.Options{
		Stations:  stations,
		KeepVars:  cfg.Preprocess.KeepVars,
		Interval:  time.Duration(cfg.Preprocess.IntervalSeconds) * time.Second,
		AuxPath:   cfg.Orbit.AuxPath,
		Encoding:  enc,
		Overwrite: cfg.Preprocess.Overwrite,
	})
	if sum != nil {
		p.log.Printf("preprocess: %d processed, %d rows joined, %d dropped, %d sky omissions, skipped: %v",
			sum.Processed, sum.Joined, sum.Dropped, sum.Omitted, sum.Skipped)
		p.setSummary(sum)
	}
	return err
}

func (p *pipeline) gather(ctx context.Context, startStr, endStr string) error {
	cfg := p.cfg
	if len(cfg.Gather.Cases) == 0 {
		return fmt.Errorf("no cases configured under [gather.cases]")
	}
	if cfg.Preprocess.OutputRoot == "" {
		return fmt.Errorf("preprocess.output_root must be set to gather from")
	}
	start, err := parseTime(startStr)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := parseTime(endStr)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	enc, err := ncio.ParseEncoding(cfg.Gather.Encoding)
	if err != nil {
		return err
	}
	if cfg.Gather.OutputDir != "" {
		if err := os.MkdirAll(cfg.Gather.OutputDir, 0o755); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(cfg.Gather.Cases))
	for name := range cfg.Gather.Cases {
		names = append(names, name)
	}
	sort.Strings(names)
	cases := make([]gather.Case, 0, len(names))
	for _, name := range names {
		cases = append(cases, gather.Case{Name: name, Stations: cfg.Gather.Cases[name]})
	}

	p.setPhase("gather", fmt.Sprintf("%d cases, [%s, %s)", len(cases),
		start.Format(time.RFC3339), end.Format(time.RFC3339)))

	g := gather.NewGatherer(gather.DirStore{Root: cfg.Preprocess.OutputRoot}, nil, p.log)
	g.SetReporter(p.reporter)

	_, sum, err := g.Run(ctx, gather.Options{
		Cases:     cases,
		Start:     start,
		End:       end,
		Interval:  time.Duration(cfg.Gather.IntervalHours) * time.Hour,
		OutputDir: cfg.Gather.OutputDir,
		Encoding:  enc,
		Overwrite: cfg.Gather.Overwrite,
	})
	if sum != nil {
		p.log.Printf("gather: %d intervals, %d rows, skipped: %v", sum.Intervals, sum.Rows, sum.Skipped)
		p.setSummary(sum)
	}
	return err
}

func (p *pipeline) vod(ctx context.Context) error {
	cfg := p.cfg
	if len(cfg.VOD.Cases) == 0 {
		return fmt.Errorf("no cases configured under [vod.cases]")
	}
	if cfg.VOD.FilePattern == "" {
		return fmt.Errorf("vod.file_pattern must be set")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	enc, err := ncio.ParseEncoding(cfg.VOD.Encoding)
	if err != nil {
		return err
	}
	if cfg.VOD.OutputDir != "" {
		if err := os.MkdirAll(cfg.VOD.OutputDir, 0o755); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(cfg.VOD.Cases))
	for name := range cfg.VOD.Cases {
		names = append(names, name)
	}
	sort.Strings(names)
	cases := make([]vod.Case, 0, len(names))
	for _, name := range names {
		pair := cfg.VOD.Cases[name]
		cases = append(cases, vod.Case{Name: name, Reference: pair[0], Ground: pair[1]})
	}

	bandNames := make([]string, 0, len(cfg.VOD.Bands))
	for name := range cfg.VOD.Bands {
		bandNames = append(bandNames, name)
	}
	sort.Strings(bandNames)
	bands := make([]vod.Band, 0, len(bandNames))
	for _, name := range bandNames {
		bands = append(bands, vod.Band{Name: name, Vars: cfg.VOD.Bands[name]})
	}

	p.setPhase("vod", fmt.Sprintf("%d cases", len(cases)))

	results, err := vod.CalcFiles(cfg.VOD.FilePattern, cases, bands)
	if err != nil {
		return err
	}

	for _, c := range cases {
		t := results[c.Name]
		first, last := vod.EpochRange(t)
		p.log.Printf("vod %s: %d rows, [%s, %s]", c.Name, t.Len(),
			first.Format(time.RFC3339), last.Format(time.RFC3339))

		if cfg.VOD.OutputDir == "" {
			continue
		}
		out := filepath.Join(cfg.VOD.OutputDir, c.Name+"_vod.gvd")
		ds := &ncio.Dataset{
			Table: t,
			Attrs: map[string]string{
				"case":      c.Name,
				"reference": c.Reference,
				"ground":    c.Ground,
			},
			Units: map[string]string{"Azimuth": "degrees", "Elevation": "degrees"},
		}
		if err := ncio.Write(out, ds, enc); err != nil {
			return err
		}
		p.log.Printf("vod %s: wrote %s", c.Name, out)
	}
	return nil
}

// parseTime accepts a plain date or a full RFC 3339 timestamp, in UTC.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing required value")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return t.UTC(), nil
}

func usage() {
	fmt.Print(`
  vodpipe - GNSS vegetation optical depth pipeline

  USAGE
    vodpipe [flags] <command>

  COMMANDS
    preprocess      Annotate raw observation files with sky geometry
    gather          Assemble preprocessed artifacts into per-interval tables
    vod             Compute VOD from gathered receiver pairs
    all             Run preprocess, gather, and vod in sequence

  FLAGS
    -c, --config PATH   Config TOML (default: /etc/gnssvod/vodpipe.toml)
        --start WHEN    Gather horizon start (YYYY-MM-DD or RFC 3339)
        --end WHEN      Gather horizon end, exclusive
        --aux PATH      Orbit download directory (kept across runs)
        --overwrite     Reprocess outputs that already exist
        --bind ADDR     Enable the monitor server on this address
`)
}
