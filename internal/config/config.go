// Package config handles loading, defaulting, and validation of the
// vodpipe TOML configuration file. Every section maps to a typed struct so
// the rest of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/canopysense/gnssvod/internal/ncio"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Logging    LoggingConfig    `toml:"logging"    json:"logging"`
	Monitor    MonitorConfig    `toml:"monitor"    json:"monitor"`
	Orbit      OrbitConfig      `toml:"orbit"      json:"orbit"`
	Preprocess PreprocessConfig `toml:"preprocess" json:"preprocess"`
	Gather     GatherConfig     `toml:"gather"     json:"gather"`
	VOD        VODConfig        `toml:"vod"        json:"vod"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type MonitorConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Bind    string `toml:"bind"    json:"bind"`
}

type OrbitConfig struct {
	// URLTemplate may contain {date} which expands to YYYYMMDD per day.
	URLTemplate string `toml:"url_template" json:"url_template"`
	MaxRetries  int    `toml:"max_retries"  json:"max_retries"`

	// AuxPath persists downloaded ephemeris across runs. Empty means an
	// ephemeral directory removed when the run finishes.
	AuxPath string `toml:"aux_path" json:"aux_path"`
}

type PreprocessConfig struct {
	OutputRoot      string   `toml:"output_root"      json:"output_root"`
	Encoding        string   `toml:"encoding"         json:"encoding"`
	KeepVars        []string `toml:"keepvars"         json:"keepvars"`
	IntervalSeconds int      `toml:"interval_seconds" json:"interval_seconds"`
	Overwrite       bool     `toml:"overwrite"        json:"overwrite"`

	Stations map[string]StationConfig `toml:"stations" json:"stations"`
}

type StationConfig struct {
	// Files is a glob matching the station's observation files.
	Files string `toml:"files" json:"files"`

	// Position, when given as [x, y, z] in ECEF meters, overrides every
	// file's header position.
	Position []float64 `toml:"position" json:"position"`
}

type GatherConfig struct {
	OutputDir     string `toml:"output_dir"     json:"output_dir"`
	Encoding      string `toml:"encoding"       json:"encoding"`
	IntervalHours int    `toml:"interval_hours" json:"interval_hours"`
	Overwrite     bool   `toml:"overwrite"      json:"overwrite"`

	// Cases maps a case name to its station list, reference first.
	Cases map[string][]string `toml:"cases" json:"cases"`
}

type VODConfig struct {
	// FilePattern globs the gathered containers to read.
	FilePattern string `toml:"file_pattern" json:"file_pattern"`
	OutputDir   string `toml:"output_dir"   json:"output_dir"`
	Encoding    string `toml:"encoding"     json:"encoding"`

	// Cases maps a case name to [reference, ground] station names.
	Cases map[string][]string `toml:"cases" json:"cases"`

	// Bands maps an output variable to its candidate SNR variables in
	// preference order, e.g. VOD_L1 = ["S1", "S1C"].
	Bands map[string][]string `toml:"bands" json:"bands"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Bind:    "127.0.0.1:8787",
		},
		Orbit: OrbitConfig{
			URLTemplate: "https://celestrak.org/NORAD/elements/gp.php?GROUP=gps-ops&FORMAT=tle",
			MaxRetries:  3,
		},
		Preprocess: PreprocessConfig{
			Encoding: "default",
		},
		Gather: GatherConfig{
			Encoding:      "default",
			IntervalHours: 24,
		},
		VOD: VODConfig{
			Encoding: "default",
			Bands: map[string][]string{
				"VOD_L1": {"S1", "S1C", "S1X"},
				"VOD_L2": {"S2", "S2C", "S2X"},
			},
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	if cfg.Monitor.Enabled && cfg.Monitor.Bind == "" {
		return errors.New("monitor.bind must not be empty when the monitor is enabled")
	}
	if cfg.Orbit.URLTemplate == "" {
		return errors.New("orbit.url_template must not be empty")
	}
	if cfg.Orbit.MaxRetries < 1 {
		return errors.New("orbit.max_retries must be >= 1")
	}
	if cfg.Preprocess.IntervalSeconds < 0 {
		return errors.New("preprocess.interval_seconds must be >= 0")
	}
	if _, err := ncio.ParseEncoding(cfg.Preprocess.Encoding); err != nil {
		return fmt.Errorf("preprocess.encoding: %w", err)
	}
	for name, st := range cfg.Preprocess.Stations {
		if st.Files == "" {
			return fmt.Errorf("preprocess.stations.%s.files must not be empty", name)
		}
		if n := len(st.Position); n != 0 && n != 3 {
			return fmt.Errorf("preprocess.stations.%s.position must have exactly 3 components, got %d", name, n)
		}
	}
	if cfg.Gather.IntervalHours < 1 {
		return errors.New("gather.interval_hours must be >= 1")
	}
	if _, err := ncio.ParseEncoding(cfg.Gather.Encoding); err != nil {
		return fmt.Errorf("gather.encoding: %w", err)
	}
	for name, stations := range cfg.Gather.Cases {
		if len(stations) == 0 {
			return fmt.Errorf("gather.cases.%s must list at least one station", name)
		}
	}
	if _, err := ncio.ParseEncoding(cfg.VOD.Encoding); err != nil {
		return fmt.Errorf("vod.encoding: %w", err)
	}
	for name, pair := range cfg.VOD.Cases {
		if len(pair) != 2 {
			return fmt.Errorf("vod.cases.%s must be [reference, ground], got %d entries", name, len(pair))
		}
	}
	for name, vars := range cfg.VOD.Bands {
		if len(vars) == 0 {
			return fmt.Errorf("vod.bands.%s must list at least one variable", name)
		}
	}
	return nil
}
