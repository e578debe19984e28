package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vodpipe.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "debug"

[orbit]
aux_path = "/var/cache/gnssvod/orbits"

[preprocess]
output_root = "/data/preprocessed"
keepvars = ["S?", "S??"]
interval_seconds = 60

[preprocess.stations.twr1]
files = "/data/raw/twr1/*.obs"
position = [4331297.35, 567555.63, 4633133.73]

[preprocess.stations.grnd1]
files = "/data/raw/grnd1/*.obs"

[gather]
output_dir = "/data/gathered"

[gather.cases]
site1 = ["twr1", "grnd1"]

[vod]
file_pattern = "/data/gathered/site1_*.gvd"
output_dir = "/data/vod"

[vod.cases]
site1 = ["twr1", "grnd1"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/cache/gnssvod/orbits", cfg.Orbit.AuxPath)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.Orbit.MaxRetries)
	assert.Equal(t, "default", cfg.Preprocess.Encoding)
	assert.Equal(t, 24, cfg.Gather.IntervalHours)

	require.Contains(t, cfg.Preprocess.Stations, "twr1")
	assert.Len(t, cfg.Preprocess.Stations["twr1"].Position, 3)
	assert.Empty(t, cfg.Preprocess.Stations["grnd1"].Position)

	assert.Equal(t, []string{"twr1", "grnd1"}, cfg.Gather.Cases["site1"])
	assert.Contains(t, cfg.VOD.Bands, "VOD_L1")
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad level": `
[logging]
level = "verbose"
`,
		"bad retries": `
[orbit]
max_retries = 0
`,
		"bad encoding": `
[preprocess]
encoding = "fastest"
`,
		"bad position": `
[preprocess.stations.twr1]
files = "/data/*.obs"
position = [1.0, 2.0]
`,
		"station without files": `
[preprocess.stations.twr1]
position = [1.0, 2.0, 3.0]
`,
		"bad vod pairing": `
[vod.cases]
site1 = ["twr1"]
`,
		"bad interval": `
[gather]
interval_hours = 0
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, validate(Default()))
}
