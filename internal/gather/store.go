package gather

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/canopysense/gnssvod/internal/ncio"
	"github.com/canopysense/gnssvod/internal/table"
)

// ArtifactInfo identifies one preprocessed artifact and its epoch range,
// read from the container header without decoding any payload.
type ArtifactInfo struct {
	Path       string
	Station    string
	EpochStart time.Time
	EpochEnd   time.Time
}

// Intersects reports whether the artifact's epoch range overlaps the
// half-open window [start, end).
func (a ArtifactInfo) Intersects(start, end time.Time) bool {
	return a.EpochStart.Before(end) && !a.EpochEnd.Before(start)
}

// ArtifactStore abstracts artifact discovery and loading so tests can
// observe exactly what the gatherer holds in memory.
type ArtifactStore interface {
	// List returns every artifact of a station with its epoch range.
	List(station string) ([]ArtifactInfo, error)
	// Load decodes one artifact's full table.
	Load(info ArtifactInfo) (*table.Table, error)
}

// DirStore reads artifacts from per-station subdirectories of a root
// directory, as written by the preprocessor.
type DirStore struct {
	Root string
}

func (s DirStore) List(station string) ([]ArtifactInfo, error) {
	dir := filepath.Join(s.Root, station)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("gather: listing %s: %w", dir, err)
	}

	var infos []ArtifactInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".gvd" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		hdr, err := ncio.ReadHeader(path)
		if err != nil {
			return nil, fmt.Errorf("gather: scanning %s: %w", path, err)
		}
		infos = append(infos, ArtifactInfo{
			Path:       path,
			Station:    station,
			EpochStart: hdr.EpochStart,
			EpochEnd:   hdr.EpochEnd,
		})
	}
	return infos, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s DirStore) Load(info ArtifactInfo) (*table.Table, error) {
	ds, err := ncio.Read(info.Path)
	if err != nil {
		return nil, err
	}
	return ds.Table, nil
}
