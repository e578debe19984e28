// Package obsfile reads per-receiver GNSS observation files in the
// pipeline's plain-text exchange format: a small header (station id,
// approximate antenna position, sampling interval, field names) followed
// by one line per epoch and satellite with the signal measurements.
// RINEX decoding is out of scope; converters produce this format upstream.
package obsfile

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/canopysense/gnssvod/internal/geodesy"
	"github.com/canopysense/gnssvod/internal/table"
)

// ParseError reports a malformed observation file. The preprocessor treats
// it as a skippable per-file failure.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("obsfile: %s:%d: %s", e.Path, e.Line, e.Msg)
}

// File is one parsed observation file.
type File struct {
	Path     string
	Station  string
	Interval time.Duration

	// ApproxPosition is the header-derived antenna position, nil when the
	// header line is absent. May be all-zero in files written by receivers
	// that never resolved a position; callers must check.
	ApproxPosition *geodesy.CartesianPosition

	Fields       []string
	Observations *table.Table
}

// EpochRange returns the first and last epoch in the file. Observations
// are required to be non-empty by Read.
func (f *File) EpochRange() (time.Time, time.Time) {
	min, max := f.Observations.Epochs[0], f.Observations.Epochs[0]
	for _, e := range f.Observations.Epochs[1:] {
		if e.Before(min) {
			min = e
		}
		if e.After(max) {
			max = e
		}
	}
	return min, max
}

// Read parses the observation file at path.
func Read(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	f := &File{Path: path}
	sc := bufio.NewScanner(fh)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			if err := f.parseHeaderLine(path, lineNo, strings.TrimSpace(line[1:])); err != nil {
				return nil, err
			}
			continue
		}

		if f.Observations == nil {
			if len(f.Fields) == 0 {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: "data before FIELDS header"}
			}
			f.Observations = table.New(f.Fields...)
		}
		if err := f.parseDataLine(path, lineNo, line); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if f.Observations == nil || f.Observations.Len() == 0 {
		return nil, &ParseError{Path: path, Line: lineNo, Msg: "no observation records"}
	}
	return f, nil
}

func (f *File) parseHeaderLine(path string, lineNo int, line string) error {
	key, value, found := strings.Cut(line, ":")
	if !found {
		// Free-form comment lines are allowed in the header.
		return nil
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	switch key {
	case "STATION":
		f.Station = value

	case "APPROX POSITION XYZ":
		parts := strings.Fields(value)
		if len(parts) != 3 {
			return &ParseError{Path: path, Line: lineNo, Msg: "APPROX POSITION XYZ needs 3 values"}
		}
		var pos geodesy.CartesianPosition
		var err error
		if pos.X, err = strconv.ParseFloat(parts[0], 64); err == nil {
			if pos.Y, err = strconv.ParseFloat(parts[1], 64); err == nil {
				pos.Z, err = strconv.ParseFloat(parts[2], 64)
			}
		}
		if err != nil {
			return &ParseError{Path: path, Line: lineNo, Msg: "bad APPROX POSITION XYZ: " + err.Error()}
		}
		f.ApproxPosition = &pos

	case "INTERVAL":
		sec, err := strconv.ParseFloat(value, 64)
		if err != nil || sec < 0 {
			return &ParseError{Path: path, Line: lineNo, Msg: "bad INTERVAL"}
		}
		f.Interval = time.Duration(sec * float64(time.Second))

	case "FIELDS":
		f.Fields = strings.Fields(value)
		if len(f.Fields) == 0 {
			return &ParseError{Path: path, Line: lineNo, Msg: "empty FIELDS header"}
		}
	}
	return nil
}

func (f *File) parseDataLine(path string, lineNo int, line string) error {
	parts := strings.Fields(line)
	if len(parts) != 2+len(f.Fields) {
		return &ParseError{
			Path: path, Line: lineNo,
			Msg: fmt.Sprintf("expected %d columns, got %d", 2+len(f.Fields), len(parts)),
		}
	}

	epoch, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return &ParseError{Path: path, Line: lineNo, Msg: "bad epoch: " + err.Error()}
	}

	values := make(map[string]float64, len(f.Fields))
	for i, name := range f.Fields {
		raw := parts[2+i]
		if raw == "-" {
			values[name] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("bad %s value %q", name, raw)}
		}
		values[name] = v
	}

	f.Observations.AppendRow(epoch.UTC(), parts[1], values)
	return nil
}
