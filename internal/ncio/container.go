package ncio

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/canopysense/gnssvod/internal/table"
)

var magic = []byte("GVDC1\n")

// Dataset couples a table with its file-level attributes and per-variable
// units for persistence.
type Dataset struct {
	Table *table.Table
	Attrs map[string]string
	Units map[string]string
}

// VarMeta records one variable's name, unit, and the encoding that was
// actually applied when the file was written.
type VarMeta struct {
	Name     string      `json:"name"`
	Unit     string      `json:"unit,omitempty"`
	Encoding VarEncoding `json:"encoding"`
}

// Header is the container's self-description. It carries the epoch range
// so range scans never decode payload blocks.
type Header struct {
	Attrs       map[string]string `json:"attrs,omitempty"`
	Rows        int               `json:"rows"`
	EpochStart  time.Time         `json:"epoch_start"`
	EpochEnd    time.Time         `json:"epoch_end"`
	HasStations bool              `json:"has_stations,omitempty"`
	FillValue   int               `json:"fill_value"`
	Vars        []VarMeta         `json:"vars"`
}

// Write persists the dataset at path under the given encoding policy,
// replacing any existing file wholesale. The write goes through a temp
// file and rename so readers never see a half-written container.
func Write(path string, ds *Dataset, enc Encoding) error {
	if err := enc.validate(); err != nil {
		return err
	}
	t := ds.Table
	if t.Len() == 0 {
		return fmt.Errorf("ncio: refusing to write empty dataset to %s", path)
	}

	start, end := t.Epochs[0], t.Epochs[0]
	for _, e := range t.Epochs[1:] {
		if e.Before(start) {
			start = e
		}
		if e.After(end) {
			end = e
		}
	}

	hdr := Header{
		Attrs:       ds.Attrs,
		Rows:        t.Len(),
		EpochStart:  start.UTC(),
		EpochEnd:    end.UTC(),
		HasStations: t.Stations != nil,
		FillValue:   FillValue,
	}

	var blocks [][]byte
	blocks = append(blocks, epochBlock(t.Epochs))
	blocks = append(blocks, idBlock(t.Sats))
	if t.Stations != nil {
		blocks = append(blocks, idBlock(t.Stations))
	}

	for _, name := range t.VarNames {
		varEnc := enc.resolve(name)
		payload, err := encodeVar(t.Vars[name], varEnc)
		if err != nil {
			return fmt.Errorf("ncio: encoding %s: %w", name, err)
		}
		blocks = append(blocks, payload)
		hdr.Vars = append(hdr.Vars, VarMeta{Name: name, Unit: ds.Units[name], Encoding: varEnc})
	}

	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(magic)
	writeUint32(&buf, uint32(len(hdrJSON)))
	buf.Write(hdrJSON)
	for _, b := range blocks {
		writeUint32(&buf, uint32(len(b)))
		buf.Write(b)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "gvd-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadHeader decodes only the container's self-description.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hdr, err := readHeader(f, path)
	if err != nil {
		return nil, err
	}
	return hdr, nil
}

// Read decodes the full container back into a dataset.
func Read(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hdr, err := readHeader(f, path)
	if err != nil {
		return nil, err
	}

	t := &table.Table{Vars: make(map[string][]float64)}

	block, err := readBlock(f)
	if err != nil {
		return nil, fmt.Errorf("ncio: %s: epochs: %w", path, err)
	}
	t.Epochs, err = decodeEpochs(block, hdr.Rows)
	if err != nil {
		return nil, fmt.Errorf("ncio: %s: epochs: %w", path, err)
	}

	block, err = readBlock(f)
	if err != nil {
		return nil, fmt.Errorf("ncio: %s: satellites: %w", path, err)
	}
	t.Sats = decodeIDs(block)
	if len(t.Sats) != hdr.Rows {
		return nil, fmt.Errorf("ncio: %s: satellite column has %d rows, want %d", path, len(t.Sats), hdr.Rows)
	}

	if hdr.HasStations {
		block, err = readBlock(f)
		if err != nil {
			return nil, fmt.Errorf("ncio: %s: stations: %w", path, err)
		}
		t.Stations = decodeIDs(block)
		if len(t.Stations) != hdr.Rows {
			return nil, fmt.Errorf("ncio: %s: station column has %d rows, want %d", path, len(t.Stations), hdr.Rows)
		}
	}

	units := make(map[string]string)
	for _, vm := range hdr.Vars {
		block, err = readBlock(f)
		if err != nil {
			return nil, fmt.Errorf("ncio: %s: %s: %w", path, vm.Name, err)
		}
		col, err := decodeVar(block, vm.Encoding, hdr.Rows)
		if err != nil {
			return nil, fmt.Errorf("ncio: %s: %s: %w", path, vm.Name, err)
		}
		t.VarNames = append(t.VarNames, vm.Name)
		t.Vars[vm.Name] = col
		if vm.Unit != "" {
			units[vm.Name] = vm.Unit
		}
	}

	return &Dataset{Table: t, Attrs: hdr.Attrs, Units: units}, nil
}

func readHeader(r io.Reader, path string) (*Header, error) {
	got := make([]byte, len(magic))
	if _, err := io.ReadFull(r, got); err != nil {
		return nil, fmt.Errorf("ncio: %s: %w", path, err)
	}
	if !bytes.Equal(got, magic) {
		return nil, fmt.Errorf("ncio: %s: not a gvd container", path)
	}

	hdrLen, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("ncio: %s: %w", path, err)
	}
	hdrJSON := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrJSON); err != nil {
		return nil, fmt.Errorf("ncio: %s: %w", path, err)
	}

	var hdr Header
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, fmt.Errorf("ncio: %s: header: %w", path, err)
	}
	return &hdr, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readBlock(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func epochBlock(epochs []time.Time) []byte {
	b := make([]byte, 8*len(epochs))
	for i, e := range epochs {
		binary.LittleEndian.PutUint64(b[i*8:], uint64(e.UnixNano()))
	}
	return b
}

func decodeEpochs(b []byte, rows int) ([]time.Time, error) {
	if len(b) != 8*rows {
		return nil, fmt.Errorf("block has %d bytes, want %d", len(b), 8*rows)
	}
	epochs := make([]time.Time, rows)
	for i := range epochs {
		epochs[i] = time.Unix(0, int64(binary.LittleEndian.Uint64(b[i*8:]))).UTC()
	}
	return epochs, nil
}

func idBlock(ids []string) []byte {
	var buf bytes.Buffer
	for i, id := range ids {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(id)
	}
	return buf.Bytes()
}

func decodeIDs(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	return splitLines(string(b))
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

// encodeVar serializes one variable column: raw float64 samples, or scaled
// int16 with the fill-value sentinel for NaN, then the configured codec.
func encodeVar(col []float64, enc VarEncoding) ([]byte, error) {
	var raw []byte
	if enc.Scale > 0 {
		raw = make([]byte, 2*len(col))
		for i, v := range col {
			stored := int16(FillValue)
			if !math.IsNaN(v) {
				q := math.Round(v / enc.Scale)
				if q >= math.MinInt16 && q <= math.MaxInt16 && int16(q) != FillValue {
					stored = int16(q)
				}
			}
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(stored))
		}
	} else {
		raw = make([]byte, 8*len(col))
		for i, v := range col {
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
		}
	}
	return compress(raw, enc)
}

func decodeVar(b []byte, enc VarEncoding, rows int) ([]float64, error) {
	raw, err := decompress(b, enc)
	if err != nil {
		return nil, err
	}

	col := make([]float64, rows)
	if enc.Scale > 0 {
		if len(raw) != 2*rows {
			return nil, fmt.Errorf("quantized block has %d bytes, want %d", len(raw), 2*rows)
		}
		for i := range col {
			stored := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			if stored == FillValue {
				col[i] = math.NaN()
			} else {
				col[i] = float64(stored) * enc.Scale
			}
		}
		return col, nil
	}

	if len(raw) != 8*rows {
		return nil, fmt.Errorf("block has %d bytes, want %d", len(raw), 8*rows)
	}
	for i := range col {
		col[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return col, nil
}

func compress(raw []byte, enc VarEncoding) ([]byte, error) {
	switch enc.Codec {
	case CodecNone:
		return raw, nil

	case CodecGzip:
		level := enc.Level
		if level <= 0 {
			level = gzip.DefaultCompression
		}
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CodecZstd:
		level := zstd.SpeedDefault
		if enc.Level > 0 {
			level = zstd.EncoderLevelFromZstd(enc.Level)
		}
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unknown codec %q", enc.Codec)
	}
}

func decompress(b []byte, enc VarEncoding) ([]byte, error) {
	switch enc.Codec {
	case CodecNone:
		return b, nil

	case CodecGzip:
		r, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)

	case CodecZstd:
		r, err := zstd.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)

	default:
		return nil, fmt.Errorf("unknown codec %q", enc.Codec)
	}
}
