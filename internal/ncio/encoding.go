// Package ncio persists observation tables as self-describing encoded
// containers (.gvd files). A JSON header carries the attributes, variable
// names, units, fill-value convention, and the per-variable encoding that
// was actually applied, so readers and range scans never need to guess.
package ncio

import (
	"fmt"
	"path"
)

// Codec names recognized in a variable encoding.
const (
	CodecNone = "none"
	CodecGzip = "gzip"
	CodecZstd = "zstd"
)

// FillValue is the stored int16 sentinel marking a missing sample in
// quantized blocks.
const FillValue = -9999

// VarEncoding describes how one variable's block is stored. A zero Scale
// keeps raw float64 samples; a positive Scale quantizes to int16 with
// actual = stored * Scale and FillValue marking missing samples.
type VarEncoding struct {
	Codec string  `json:"codec"`
	Level int     `json:"level,omitempty"`
	Scale float64 `json:"scale,omitempty"`
}

func (e VarEncoding) validate(name string) error {
	switch e.Codec {
	case CodecNone, CodecGzip, CodecZstd:
	default:
		return fmt.Errorf("ncio: variable %s: unknown codec %q", name, e.Codec)
	}
	if e.Scale < 0 {
		return fmt.Errorf("ncio: variable %s: negative scale", name)
	}
	return nil
}

type policy int

const (
	policyDefault policy = iota
	policyNone
	policyExplicit
)

// Encoding is the full recognized configuration surface for persistence
// calls: the default policy, no compression, or an explicit per-variable
// mapping. Anything else is rejected before it reaches the writer.
type Encoding struct {
	policy policy
	perVar map[string]VarEncoding
}

// Default compresses signal-strength and angle variables as scaled int16
// gzip blocks (scale 0.1, or 0.2 for VOD bands) and leaves everything else
// raw.
func Default() Encoding { return Encoding{policy: policyDefault} }

// None stores every variable as raw float64 samples.
func None() Encoding { return Encoding{policy: policyNone} }

// Explicit applies the given per-variable encodings; variables not listed
// are stored raw.
func Explicit(perVar map[string]VarEncoding) Encoding {
	return Encoding{policy: policyExplicit, perVar: perVar}
}

// ParseEncoding maps the config strings "default" and "none" (or empty,
// meaning none) to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "default":
		return Default(), nil
	case "none", "":
		return None(), nil
	default:
		return Encoding{}, fmt.Errorf("ncio: unknown encoding policy %q", s)
	}
}

// resolve returns the encoding applied to one variable under this policy.
func (e Encoding) resolve(name string) VarEncoding {
	switch e.policy {
	case policyNone:
		return VarEncoding{Codec: CodecNone}

	case policyExplicit:
		if enc, ok := e.perVar[name]; ok {
			return enc
		}
		return VarEncoding{Codec: CodecNone}

	default:
		if matchAny(name, "S?", "S??", "Azimuth", "Elevation") {
			return VarEncoding{Codec: CodecGzip, Level: 6, Scale: 0.1}
		}
		if matchAny(name, "VOD*") {
			return VarEncoding{Codec: CodecGzip, Level: 6, Scale: 0.2}
		}
		return VarEncoding{Codec: CodecNone}
	}
}

func (e Encoding) validate() error {
	for name, enc := range e.perVar {
		if err := enc.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func matchAny(name string, patterns ...string) bool {
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, name); ok {
			return true
		}
	}
	return false
}
