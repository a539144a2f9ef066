// Package ncio reads structural metadata from self-describing gridded array
// files. Only headers and small coordinate arrays are ever read; bulk data
// payloads are never touched.
//
// Formats are modeled as a capability interface with one implementation per
// supported container, selected by inspecting the file's magic bytes.
package ncio

import (
	"errors"
	"fmt"
	"os"
)

// Format identifies a recognized file container format.
type Format string

const (
	// FormatCDF1 is the netCDF classic format (32-bit offsets).
	FormatCDF1 Format = "netcdf-classic"
	// FormatCDF2 is the netCDF 64-bit offset format.
	FormatCDF2 Format = "netcdf-64bit-offset"
	// FormatHDF5 is an HDF5 container (netCDF-4). Recognized but not
	// readable by the built-in reader.
	FormatHDF5 Format = "netcdf4-hdf5"
)

// ErrUnknownFormat indicates the file is not a recognized array container.
var ErrUnknownFormat = errors.New("unknown file format")

// ErrUnsupportedFormat indicates a recognized container with no reader.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Dimension describes a named array dimension.
type Dimension struct {
	Name   string
	Length int
	// Unlimited marks the record dimension. Its Length is the current
	// number of records.
	Unlimited bool
}

// AttrMap holds attribute values keyed by name. Values are string, float64,
// or []float64 depending on the stored type.
type AttrMap map[string]any

// Str returns the attribute as a string if present and textual.
func (m AttrMap) Str(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Variable describes a variable's schema without its data.
type Variable struct {
	Name       string
	Dimensions []string
	Shape      []int
	Attrs      AttrMap
}

// Reader is the capability interface over one open file.
// Implementations read the header eagerly and coordinate values on demand.
type Reader interface {
	// Format identifies the underlying container.
	Format() Format

	// Dimensions lists the file's dimensions in declaration order.
	Dimensions() []Dimension

	// Variables lists the file's variables in declaration order.
	Variables() []Variable

	// GlobalAttrs returns the file-level attributes.
	GlobalAttrs() AttrMap

	// ReadValues reads the full numeric contents of a small variable
	// (coordinate or bounds arrays). It refuses variables larger than an
	// internal cap so bulk payloads can never be pulled in by accident.
	ReadValues(name string) ([]float64, error)

	Close() error
}

// Detect inspects a file's magic bytes and reports its format.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	magic := make([]byte, 8)
	n, err := f.Read(magic)
	if err != nil || n < 4 {
		return "", ErrUnknownFormat
	}

	switch {
	case magic[0] == 'C' && magic[1] == 'D' && magic[2] == 'F' && magic[3] == 1:
		return FormatCDF1, nil
	case magic[0] == 'C' && magic[1] == 'D' && magic[2] == 'F' && magic[3] == 2:
		return FormatCDF2, nil
	case n >= 8 && string(magic[:8]) == "\x89HDF\r\n\x1a\n":
		return FormatHDF5, nil
	default:
		return "", ErrUnknownFormat
	}
}

// Open detects the file's format and returns a Reader for it.
func Open(path string) (Reader, error) {
	format, err := Detect(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCDF1, FormatCDF2:
		return openClassic(path, format)
	case FormatHDF5:
		return nil, fmt.Errorf("%w: %s (netCDF-4/HDF5 requires an external reader)", ErrUnsupportedFormat, format)
	default:
		return nil, ErrUnknownFormat
	}
}
