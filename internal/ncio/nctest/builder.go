// Package nctest builds small netCDF classic files for tests and fixtures.
// All numeric data is written as NC_DOUBLE.
package nctest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

const (
	tagAbsent    = 0x00
	tagDimension = 0x0A
	tagVariable  = 0x0B
	tagAttribute = 0x0C

	ncChar   = 2
	ncDouble = 6
)

// Dim declares a dimension. For an unlimited (record) dimension, Length is
// the number of records to write.
type Dim struct {
	Name      string
	Length    int
	Unlimited bool
}

// Var declares a variable. Data is laid out in row-major order; nil data
// writes zeros. Attribute values may be string, float64, int, or []float64.
type Var struct {
	Name  string
	Dims  []string
	Attrs map[string]any
	Data  []float64
}

// File declares a complete classic-format file.
type File struct {
	Dims        []Dim
	GlobalAttrs map[string]any
	Vars        []Var
}

// WriteFile serializes the file to path in CDF-1 format.
func (f *File) WriteFile(path string) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Encode serializes the file to CDF-1 bytes.
func (f *File) Encode() ([]byte, error) {
	numRecs, err := f.numRecords()
	if err != nil {
		return nil, err
	}

	// First pass with zero begins to measure the header; begin fields are
	// fixed-width so the length does not change.
	begins := make([]int64, len(f.Vars))
	hdr, err := f.encodeHeader(numRecs, begins)
	if err != nil {
		return nil, err
	}

	// Lay out fixed variables first, then the record section.
	offset := int64(len(hdr))
	for i, v := range f.Vars {
		if f.isRecordVar(v) {
			continue
		}
		begins[i] = offset
		offset += int64(f.varElemsPerRec(v)) * 8
	}

	recVars := 0
	for _, v := range f.Vars {
		if f.isRecordVar(v) {
			recVars++
		}
	}
	recStart := offset
	for i, v := range f.Vars {
		if !f.isRecordVar(v) {
			continue
		}
		begins[i] = recStart
		recStart += pad4(int64(f.varElemsPerRec(v)) * 8)
	}

	hdr, err = f.encodeHeader(numRecs, begins)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(hdr)

	// Fixed variable data.
	for _, v := range f.Vars {
		if f.isRecordVar(v) {
			continue
		}
		n := f.varElemsPerRec(v)
		if err := writeDoubles(&buf, v.Data, n); err != nil {
			return nil, fmt.Errorf("variable %s: %w", v.Name, err)
		}
	}

	// Record data: one slab per record per record variable, each slab
	// padded to 4 bytes (doubles are already aligned).
	for rec := 0; rec < numRecs; rec++ {
		for _, v := range f.Vars {
			if !f.isRecordVar(v) {
				continue
			}
			n := f.varElemsPerRec(v)
			var slab []float64
			if v.Data != nil {
				lo := rec * n
				hi := lo + n
				if hi > len(v.Data) {
					return nil, fmt.Errorf("variable %s: data too short for record %d", v.Name, rec)
				}
				slab = v.Data[lo:hi]
			}
			if err := writeDoubles(&buf, slab, n); err != nil {
				return nil, fmt.Errorf("variable %s: %w", v.Name, err)
			}
		}
	}

	return buf.Bytes(), nil
}

// numRecords returns the record count declared by the unlimited dimension.
func (f *File) numRecords() (int, error) {
	n := 0
	seen := false
	for _, d := range f.Dims {
		if d.Unlimited {
			if seen {
				return 0, fmt.Errorf("multiple unlimited dimensions")
			}
			seen = true
			n = d.Length
		}
	}
	return n, nil
}

func (f *File) dim(name string) (Dim, int, error) {
	for i, d := range f.Dims {
		if d.Name == name {
			return d, i, nil
		}
	}
	return Dim{}, 0, fmt.Errorf("undeclared dimension %q", name)
}

func (f *File) isRecordVar(v Var) bool {
	if len(v.Dims) == 0 {
		return false
	}
	d, _, err := f.dim(v.Dims[0])
	return err == nil && d.Unlimited
}

// varElemsPerRec returns the element count per record (or the total element
// count for fixed variables).
func (f *File) varElemsPerRec(v Var) int {
	n := 1
	for i, name := range v.Dims {
		d, _, err := f.dim(name)
		if err != nil {
			continue
		}
		if i == 0 && d.Unlimited {
			continue
		}
		n *= d.Length
	}
	return n
}

func (f *File) encodeHeader(numRecs int, begins []int64) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("CDF\x01")
	writeI32(&buf, int32(numRecs))

	// Dimension list.
	if len(f.Dims) == 0 {
		writeI32(&buf, tagAbsent)
		writeI32(&buf, 0)
	} else {
		writeI32(&buf, tagDimension)
		writeI32(&buf, int32(len(f.Dims)))
		for _, d := range f.Dims {
			writeName(&buf, d.Name)
			if d.Unlimited {
				writeI32(&buf, 0)
			} else {
				writeI32(&buf, int32(d.Length))
			}
		}
	}

	if err := writeAttrs(&buf, f.GlobalAttrs); err != nil {
		return nil, err
	}

	// Variable list.
	if len(f.Vars) == 0 {
		writeI32(&buf, tagAbsent)
		writeI32(&buf, 0)
	} else {
		writeI32(&buf, tagVariable)
		writeI32(&buf, int32(len(f.Vars)))
		for i, v := range f.Vars {
			writeName(&buf, v.Name)
			writeI32(&buf, int32(len(v.Dims)))
			for _, name := range v.Dims {
				_, dimid, err := f.dim(name)
				if err != nil {
					return nil, fmt.Errorf("variable %s: %w", v.Name, err)
				}
				writeI32(&buf, int32(dimid))
			}
			if err := writeAttrs(&buf, v.Attrs); err != nil {
				return nil, fmt.Errorf("variable %s: %w", v.Name, err)
			}
			writeI32(&buf, ncDouble)
			writeI32(&buf, int32(pad4(int64(f.varElemsPerRec(v))*8)))
			writeI32(&buf, int32(begins[i]))
		}
	}

	return buf.Bytes(), nil
}

func writeI32(buf *bytes.Buffer, v int32) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeName(buf *bytes.Buffer, name string) {
	writeI32(buf, int32(len(name)))
	buf.WriteString(name)
	for i := int64(len(name)); i < pad4(int64(len(name))); i++ {
		buf.WriteByte(0)
	}
}

// writeAttrs writes an attribute list in sorted name order so encoding is
// deterministic.
func writeAttrs(buf *bytes.Buffer, attrs map[string]any) error {
	if len(attrs) == 0 {
		writeI32(buf, tagAbsent)
		writeI32(buf, 0)
		return nil
	}

	writeI32(buf, tagAttribute)
	writeI32(buf, int32(len(attrs)))

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		writeName(buf, name)
		switch v := attrs[name].(type) {
		case string:
			writeI32(buf, ncChar)
			writeI32(buf, int32(len(v)))
			buf.WriteString(v)
			for i := int64(len(v)); i < pad4(int64(len(v))); i++ {
				buf.WriteByte(0)
			}
		case float64:
			writeI32(buf, ncDouble)
			writeI32(buf, 1)
			_ = binary.Write(buf, binary.BigEndian, v)
		case int:
			writeI32(buf, ncDouble)
			writeI32(buf, 1)
			_ = binary.Write(buf, binary.BigEndian, float64(v))
		case []float64:
			writeI32(buf, ncDouble)
			writeI32(buf, int32(len(v)))
			for _, x := range v {
				_ = binary.Write(buf, binary.BigEndian, x)
			}
		default:
			return fmt.Errorf("attribute %s: unsupported value type %T", name, v)
		}
	}

	return nil
}

// writeDoubles writes n doubles from data (zero-filled when data is short),
// padded to a 4-byte boundary.
func writeDoubles(buf *bytes.Buffer, data []float64, n int) error {
	for i := 0; i < n; i++ {
		var v float64
		if i < len(data) {
			v = data[i]
		}
		_ = binary.Write(buf, binary.BigEndian, v)
	}
	for i := int64(n) * 8; i < pad4(int64(n)*8); i++ {
		buf.WriteByte(0)
	}
	return nil
}

func pad4(n int64) int64 {
	return (n + 3) &^ 3
}
