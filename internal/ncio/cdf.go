package ncio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Classic-format header tags.
const (
	tagAbsent    = 0x00
	tagDimension = 0x0A
	tagVariable  = 0x0B
	tagAttribute = 0x0C
)

// Classic external types.
const (
	ncByte   = 1
	ncChar   = 2
	ncShort  = 3
	ncInt    = 4
	ncFloat  = 5
	ncDouble = 6
)

// maxCoordValues caps ReadValues so bulk payloads cannot be read through the
// coordinate path. Coordinate and bounds arrays are far below this.
const maxCoordValues = 1 << 20

// maxNameLen guards against reading absurd lengths from corrupt headers.
const maxNameLen = 1 << 16

func typeSize(t int32) (int, error) {
	switch t {
	case ncByte, ncChar:
		return 1, nil
	case ncShort:
		return 2, nil
	case ncInt, ncFloat:
		return 4, nil
	case ncDouble:
		return 8, nil
	default:
		return 0, fmt.Errorf("invalid external type %d", t)
	}
}

// classicVar is a variable plus the layout info needed to read its values.
type classicVar struct {
	Variable
	typ         int32
	begin       int64
	isRecord    bool
	elemsPerRec int64
}

// classicReader reads netCDF classic (CDF-1) and 64-bit offset (CDF-2) files.
type classicReader struct {
	f       *os.File
	format  Format
	numRecs int64
	dims    []Dimension
	vars    []classicVar
	gatts   AttrMap
	recSize int64
}

var _ Reader = (*classicReader)(nil)

// openClassic parses the header of a classic-format file.
func openClassic(path string, format Format) (*classicReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := &classicReader{f: f, format: format}
	if err := r.parseHeader(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: malformed header: %w", path, err)
	}

	return r, nil
}

func (r *classicReader) Format() Format       { return r.format }
func (r *classicReader) GlobalAttrs() AttrMap { return r.gatts }
func (r *classicReader) Close() error         { return r.f.Close() }

func (r *classicReader) Dimensions() []Dimension {
	out := make([]Dimension, len(r.dims))
	copy(out, r.dims)
	return out
}

func (r *classicReader) Variables() []Variable {
	out := make([]Variable, len(r.vars))
	for i, v := range r.vars {
		out[i] = v.Variable
	}
	return out
}

// hdr is a sequential big-endian header reader.
type hdr struct {
	r *bufio.Reader
}

func (h *hdr) bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(h.r, buf); err != nil {
		return nil, fmt.Errorf("truncated header: %w", err)
	}
	return buf, nil
}

func (h *hdr) i32() (int32, error) {
	buf, err := h.bytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf)), nil
}

func (h *hdr) u64() (uint64, error) {
	buf, err := h.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

// name reads a length-prefixed name padded to a 4-byte boundary.
func (h *hdr) name() (string, error) {
	n, err := h.i32()
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxNameLen {
		return "", fmt.Errorf("name length %d out of range", n)
	}
	buf, err := h.bytes(int(pad4(int64(n))))
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func pad4(n int64) int64 {
	return (n + 3) &^ 3
}

func (r *classicReader) parseHeader() error {
	// Magic already validated by Detect; skip it.
	if _, err := r.f.Seek(4, io.SeekStart); err != nil {
		return err
	}
	h := &hdr{r: bufio.NewReader(r.f)}

	numRecs, err := h.i32()
	if err != nil {
		return err
	}
	if numRecs == -1 {
		return fmt.Errorf("streaming record count not supported")
	}
	r.numRecs = int64(numRecs)

	if err := r.parseDims(h); err != nil {
		return err
	}

	r.gatts, err = r.parseAttrs(h)
	if err != nil {
		return err
	}

	return r.parseVars(h)
}

func (r *classicReader) parseDims(h *hdr) error {
	tag, err := h.i32()
	if err != nil {
		return err
	}
	count, err := h.i32()
	if err != nil {
		return err
	}
	if tag == tagAbsent {
		if count != 0 {
			return fmt.Errorf("absent dim list with count %d", count)
		}
		return nil
	}
	if tag != tagDimension {
		return fmt.Errorf("expected dimension tag, got %#x", tag)
	}

	for i := int32(0); i < count; i++ {
		name, err := h.name()
		if err != nil {
			return err
		}
		length, err := h.i32()
		if err != nil {
			return err
		}
		if length < 0 {
			return fmt.Errorf("dimension %s has negative length", name)
		}

		dim := Dimension{Name: name, Length: int(length)}
		if length == 0 {
			dim.Unlimited = true
			dim.Length = int(r.numRecs)
		}
		r.dims = append(r.dims, dim)
	}

	return nil
}

func (r *classicReader) parseAttrs(h *hdr) (AttrMap, error) {
	tag, err := h.i32()
	if err != nil {
		return nil, err
	}
	count, err := h.i32()
	if err != nil {
		return nil, err
	}
	attrs := AttrMap{}
	if tag == tagAbsent {
		if count != 0 {
			return nil, fmt.Errorf("absent attr list with count %d", count)
		}
		return attrs, nil
	}
	if tag != tagAttribute {
		return nil, fmt.Errorf("expected attribute tag, got %#x", tag)
	}

	for i := int32(0); i < count; i++ {
		name, err := h.name()
		if err != nil {
			return nil, err
		}
		typ, err := h.i32()
		if err != nil {
			return nil, err
		}
		n, err := h.i32()
		if err != nil {
			return nil, err
		}
		size, err := typeSize(typ)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		if n < 0 || int64(n)*int64(size) > maxNameLen*8 {
			return nil, fmt.Errorf("attribute %s has %d values", name, n)
		}

		raw, err := h.bytes(int(pad4(int64(n) * int64(size))))
		if err != nil {
			return nil, err
		}
		raw = raw[:int(n)*size]

		if typ == ncChar {
			attrs[name] = strings.TrimRight(string(raw), "\x00")
			continue
		}

		vals := decodeValues(raw, typ)
		if len(vals) == 1 {
			attrs[name] = vals[0]
		} else {
			attrs[name] = vals
		}
	}

	return attrs, nil
}

func (r *classicReader) parseVars(h *hdr) error {
	tag, err := h.i32()
	if err != nil {
		return err
	}
	count, err := h.i32()
	if err != nil {
		return err
	}
	if tag == tagAbsent {
		if count != 0 {
			return fmt.Errorf("absent var list with count %d", count)
		}
		return nil
	}
	if tag != tagVariable {
		return fmt.Errorf("expected variable tag, got %#x", tag)
	}

	recordVars := 0
	for i := int32(0); i < count; i++ {
		name, err := h.name()
		if err != nil {
			return err
		}
		ndims, err := h.i32()
		if err != nil {
			return err
		}
		if ndims < 0 || int(ndims) > len(r.dims) {
			return fmt.Errorf("variable %s has %d dimensions", name, ndims)
		}

		v := classicVar{Variable: Variable{Name: name}}
		for d := int32(0); d < ndims; d++ {
			dimid, err := h.i32()
			if err != nil {
				return err
			}
			if dimid < 0 || int(dimid) >= len(r.dims) {
				return fmt.Errorf("variable %s references dimension %d", name, dimid)
			}
			dim := r.dims[dimid]
			v.Dimensions = append(v.Dimensions, dim.Name)
			v.Shape = append(v.Shape, dim.Length)
			if dim.Unlimited {
				if d != 0 {
					return fmt.Errorf("variable %s: record dimension must be first", name)
				}
				v.isRecord = true
			}
		}

		v.Attrs, err = r.parseAttrs(h)
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}

		v.typ, err = h.i32()
		if err != nil {
			return err
		}
		if _, err := typeSize(v.typ); err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}

		// vsize is stored in the header but may overflow for large files;
		// recompute layout from dimensions instead.
		if _, err := h.i32(); err != nil {
			return err
		}

		switch r.format {
		case FormatCDF2:
			begin, err := h.u64()
			if err != nil {
				return err
			}
			v.begin = int64(begin)
		default:
			begin, err := h.i32()
			if err != nil {
				return err
			}
			v.begin = int64(uint32(begin))
		}

		v.elemsPerRec = 1
		for d, n := range v.Shape {
			if d == 0 && v.isRecord {
				continue
			}
			v.elemsPerRec *= int64(n)
		}
		if v.isRecord {
			recordVars++
		}

		r.vars = append(r.vars, v)
	}

	// Record slab size: sum of padded per-record sizes. A lone record
	// variable is laid out without padding.
	r.recSize = 0
	var lastRec *classicVar
	for i := range r.vars {
		v := &r.vars[i]
		if !v.isRecord {
			continue
		}
		size, _ := typeSize(v.typ)
		r.recSize += pad4(v.elemsPerRec * int64(size))
		lastRec = v
	}
	if recordVars == 1 && lastRec != nil {
		size, _ := typeSize(lastRec.typ)
		r.recSize = lastRec.elemsPerRec * int64(size)
	}

	return nil
}

// ReadValues reads the full numeric contents of a small variable.
func (r *classicReader) ReadValues(name string) ([]float64, error) {
	var v *classicVar
	for i := range r.vars {
		if r.vars[i].Name == name {
			v = &r.vars[i]
			break
		}
	}
	if v == nil {
		return nil, fmt.Errorf("no such variable %q", name)
	}
	if v.typ == ncChar {
		return nil, fmt.Errorf("variable %q holds character data", name)
	}

	size, err := typeSize(v.typ)
	if err != nil {
		return nil, err
	}

	total := v.elemsPerRec
	if v.isRecord {
		total *= r.numRecs
	}
	if total > maxCoordValues {
		return nil, fmt.Errorf("variable %q has %d values, refusing to read bulk data", name, total)
	}
	if total == 0 {
		return nil, nil
	}

	if !v.isRecord {
		buf := make([]byte, total*int64(size))
		if _, err := r.f.ReadAt(buf, v.begin); err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		return decodeValues(buf, v.typ), nil
	}

	// Record variable: one slab per record, interleaved with the other
	// record variables at recSize stride.
	out := make([]float64, 0, total)
	slab := make([]byte, v.elemsPerRec*int64(size))
	for rec := int64(0); rec < r.numRecs; rec++ {
		off := v.begin + rec*r.recSize
		if _, err := r.f.ReadAt(slab, off); err != nil {
			return nil, fmt.Errorf("read %q record %d: %w", name, rec, err)
		}
		out = append(out, decodeValues(slab, v.typ)...)
	}
	return out, nil
}

// decodeValues converts big-endian raw bytes to float64 values.
func decodeValues(raw []byte, typ int32) []float64 {
	size, _ := typeSize(typ)
	n := len(raw) / size
	out := make([]float64, n)

	for i := 0; i < n; i++ {
		b := raw[i*size:]
		switch typ {
		case ncByte:
			out[i] = float64(int8(b[0]))
		case ncShort:
			out[i] = float64(int16(binary.BigEndian.Uint16(b)))
		case ncInt:
			out[i] = float64(int32(binary.BigEndian.Uint32(b)))
		case ncFloat:
			out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case ncDouble:
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(b))
		}
	}

	return out
}
