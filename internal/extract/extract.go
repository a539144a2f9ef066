// Package extract turns one candidate file into a structured metadata record:
// variables, dimensions, global attributes and time coverage. Only the header
// and small coordinate arrays are read, never bulk payload. A failed or timed
// out extraction marks the file unparsable and never blocks other files.
package extract

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gridcat/gridcat/internal/catalog"
	"github.com/gridcat/gridcat/internal/errors"
	"github.com/gridcat/gridcat/internal/ncio"
	"github.com/gridcat/gridcat/internal/timeaxis"
)

// DefaultTimeout bounds a single file's extraction.
const DefaultTimeout = 30 * time.Second

// runSegmentRe matches path components that name an output segment, the
// run identity convention used by model run directories (output000,
// output123).
var runSegmentRe = regexp.MustCompile(`^output\d+$`)

// Extractor opens files and produces catalog metadata.
type Extractor struct {
	timeout time.Duration
}

// New creates an Extractor with the given per-file timeout (0 means
// DefaultTimeout).
func New(timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{timeout: timeout}
}

// Extract reads the metadata of the file at path. root is the experiment
// root directory, used for run detection from the file's location.
//
// Errors are structured: ErrCodeFileUnreadable for IO failures,
// ErrCodeFileUnparsable / ErrCodeFormatUnknown / ErrCodeTimeAxisInvalid for
// terminal parse failures, and ErrCodeExtractTimeout (retryable) when the
// bounded timeout elapses.
func (e *Extractor) Extract(ctx context.Context, path, root string) (*catalog.FileMeta, error) {
	type outcome struct {
		meta *catalog.FileMeta
		err  error
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		meta, err := e.extract(path, root)
		ch <- outcome{meta: meta, err: err}
	}()

	select {
	case out := <-ch:
		return out.meta, out.err
	case <-ctx.Done():
		// Keep a result that raced the deadline rather than discarding
		// finished work.
		select {
		case out := <-ch:
			return out.meta, out.err
		default:
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeExtractTimeout,
				fmt.Sprintf("extraction of %s exceeded %s", path, e.timeout), ctx.Err()).
				WithDetail("path", path)
		}
		return nil, ctx.Err()
	}
}

func (e *Extractor) extract(path, root string) (*catalog.FileMeta, error) {
	r, err := ncio.Open(path)
	if err != nil {
		switch {
		case stderrors.Is(err, fs.ErrNotExist), stderrors.Is(err, fs.ErrPermission):
			return nil, errors.Unreadable(path, err)
		case stderrors.Is(err, ncio.ErrUnknownFormat), stderrors.Is(err, ncio.ErrUnsupportedFormat):
			return nil, errors.New(errors.ErrCodeFormatUnknown,
				fmt.Sprintf("unrecognized or unsupported format: %s", path), err).
				WithDetail("path", path)
		default:
			return nil, errors.Unparsable(path, err)
		}
	}
	defer func() { _ = r.Close() }()

	gatts := r.GlobalAttrs()
	meta := &catalog.FileMeta{
		Format: string(r.Format()),
		Run:    detectRun(gatts, path, root),
		Attrs:  stringifyAttrs(gatts),
	}

	timeVar, cov, err := e.timeCoverage(r, path)
	if err != nil {
		return nil, err
	}

	for _, v := range r.Variables() {
		vm := catalog.VariableMeta{
			Name:       v.Name,
			Dimensions: v.Dimensions,
			Shape:      v.Shape,
		}
		if s, ok := v.Attrs.Str("long_name"); ok {
			vm.LongName = s
		}
		if s, ok := v.Attrs.Str("units"); ok {
			vm.Units = s
		}
		// Coverage applies to variables laid out along the time axis.
		if cov != nil && len(v.Dimensions) > 0 && v.Dimensions[0] == timeVar {
			c := *cov
			vm.Coverage = &c
		}
		meta.Variables = append(meta.Variables, vm)
	}

	return meta, nil
}

// timeCoverage locates the time coordinate, decodes it, and derives
// [start, end] plus the output frequency. Files without a time axis are
// valid; all their variables are static.
func (e *Extractor) timeCoverage(r ncio.Reader, path string) (string, *catalog.Coverage, error) {
	name := findTimeVariable(r)
	if name == "" {
		return "", nil, nil
	}

	var timeVar *ncio.Variable
	for _, v := range r.Variables() {
		if v.Name == name {
			vv := v
			timeVar = &vv
			break
		}
	}

	unitsAttr, ok := timeVar.Attrs.Str("units")
	if !ok {
		return "", nil, errors.New(errors.ErrCodeTimeAxisInvalid,
			fmt.Sprintf("time variable %q has no units attribute", name), nil).
			WithDetail("path", path)
	}
	units, err := timeaxis.ParseUnits(unitsAttr)
	if err != nil {
		return "", nil, errors.New(errors.ErrCodeTimeAxisInvalid,
			fmt.Sprintf("time variable %q has malformed units %q", name, unitsAttr), err).
			WithDetail("path", path)
	}

	calAttr, _ := timeVar.Attrs.Str("calendar")
	cal := timeaxis.ParseCalendar(calAttr)

	values, err := r.ReadValues(name)
	if err != nil {
		return "", nil, errors.Unparsable(path, err)
	}
	if len(values) == 0 {
		return "", nil, nil
	}

	cov := &catalog.Coverage{Calendar: string(cal)}

	// Bounds give the true averaging period; fall back to value spacing.
	if bounds := readBounds(r, timeVar, len(values)); bounds != nil {
		cov.Start = timeaxis.NumToDate(bounds[0], units, cal).String()
		cov.End = timeaxis.NumToDate(bounds[len(bounds)-1], units, cal).String()
		first := timeaxis.NumToDate(bounds[0], units, cal)
		second := timeaxis.NumToDate(bounds[1], units, cal)
		cov.Frequency = timeaxis.InferFrequency(timeaxis.DeltaDays(first, second, cal))
	} else {
		cov.Start = timeaxis.NumToDate(values[0], units, cal).String()
		cov.End = timeaxis.NumToDate(values[len(values)-1], units, cal).String()
		if len(values) < 2 {
			cov.Frequency = timeaxis.FrequencyStatic
		} else {
			first := timeaxis.NumToDate(values[0], units, cal)
			second := timeaxis.NumToDate(values[1], units, cal)
			cov.Frequency = timeaxis.InferFrequency(timeaxis.DeltaDays(first, second, cal))
		}
	}

	return name, cov, nil
}

// findTimeVariable picks the time coordinate: standard_name "time" first,
// then axis "T", then the coordinate variable of the record dimension, then a
// variable literally named "time".
func findTimeVariable(r ncio.Reader) string {
	vars := r.Variables()

	for _, v := range vars {
		if s, ok := v.Attrs.Str("standard_name"); ok && s == "time" {
			return v.Name
		}
	}
	for _, v := range vars {
		if s, ok := v.Attrs.Str("axis"); ok && strings.EqualFold(s, "T") {
			return v.Name
		}
	}
	for _, d := range r.Dimensions() {
		if !d.Unlimited {
			continue
		}
		for _, v := range vars {
			if v.Name == d.Name && len(v.Dimensions) == 1 && v.Dimensions[0] == d.Name {
				return v.Name
			}
		}
	}
	for _, v := range vars {
		if v.Name == "time" {
			return v.Name
		}
	}
	return ""
}

// readBounds reads the flattened [lo, hi] pairs named by the time variable's
// bounds attribute. Returns nil when absent or inconsistent.
func readBounds(r ncio.Reader, timeVar *ncio.Variable, n int) []float64 {
	boundsName, ok := timeVar.Attrs.Str("bounds")
	if !ok {
		return nil
	}
	values, err := r.ReadValues(boundsName)
	if err != nil || len(values) != 2*n || n == 0 {
		if err != nil {
			slog.Debug("ignoring unreadable bounds variable",
				slog.String("variable", boundsName),
				slog.String("error", err.Error()))
		}
		return nil
	}
	return values
}

// detectRun resolves the run identity for a file: explicit global attributes
// first, then an output segment in the path below the experiment root, then
// the default run "".
func detectRun(gatts ncio.AttrMap, path, root string) string {
	for _, key := range []string{"run", "realization", "experiment_id"} {
		if s, ok := gatts.Str(key); ok && s != "" {
			return s
		}
	}

	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	for _, seg := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if runSegmentRe.MatchString(seg) {
			return seg
		}
	}
	return ""
}

// stringifyAttrs renders global attributes to strings for the side
// key-value table.
func stringifyAttrs(gatts ncio.AttrMap) map[string]string {
	out := make(map[string]string, len(gatts))
	for name, value := range gatts {
		switch v := value.(type) {
		case string:
			out[name] = v
		default:
			out[name] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
