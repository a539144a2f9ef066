package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcat/gridcat/internal/catalog"
	"github.com/gridcat/gridcat/internal/errors"
	"github.com/gridcat/gridcat/internal/ncio/nctest"
)

func writeTimeSeries(t *testing.T, dir, name string, ts nctest.TimeSeries) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, ts.Write(path))
	return path
}

func findVar(t *testing.T, meta *catalog.FileMeta, name string) catalog.VariableMeta {
	t.Helper()
	for _, v := range meta.Variables {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("variable %s not extracted", name)
	return catalog.VariableMeta{}
}

func TestExtract_MonthlyCoverage(t *testing.T) {
	root := t.TempDir()
	path := writeTimeSeries(t, root, "output000/ocean.nc", nctest.TimeSeries{
		VarName:   "temp",
		Units:     "K",
		TimeUnits: "days since 2000-01-01",
		Times:     []float64{15, 45, 75},
	})

	meta, err := New(0).Extract(context.Background(), path, root)
	require.NoError(t, err)

	assert.Equal(t, "netcdf-classic", meta.Format)
	assert.Equal(t, "output000", meta.Run)

	temp := findVar(t, meta, "temp")
	assert.Equal(t, "K", temp.Units)
	assert.Equal(t, []string{"time", "lat", "lon"}, temp.Dimensions)
	require.NotNil(t, temp.Coverage)
	assert.Equal(t, "2000-01-16 00:00:00", temp.Coverage.Start)
	assert.Equal(t, "2000-03-16 00:00:00", temp.Coverage.End)
	assert.Equal(t, "1 monthly", temp.Coverage.Frequency)
	assert.Equal(t, "standard", temp.Coverage.Calendar)

	// Spatial coordinates carry no time coverage.
	lat := findVar(t, meta, "lat")
	assert.Nil(t, lat.Coverage)
}

func TestExtract_BoundsCoverage(t *testing.T) {
	root := t.TempDir()
	path := writeTimeSeries(t, root, "ocean.nc", nctest.TimeSeries{
		VarName:   "temp",
		Units:     "K",
		TimeUnits: "days since 2000-01-01",
		Times:     []float64{15.5, 45.5},
		Bounds:    [][2]float64{{0, 31}, {31, 60}},
	})

	meta, err := New(0).Extract(context.Background(), path, root)
	require.NoError(t, err)

	temp := findVar(t, meta, "temp")
	require.NotNil(t, temp.Coverage)
	// Bounds give the averaging period: full months, not midpoints.
	assert.Equal(t, "2000-01-01 00:00:00", temp.Coverage.Start)
	assert.Equal(t, "2000-03-01 00:00:00", temp.Coverage.End)
	assert.Equal(t, "1 monthly", temp.Coverage.Frequency)
}

func TestExtract_NoleapCalendar(t *testing.T) {
	root := t.TempDir()
	path := writeTimeSeries(t, root, "ocean.nc", nctest.TimeSeries{
		VarName:   "temp",
		Units:     "K",
		TimeUnits: "days since 2000-01-01",
		Calendar:  "noleap",
		Times:     []float64{58, 59},
	})

	meta, err := New(0).Extract(context.Background(), path, root)
	require.NoError(t, err)

	temp := findVar(t, meta, "temp")
	require.NotNil(t, temp.Coverage)
	// Day 59 from 2000-01-01 skips Feb 29 under noleap.
	assert.Equal(t, "2000-02-28 00:00:00", temp.Coverage.Start)
	assert.Equal(t, "2000-03-01 00:00:00", temp.Coverage.End)
	assert.Equal(t, "noleap", temp.Coverage.Calendar)
}

func TestExtract_StaticSingleValue(t *testing.T) {
	root := t.TempDir()
	path := writeTimeSeries(t, root, "grid.nc", nctest.TimeSeries{
		VarName:   "area",
		Units:     "m2",
		TimeUnits: "days since 2000-01-01",
		Times:     []float64{0},
	})

	meta, err := New(0).Extract(context.Background(), path, root)
	require.NoError(t, err)

	area := findVar(t, meta, "area")
	require.NotNil(t, area.Coverage)
	assert.Equal(t, "static", area.Coverage.Frequency)
	assert.Equal(t, area.Coverage.Start, area.Coverage.End)
}

func TestExtract_RunFromGlobalAttr(t *testing.T) {
	root := t.TempDir()
	path := writeTimeSeries(t, root, "output007/ocean.nc", nctest.TimeSeries{
		VarName:     "temp",
		Units:       "K",
		TimeUnits:   "days since 2000-01-01",
		Times:       []float64{0},
		GlobalAttrs: map[string]any{"run": "r1i1p1"},
	})

	meta, err := New(0).Extract(context.Background(), path, root)
	require.NoError(t, err)

	// An explicit run attribute wins over the path segment.
	assert.Equal(t, "r1i1p1", meta.Run)
}

func TestExtract_NoRunDetected(t *testing.T) {
	root := t.TempDir()
	path := writeTimeSeries(t, root, "misc/ocean.nc", nctest.TimeSeries{
		VarName:   "temp",
		Units:     "K",
		TimeUnits: "days since 2000-01-01",
		Times:     []float64{0},
	})

	meta, err := New(0).Extract(context.Background(), path, root)
	require.NoError(t, err)
	assert.Equal(t, "", meta.Run)
}

func TestExtract_GlobalAttrs(t *testing.T) {
	root := t.TempDir()
	path := writeTimeSeries(t, root, "ocean.nc", nctest.TimeSeries{
		VarName:   "temp",
		Units:     "K",
		TimeUnits: "days since 2000-01-01",
		Times:     []float64{0},
		GlobalAttrs: map[string]any{
			"title":   "ocean output",
			"version": 2.5,
		},
	})

	meta, err := New(0).Extract(context.Background(), path, root)
	require.NoError(t, err)
	assert.Equal(t, "ocean output", meta.Attrs["title"])
	assert.Equal(t, "2.5", meta.Attrs["version"])
}

func TestExtract_UnknownFormat(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "junk.nc")
	require.NoError(t, os.WriteFile(path, []byte("not a netcdf file"), 0o644))

	_, err := New(0).Extract(context.Background(), path, root)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFormatUnknown, errors.GetCode(err))
}

func TestExtract_UnsupportedHDF5(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "v4.nc")
	require.NoError(t, os.WriteFile(path, []byte("\x89HDF\r\n\x1a\npayload"), 0o644))

	_, err := New(0).Extract(context.Background(), path, root)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFormatUnknown, errors.GetCode(err))
}

func TestExtract_MissingFile(t *testing.T) {
	root := t.TempDir()

	_, err := New(0).Extract(context.Background(), filepath.Join(root, "gone.nc"), root)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileUnreadable, errors.GetCode(err))
}

func TestExtract_TimeUnitsMissing(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "bad.nc")

	f := &nctest.File{
		Dims: []nctest.Dim{{Name: "time", Length: 2, Unlimited: true}},
		Vars: []nctest.Var{{
			Name:  "time",
			Dims:  []string{"time"},
			Attrs: map[string]any{"standard_name": "time"},
			Data:  []float64{0, 1},
		}},
	}
	require.NoError(t, f.WriteFile(path))

	_, err := New(0).Extract(context.Background(), path, root)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTimeAxisInvalid, errors.GetCode(err))
}

func TestExtract_Timeout(t *testing.T) {
	root := t.TempDir()
	path := writeTimeSeries(t, root, "ocean.nc", nctest.TimeSeries{
		VarName:   "temp",
		Units:     "K",
		TimeUnits: "days since 2000-01-01",
		Times:     []float64{0},
	})

	// An already expired deadline forces the timeout path regardless of how
	// fast the parse itself is.
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := New(time.Minute).Extract(ctx, path, root)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeExtractTimeout, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
}
