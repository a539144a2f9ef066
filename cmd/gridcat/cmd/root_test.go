package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcat/gridcat/internal/ncio/nctest"
	"github.com/gridcat/gridcat/internal/planner"
)

// execute runs the CLI with the given args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeMonthly writes a monthly-mean file whose bounds cover
// [startDay, startDay+sum(monthDays)] days since 2000-01-01.
func writeMonthly(t *testing.T, path string, startDay float64, monthDays []float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	var times []float64
	var bounds [][2]float64
	lo := startDay
	for _, days := range monthDays {
		hi := lo + days
		times = append(times, (lo+hi)/2)
		bounds = append(bounds, [2]float64{lo, hi})
		lo = hi
	}

	require.NoError(t, nctest.TimeSeries{
		VarName:   "temp",
		Units:     "K",
		TimeUnits: "days since 2000-01-01",
		Times:     times,
		Bounds:    bounds,
	}.Write(path))
}

func TestBuildThenQuery(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catalog.db")
	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "output000", "a.nc"),
		0, []float64{31, 29, 31})

	// When the catalog is built from the root
	out, err := execute(t, "build", root, "--catalog", db)
	require.NoError(t, err)
	assert.Contains(t, out, "1 parsed")

	// Then a query resolves the file with its coverage
	out, err = execute(t, "query", "exp1", "temp", "--json", "--catalog", db)
	require.NoError(t, err)

	var plan planner.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan.Files, 1)
	assert.Equal(t, filepath.Join(root, "output000", "a.nc"), plan.Files[0].Path)
	assert.Equal(t, "2000-01-01 00:00:00", plan.Files[0].Start)
	assert.Equal(t, "2000-04-01 00:00:00", plan.Files[0].End)
	assert.Equal(t, "output000", plan.Files[0].Run)
	assert.Empty(t, plan.Gaps)
}

func TestQuery_RangeAndTextOutput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catalog.db")
	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "a.nc"), 0, []float64{31, 29, 31})

	_, err := execute(t, "build", root, "--catalog", db)
	require.NoError(t, err)

	// Given a requested range beyond the indexed coverage
	out, err := execute(t, "query", "exp1", "temp",
		"--from", "2000-01-01", "--to", "2000-12-31", "--catalog", db)
	require.NoError(t, err)
	assert.Contains(t, out, "a.nc")
	assert.Contains(t, out, "Gaps:")
}

func TestQuery_InvalidDate(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catalog.db")

	_, err := execute(t, "query", "exp1", "temp", "--from", "bogus", "--catalog", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date")
}

func TestListAndStats(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catalog.db")
	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "a.nc"), 0, []float64{31})

	_, err := execute(t, "build", root, "--catalog", db)
	require.NoError(t, err)

	out, err := execute(t, "list", "experiments", "--catalog", db)
	require.NoError(t, err)
	assert.Contains(t, out, "exp1")

	out, err = execute(t, "list", "variables", "exp1", "--catalog", db)
	require.NoError(t, err)
	assert.Contains(t, out, "temp")
	assert.Contains(t, out, "K")

	out, err = execute(t, "stats", "--catalog", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Files:       1")
}

func TestGC_EmptyCatalog(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catalog.db")

	out, err := execute(t, "gc", "--catalog", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 0")
}

func TestPadStamp(t *testing.T) {
	tests := []struct {
		in       string
		endOfDay bool
		want     string
		wantErr  bool
	}{
		{in: "", want: ""},
		{in: "2000-06-01", want: "2000-06-01 00:00:00"},
		{in: "2000-06-01", endOfDay: true, want: "2000-06-01 23:59:59"},
		{in: "2000-06-01 12:30:00", want: "2000-06-01 12:30:00"},
		{in: "junk", wantErr: true},
	}

	for _, tt := range tests {
		got, err := padStamp(tt.in, tt.endOfDay)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gridcat")
}
