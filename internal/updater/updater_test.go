package updater

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridcat/gridcat/internal/catalog"
	"github.com/gridcat/gridcat/internal/errors"
	"github.com/gridcat/gridcat/internal/extract"
	"github.com/gridcat/gridcat/internal/ncio/nctest"
	"github.com/gridcat/gridcat/internal/planner"
	"github.com/gridcat/gridcat/internal/scanner"
)

func newTestUpdater(t *testing.T) (*Updater, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sc, err := scanner.New()
	require.NoError(t, err)

	return New(store, sc, extract.New(0)), store
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

func defaultOptions(root string, mode Mode) Options {
	return Options{
		Roots:           []string{root},
		IncludePatterns: []string{"**/*.nc"},
		Workers:         2,
		Mode:            mode,
	}
}

func TestRun_EndToEnd(t *testing.T) {
	u, store := newTestUpdater(t)
	ctx := context.Background()

	// Given exp1 with a.nc covering Jan-Jun 2000 and b.nc covering Jul-Dec
	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "output000", "a.nc"),
		0, []float64{31, 29, 31, 30, 31, 30})
	writeMonthly(t, filepath.Join(root, "output000", "b.nc"),
		182, []float64{31, 31, 30, 31, 30, 31})

	// When the catalog is built
	res, err := u.Run(ctx, defaultOptions(root, ModeFull))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Parsed)
	assert.Equal(t, 0, res.Unparsable)

	// Then the query returns [a, b] in order with no gap
	plan, err := planner.New(store).Resolve(ctx, planner.Request{
		Experiment: "exp1",
		Variable:   "temp",
		From:       "2000-01-01 00:00:00",
		To:         "2000-12-31 00:00:00",
	})
	require.NoError(t, err)
	require.Len(t, plan.Files, 2)
	assert.Equal(t, filepath.Join(root, "output000", "a.nc"), plan.Files[0].Path)
	assert.Equal(t, filepath.Join(root, "output000", "b.nc"), plan.Files[1].Path)
	assert.Empty(t, plan.Gaps)
	assert.Equal(t, "output000", plan.Files[0].Run)
}

func TestRun_IdempotentSecondPass(t *testing.T) {
	u, store := newTestUpdater(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "a.nc"), 0, []float64{31, 29, 31})

	_, err := u.Run(ctx, defaultOptions(root, ModeFull))
	require.NoError(t, err)

	rec1, err := store.GetFile(ctx, filepath.Join(root, "a.nc"))
	require.NoError(t, err)

	// An unchanged tree produces zero new work on the second run.
	res, err := u.Run(ctx, defaultOptions(root, ModeIncremental))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Parsed)
	assert.Equal(t, 0, res.Tombstoned)

	rec2, err := store.GetFile(ctx, filepath.Join(root, "a.nc"))
	require.NoError(t, err)
	assert.Equal(t, rec1.IndexedAt, rec2.IndexedAt)
}

func TestRun_ModifiedFileReparsed(t *testing.T) {
	u, store := newTestUpdater(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "exp1")
	path := filepath.Join(root, "a.nc")
	writeMonthly(t, path, 0, []float64{31, 29, 31})

	_, err := u.Run(ctx, defaultOptions(root, ModeFull))
	require.NoError(t, err)

	// Rewrite with longer coverage and a clearly newer mtime.
	writeMonthly(t, path, 0, []float64{31, 29, 31, 30, 31, 30})
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	res, err := u.Run(ctx, defaultOptions(root, ModeIncremental))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Parsed)

	rows, err := store.Candidates(ctx, catalog.QueryFilter{Experiment: "exp1", Variable: "temp"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2000-07-01 00:00:00", rows[0].End)
}

func TestRun_RemovedFileTombstoned(t *testing.T) {
	u, store := newTestUpdater(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "a.nc"), 0, []float64{31, 29, 31})
	writeMonthly(t, filepath.Join(root, "b.nc"), 91, []float64{30, 31, 30})

	_, err := u.Run(ctx, defaultOptions(root, ModeFull))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.nc")))

	res, err := u.Run(ctx, defaultOptions(root, ModeIncremental))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tombstoned)

	// The tombstoned file drops out of resolution; the hole becomes a gap.
	plan, err := planner.New(store).Resolve(ctx, planner.Request{
		Experiment: "exp1",
		Variable:   "temp",
		From:       "2000-01-01 00:00:00",
		To:         "2000-07-01 00:00:00",
	})
	require.NoError(t, err)
	require.Len(t, plan.Files, 1)
	require.Len(t, plan.Gaps, 1)
	assert.Equal(t, "2000-04-01 00:00:00", plan.Gaps[0].Start)
	assert.Equal(t, "2000-07-01 00:00:00", plan.Gaps[0].End)
}

func TestRun_UnparsableFileRecordedAndRunContinues(t *testing.T) {
	u, store := newTestUpdater(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "good.nc"), 0, []float64{31, 29, 31})
	require.NoError(t, os.WriteFile(filepath.Join(root, "junk.nc"), []byte("garbage"), 0o644))

	res, err := u.Run(ctx, defaultOptions(root, ModeFull))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Parsed)
	assert.Equal(t, 1, res.Unparsable)

	rec, err := store.GetFile(ctx, filepath.Join(root, "junk.nc"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, catalog.StatusUnparsable, rec.Status)
	assert.NotEmpty(t, rec.ParseError)
}

func TestRun_SingleWriterLock(t *testing.T) {
	u, store := newTestUpdater(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "a.nc"), 0, []float64{31})

	// Given a foreign process holding the writer lock
	lock := flock.New(store.Path() + ".lock")
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = lock.Unlock() }()

	// Then the pipeline refuses to run
	_, err = u.Run(ctx, defaultOptions(root, ModeFull))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCatalogLocked, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestRun_ExperimentMetadataApplied(t *testing.T) {
	u, store := newTestUpdater(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "a.nc"), 0, []float64{31})
	require.NoError(t, os.WriteFile(filepath.Join(root, "metadata.yaml"), []byte(
		"contact: Ada\nemail: ada@example.org\ndescription: control run\n"), 0o644))

	_, err := u.Run(ctx, defaultOptions(root, ModeFull))
	require.NoError(t, err)

	exps, err := store.ListExperiments(ctx)
	require.NoError(t, err)
	require.Len(t, exps, 1)
	assert.Equal(t, "Ada", exps[0].Meta.Contact)
	assert.Equal(t, "control run", exps[0].Meta.Description)
}

func TestRun_MalformedExperimentMetadataIgnored(t *testing.T) {
	u, _ := newTestUpdater(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "exp1")
	writeMonthly(t, filepath.Join(root, "a.nc"), 0, []float64{31})
	require.NoError(t, os.WriteFile(filepath.Join(root, "metadata.yaml"),
		[]byte(":: not yaml ::"), 0o644))

	res, err := u.Run(ctx, defaultOptions(root, ModeFull))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Parsed)
}
