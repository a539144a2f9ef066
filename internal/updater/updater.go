// Package updater orchestrates scanner, extractor and catalog store as a
// resumable pipeline. Two modes exist: full rebuild (every entry
// reconsidered, entries not re-observed tombstoned) and incremental update
// (only new, changed and removed files drive work). Each file's upsert
// commits independently, so an interruption loses at most the one in-flight
// file; the next run diffs against the committed fingerprint state.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/gridcat/gridcat/internal/catalog"
	"github.com/gridcat/gridcat/internal/errors"
	"github.com/gridcat/gridcat/internal/extract"
	"github.com/gridcat/gridcat/internal/scanner"
	"github.com/gridcat/gridcat/internal/telemetry"
)

// Mode selects how much of the catalog is reconsidered.
type Mode string

const (
	// ModeFull re-extracts every observed file and tombstones entries the
	// scan no longer sees.
	ModeFull Mode = "full"
	// ModeIncremental skips unchanged files entirely.
	ModeIncremental Mode = "incremental"
)

// metadataFileName is the per-experiment descriptor read from the root.
const metadataFileName = "metadata.yaml"

// Options configures one pipeline run.
type Options struct {
	Roots           []string
	IncludePatterns []string
	ExcludePatterns []string
	FollowSymlinks  bool
	// Workers bounds extraction parallelism (0 = NumCPU).
	Workers int
	Mode    Mode
}

// Result summarizes one pipeline run.
type Result struct {
	Scanned    int
	Parsed     int
	Unparsable int
	Skipped    int
	Tombstoned int
	Stale      int
}

// Updater drives the scan/extract/upsert pipeline against one catalog.
type Updater struct {
	store     *catalog.Store
	scanner   *scanner.Scanner
	extractor *extract.Extractor
}

// New creates an Updater.
func New(store *catalog.Store, sc *scanner.Scanner, ex *extract.Extractor) *Updater {
	return &Updater{store: store, scanner: sc, extractor: ex}
}

// Run executes one pipeline run. The catalog supports exactly one active
// writer pipeline: a lock file next to the database enforces it, and a
// second concurrent run fails with ErrCodeCatalogLocked.
func (u *Updater) Run(ctx context.Context, opts Options) (*Result, error) {
	lock := flock.New(u.store.Path() + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire writer lock: %w", err)
	}
	if !locked {
		return nil, errors.New(errors.ErrCodeCatalogLocked,
			"another writer pipeline holds the catalog lock", nil).
			WithDetail("lock", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	roots := make(map[string]string, len(opts.Roots)) // abs root -> experiment
	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		experiment := filepath.Base(abs)
		roots[abs] = experiment

		if _, err := u.store.EnsureExperiment(ctx, experiment, abs); err != nil {
			return nil, err
		}
		u.applyExperimentMetadata(ctx, experiment, abs)
	}

	recorded, err := u.store.Fingerprints(ctx)
	if err != nil {
		return nil, err
	}

	results, err := u.scanner.Scan(ctx, &scanner.ScanOptions{
		Roots:           opts.Roots,
		IncludePatterns: opts.IncludePatterns,
		ExcludePatterns: opts.ExcludePatterns,
		FollowSymlinks:  opts.FollowSymlinks,
	})
	if err != nil {
		return nil, err
	}
	files, err := scanner.CollectAll(results)
	if err != nil {
		// A failed walk of one subtree still leaves usable results.
		slog.Warn("scan_incomplete", slog.String("error", err.Error()))
	}
	changes := scanner.Diff(recorded, files)

	res := &Result{Scanned: len(files)}
	telemetry.FilesScanned.Add(len(files))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, change := range changes {
		change := change
		switch change.Kind {
		case scanner.ChangeUnchanged:
			if opts.Mode != ModeFull {
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				telemetry.FilesSkipped.Inc()
				continue
			}
		case scanner.ChangeRemoved:
			continue // handled after the pool
		}

		g.Go(func() error {
			err := u.processFile(gctx, roots, change, recorded[change.Path], res, &mu)
			if errors.IsFatal(err) {
				return err
			}
			if err != nil {
				slog.Error("file_processing_failed",
					slog.String("path", change.Path),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	for _, change := range changes {
		if change.Kind != scanner.ChangeRemoved {
			continue
		}
		if err := u.store.Tombstone(ctx, change.Path); err != nil {
			if errors.IsFatal(err) {
				return res, err
			}
			slog.Error("tombstone_failed",
				slog.String("path", change.Path),
				slog.String("error", err.Error()))
			continue
		}
		res.Tombstoned++
		telemetry.FilesTombstoned.Inc()
	}

	if err := u.store.SetState(ctx, "last_update", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("checkpoint_write_failed", slog.String("error", err.Error()))
	}

	slog.Info("update_complete",
		slog.String("mode", string(opts.Mode)),
		slog.Int("scanned", res.Scanned),
		slog.Int("parsed", res.Parsed),
		slog.Int("unparsable", res.Unparsable),
		slog.Int("skipped", res.Skipped),
		slog.Int("tombstoned", res.Tombstoned),
		slog.Int("stale", res.Stale))

	return res, nil
}

// processFile extracts one file and commits its outcome. Per-file failures
// are recorded as unparsable rows; only fatal catalog errors propagate.
func (u *Updater) processFile(ctx context.Context, roots map[string]string, change scanner.Change, prevFingerprint string, res *Result, mu *sync.Mutex) error {
	file := change.File
	experiment := roots[file.Root]

	if change.Kind == scanner.ChangeModified {
		if err := u.store.MarkPending(ctx, file.AbsPath); err != nil {
			return err
		}
	}

	// Content checksum only when the cheap fingerprint moved; unchanged
	// files in a full rebuild hit the scanner's cache.
	checksum, err := u.scanner.Checksum(file)
	if err != nil {
		slog.Warn("checksum_failed",
			slog.String("path", file.AbsPath),
			slog.String("error", err.Error()))
	}

	req := &catalog.UpsertRequest{
		Experiment:      experiment,
		Root:            file.Root,
		Path:            file.AbsPath,
		Size:            file.Size,
		ModTime:         file.ModTime,
		Fingerprint:     file.Fingerprint(),
		PrevFingerprint: prevFingerprint,
		Checksum:        checksum,
	}

	meta, err := u.extractor.Extract(ctx, file.AbsPath, file.Root)
	if err != nil {
		req.ParseError = err.Error()
		req.RetryEligible = errors.IsRetryable(err)
		slog.Warn("extract_failed",
			slog.String("path", file.AbsPath),
			slog.String("code", errors.GetCode(err)),
			slog.String("error", err.Error()))
	} else {
		req.Meta = meta
	}

	if err := u.store.Upsert(ctx, req); err != nil {
		if errors.GetCode(err) == errors.ErrCodeStaleWriter {
			slog.Warn("stale_upsert_discarded", slog.String("path", file.AbsPath))
			telemetry.StaleUpserts.Inc()
			mu.Lock()
			res.Stale++
			mu.Unlock()
			return nil
		}
		return err
	}

	mu.Lock()
	if req.Meta != nil {
		res.Parsed++
	} else {
		res.Unparsable++
	}
	mu.Unlock()
	if req.Meta != nil {
		telemetry.FilesParsed.Inc()
	} else {
		telemetry.FilesUnparsable.Inc()
	}

	return nil
}

// applyExperimentMetadata reads metadata.yaml under the root, if present,
// onto the experiment row. Errors are logged, never fatal.
func (u *Updater) applyExperimentMetadata(ctx context.Context, experiment, root string) {
	path := filepath.Join(root, metadataFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("metadata_read_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return
	}

	var meta catalog.ExperimentMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		slog.Warn("metadata_parse_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	if err := u.store.SetExperimentMeta(ctx, experiment, meta); err != nil {
		slog.Warn("metadata_update_failed",
			slog.String("experiment", experiment),
			slog.String("error", err.Error()))
	}
}
