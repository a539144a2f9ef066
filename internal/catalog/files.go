package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gridcat/gridcat/internal/errors"
)

// EnsureExperiment creates the experiment row if missing and returns its id.
// Experiments are created on first observed file and never deleted
// automatically.
func (s *Store) EnsureExperiment(ctx context.Context, name, root string) (int64, error) {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO experiments (name, root) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET root = excluded.root`,
		name, root)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure experiment %s: %w", name, err)
	}

	var id int64
	if err := s.writer.QueryRowContext(ctx,
		"SELECT id FROM experiments WHERE name = ?", name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up experiment %s: %w", name, err)
	}
	return id, nil
}

// SetExperimentMeta stores the free-form descriptors from metadata.yaml on
// the experiment row.
func (s *Store) SetExperimentMeta(ctx context.Context, name string, meta ExperimentMeta) error {
	res, err := s.writer.ExecContext(ctx,
		`UPDATE experiments
		 SET contact = ?, email = ?, created = ?, description = ?, notes = ?
		 WHERE name = ?`,
		meta.Contact, meta.Email, meta.Created, meta.Description, meta.Notes, name)
	if err != nil {
		return fmt.Errorf("failed to update experiment metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no such experiment %s", name)
	}
	return nil
}

// Upsert commits one file's scan and extraction outcome in a single
// transaction keyed by path.
//
// Semantics:
//   - If the stored fingerprint already matches the request and the row is
//     settled (parsed or unparsable), the call is a no-op.
//   - If the stored row reflects a newer file version than the writer
//     observed, the writer is stale and its result is discarded with
//     ErrCodeStaleWriter; at most one metadata version commits per file
//     version.
//   - Otherwise the row and all its child rows are replaced atomically.
func (s *Store) Upsert(ctx context.Context, req *UpsertRequest) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		fileID   int64
		stored   string
		mtimeNS  int64
		status   string
		existing bool
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, fingerprint, mtime_ns, status FROM files WHERE path = ?",
		req.Path).Scan(&fileID, &stored, &mtimeNS, &status)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to read file row: %w", err)
	default:
		existing = true
	}

	if existing {
		if stored == req.Fingerprint && (status == string(StatusParsed) || status == string(StatusUnparsable)) {
			slog.Debug("upsert_noop",
				slog.String("path", req.Path),
				slog.String("fingerprint", req.Fingerprint))
			return nil
		}
		// A committed row carrying a newer mtime than this writer observed
		// means another writer saw a later file version first.
		if mtimeNS > req.ModTime.UnixNano() && stored != req.PrevFingerprint && stored != req.Fingerprint {
			return errors.New(errors.ErrCodeStaleWriter,
				fmt.Sprintf("discarding stale upsert of %s", req.Path), nil).
				WithDetail("path", req.Path).
				WithDetail("stored_fingerprint", stored).
				WithDetail("writer_fingerprint", req.Fingerprint)
		}
	}

	expID, err := ensureExperimentTx(ctx, tx, req.Experiment, req.Root)
	if err != nil {
		return err
	}

	runName := ""
	if req.Meta != nil {
		runName = req.Meta.Run
	}
	runID, err := ensureRunTx(ctx, tx, expID, runName)
	if err != nil {
		return err
	}

	newStatus := StatusUnparsable
	format := ""
	if req.Meta != nil {
		newStatus = StatusParsed
		format = req.Meta.Format
	}

	now := time.Now().UnixNano()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO files
		   (experiment_id, run_id, path, size, mtime_ns, fingerprint, checksum,
		    format, status, parse_error, retry_eligible, indexed_at, tombstoned_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(path) DO UPDATE SET
		   experiment_id = excluded.experiment_id,
		   run_id = excluded.run_id,
		   size = excluded.size,
		   mtime_ns = excluded.mtime_ns,
		   fingerprint = excluded.fingerprint,
		   checksum = excluded.checksum,
		   format = excluded.format,
		   status = excluded.status,
		   parse_error = excluded.parse_error,
		   retry_eligible = excluded.retry_eligible,
		   indexed_at = excluded.indexed_at,
		   tombstoned_at = 0`,
		expID, runID, req.Path, req.Size, req.ModTime.UnixNano(), req.Fingerprint,
		req.Checksum, format, string(newStatus), req.ParseError,
		boolToInt(req.RetryEligible), now)
	if err != nil {
		return fmt.Errorf("failed to upsert file row: %w", err)
	}
	if !existing {
		fileID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get file id: %w", err)
		}
	}

	// Replace all child rows; coverage rows exist only for parsed files.
	for _, table := range []string{"file_variables", "time_coverage", "file_attrs"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE file_id = ?", table), fileID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if req.Meta != nil {
		if err := s.insertMetadata(ctx, tx, fileID, runID, req); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Corruption("failed to commit upsert", err).
			WithDetail("path", req.Path)
	}
	return nil
}

// insertMetadata writes variable, coverage and attribute rows for a parsed
// file and records metadata conflicts against other files of the same run.
func (s *Store) insertMetadata(ctx context.Context, tx *sql.Tx, fileID, runID int64, req *UpsertRequest) error {
	for _, v := range req.Meta.Variables {
		varID, err := ensureVariableTx(ctx, tx, v.Name, v.LongName, v.Units)
		if err != nil {
			return err
		}

		dims := strings.Join(v.Dimensions, ",")
		shape := joinInts(v.Shape)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_variables (file_id, variable_id, dimensions, shape)
			 VALUES (?, ?, ?, ?)`,
			fileID, varID, dims, shape); err != nil {
			return fmt.Errorf("failed to insert file variable %s: %w", v.Name, err)
		}

		if v.Coverage != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO time_coverage
				   (file_id, variable_id, time_start, time_end, frequency, calendar)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				fileID, varID, v.Coverage.Start, v.Coverage.End,
				v.Coverage.Frequency, v.Coverage.Calendar); err != nil {
				return fmt.Errorf("failed to insert coverage for %s: %w", v.Name, err)
			}
		}

		if err := s.recordConflicts(ctx, tx, fileID, runID, req, v, dims); err != nil {
			return err
		}
	}

	for name, value := range req.Meta.Attrs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_attrs (file_id, name, value) VALUES (?, ?, ?)`,
			fileID, name, value); err != nil {
			return fmt.Errorf("failed to insert attribute %s: %w", name, err)
		}
	}

	return nil
}

// recordConflicts flags the variable when other files of the same run carry
// the same name with incompatible dimensions or units, or overlapping
// coverage at the same frequency.
func (s *Store) recordConflicts(ctx context.Context, tx *sql.Tx, fileID, runID int64, req *UpsertRequest, v VariableMeta, dims string) error {
	runName := req.Meta.Run

	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT v2.units, fv2.dimensions
		 FROM file_variables fv2
		 JOIN variables v2 ON v2.id = fv2.variable_id
		 JOIN files f2 ON f2.id = fv2.file_id
		 WHERE f2.run_id = ? AND f2.id != ? AND v2.name = ?
		   AND f2.status = 'parsed' AND f2.tombstoned_at = 0
		   AND (v2.units != ? OR fv2.dimensions != ?)`,
		runID, fileID, v.Name, v.Units, dims)
	if err != nil {
		return fmt.Errorf("failed to check variable conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var details []string
	for rows.Next() {
		var units, otherDims string
		if err := rows.Scan(&units, &otherDims); err != nil {
			return err
		}
		details = append(details, fmt.Sprintf(
			"incompatible declarations: units %q dims %q vs units %q dims %q",
			v.Units, dims, units, otherDims))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	if v.Coverage != nil {
		overlapRows, err := tx.QueryContext(ctx,
			`SELECT f2.path
			 FROM time_coverage tc2
			 JOIN variables v2 ON v2.id = tc2.variable_id
			 JOIN files f2 ON f2.id = tc2.file_id
			 WHERE v2.name = ? AND f2.run_id = ? AND f2.id != ?
			   AND f2.status = 'parsed' AND f2.tombstoned_at = 0
			   AND tc2.frequency = ?
			   AND tc2.time_start < ? AND tc2.time_end > ?`,
			v.Name, runID, fileID, v.Coverage.Frequency, v.Coverage.End, v.Coverage.Start)
		if err != nil {
			return fmt.Errorf("failed to check coverage overlaps: %w", err)
		}
		for overlapRows.Next() {
			var other string
			if err := overlapRows.Scan(&other); err != nil {
				_ = overlapRows.Close()
				return err
			}
			details = append(details, fmt.Sprintf(
				"coverage [%s, %s] at frequency %q overlaps %s",
				v.Coverage.Start, v.Coverage.End, v.Coverage.Frequency, other))
		}
		if err := overlapRows.Err(); err != nil {
			_ = overlapRows.Close()
			return err
		}
		_ = overlapRows.Close()
	}

	for _, detail := range details {
		slog.Warn("variable_metadata_conflict",
			slog.String("experiment", req.Experiment),
			slog.String("run", runName),
			slog.String("variable", v.Name),
			slog.String("detail", detail))
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO conflicts (experiment, run, variable, detail, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			req.Experiment, runName, v.Name, detail, time.Now().UnixNano()); err != nil {
			return fmt.Errorf("failed to record conflict: %w", err)
		}
	}

	return nil
}

// MarkPending moves a settled file back to pending after its fingerprint
// changed. This is the only backward status transition.
func (s *Store) MarkPending(ctx context.Context, path string) error {
	_, err := s.writer.ExecContext(ctx,
		`UPDATE files SET status = 'pending', parse_error = ''
		 WHERE path = ? AND status IN ('parsed', 'unparsable')`, path)
	if err != nil {
		return fmt.Errorf("failed to mark %s pending: %w", path, err)
	}
	return nil
}

// Tombstone soft-deletes a file no longer seen by the scanner. The row and
// its metadata stay resolvable for external tooling until garbage collection,
// but are excluded from query resolution.
func (s *Store) Tombstone(ctx context.Context, path string) error {
	_, err := s.writer.ExecContext(ctx,
		`UPDATE files SET status = 'tombstoned', tombstoned_at = ?
		 WHERE path = ? AND status != 'tombstoned'`,
		time.Now().UnixNano(), path)
	if err != nil {
		return fmt.Errorf("failed to tombstone %s: %w", path, err)
	}
	return nil
}

// GarbageCollect hard-deletes tombstones older than the grace period and
// returns the number of purged files.
func (s *Store) GarbageCollect(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	res, err := s.writer.ExecContext(ctx,
		`DELETE FROM files
		 WHERE status = 'tombstoned' AND tombstoned_at > 0 AND tombstoned_at < ?`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to garbage collect: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("gc_complete", slog.Int64("purged", n))
	}
	return n, nil
}

// Fingerprints returns path -> fingerprint for every live (non-tombstoned)
// file, the prior snapshot the scanner diffs against.
func (s *Store) Fingerprints(ctx context.Context) (map[string]string, error) {
	rows, err := s.reader.QueryContext(ctx,
		"SELECT path, fingerprint FROM files WHERE status != 'tombstoned'")
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var path, fp string
		if err := rows.Scan(&path, &fp); err != nil {
			return nil, err
		}
		out[path] = fp
	}
	return out, rows.Err()
}

// GetFile returns the file record for path, or nil when absent.
func (s *Store) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	var (
		rec          FileRecord
		mtimeNS      int64
		indexedAt    int64
		tombstonedAt int64
		retry        int
		run          sql.NullString
	)
	err := s.reader.QueryRowContext(ctx,
		`SELECT f.id, e.name, COALESCE(r.name, ''), f.path, f.size, f.mtime_ns,
		        f.fingerprint, f.checksum, f.format, f.status, f.parse_error,
		        f.retry_eligible, f.indexed_at, f.tombstoned_at
		 FROM files f
		 JOIN experiments e ON e.id = f.experiment_id
		 LEFT JOIN runs r ON r.id = f.run_id
		 WHERE f.path = ?`, path).Scan(
		&rec.ID, &rec.Experiment, &run, &rec.Path, &rec.Size, &mtimeNS,
		&rec.Fingerprint, &rec.Checksum, &rec.Format, &rec.Status,
		&rec.ParseError, &retry, &indexedAt, &tombstonedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	rec.Run = run.String
	rec.ModTime = time.Unix(0, mtimeNS)
	rec.RetryEligible = retry != 0
	rec.IndexedAt = time.Unix(0, indexedAt)
	if tombstonedAt > 0 {
		rec.TombstonedAt = time.Unix(0, tombstonedAt)
	}
	return &rec, nil
}

// SetState stores a checkpoint key.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.writer.ExecContext(ctx,
		"INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// GetState reads a checkpoint key; missing keys return the empty string.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.reader.QueryRowContext(ctx,
		"SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

func ensureExperimentTx(ctx context.Context, tx *sql.Tx, name, root string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO experiments (name, root) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`, name, root); err != nil {
		return 0, fmt.Errorf("failed to ensure experiment %s: %w", name, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx,
		"SELECT id FROM experiments WHERE name = ?", name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up experiment %s: %w", name, err)
	}
	return id, nil
}

func ensureRunTx(ctx context.Context, tx *sql.Tx, expID int64, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (experiment_id, name) VALUES (?, ?)
		 ON CONFLICT(experiment_id, name) DO NOTHING`, expID, name); err != nil {
		return 0, fmt.Errorf("failed to ensure run %q: %w", name, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx,
		"SELECT id FROM runs WHERE experiment_id = ? AND name = ?", expID, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up run %q: %w", name, err)
	}
	return id, nil
}

func ensureVariableTx(ctx context.Context, tx *sql.Tx, name, longName, units string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO variables (name, long_name, units) VALUES (?, ?, ?)
		 ON CONFLICT(name, long_name, units) DO NOTHING`, name, longName, units); err != nil {
		return 0, fmt.Errorf("failed to ensure variable %s: %w", name, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM variables WHERE name = ? AND long_name = ? AND units = ?`,
		name, longName, units).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up variable %s: %w", name, err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
