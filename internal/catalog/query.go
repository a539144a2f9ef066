package catalog

import (
	"context"
	"fmt"

	"github.com/gridcat/gridcat/internal/errors"
)

// Candidates returns the parsed, non-tombstoned (file, coverage) rows
// matching the filter, in stable (start, path) order. Range filtering keeps
// any row overlapping [From, To]; padded stamps compare lexically.
func (s *Store) Candidates(ctx context.Context, f QueryFilter) ([]CoverageRow, error) {
	if f.Experiment == "" || f.Variable == "" {
		return nil, errors.InvalidQuery("experiment and variable are required", nil)
	}

	query := `
		SELECT f2.id, f2.path, v.name, COALESCE(r.name, ''),
		       tc.time_start, tc.time_end, tc.frequency, tc.calendar,
		       f2.indexed_at
		FROM time_coverage tc
		JOIN files f2 ON f2.id = tc.file_id
		JOIN variables v ON v.id = tc.variable_id
		JOIN experiments e ON e.id = f2.experiment_id
		LEFT JOIN runs r ON r.id = f2.run_id
		WHERE e.name = ? AND v.name = ?
		  AND f2.status = 'parsed' AND f2.tombstoned_at = 0`
	args := []any{f.Experiment, f.Variable}

	if f.Run != "" {
		query += " AND r.name = ?"
		args = append(args, f.Run)
	}
	if f.From != "" {
		query += " AND tc.time_end >= ?"
		args = append(args, f.From)
	}
	if f.To != "" {
		query += " AND tc.time_start <= ?"
		args = append(args, f.To)
	}
	query += " ORDER BY tc.time_start, f2.path"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CoverageRow
	for rows.Next() {
		var row CoverageRow
		if err := rows.Scan(&row.FileID, &row.Path, &row.Variable, &row.Run,
			&row.Start, &row.End, &row.Frequency, &row.Calendar, &row.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Conflicts returns recorded metadata conflicts touching the filter's
// variable, attached to query results as warnings.
func (s *Store) Conflicts(ctx context.Context, f QueryFilter) ([]Conflict, error) {
	query := `SELECT experiment, run, variable, detail FROM conflicts
	          WHERE experiment = ? AND variable = ?`
	args := []any{f.Experiment, f.Variable}
	if f.Run != "" {
		query += " AND run = ?"
		args = append(args, f.Run)
	}
	query += " ORDER BY id"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Conflict
	for rows.Next() {
		var c Conflict
		if err := rows.Scan(&c.Experiment, &c.Run, &c.Variable, &c.Detail); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListExperiments returns all experiments in name order.
func (s *Store) ListExperiments(ctx context.Context) ([]Experiment, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT id, name, root, contact, email, created, description, notes
		 FROM experiments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Experiment
	for rows.Next() {
		var e Experiment
		if err := rows.Scan(&e.ID, &e.Name, &e.Root, &e.Meta.Contact,
			&e.Meta.Email, &e.Meta.Created, &e.Meta.Description, &e.Meta.Notes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// VariableListing summarizes one variable available in an experiment.
type VariableListing struct {
	Name      string
	LongName  string
	Units     string
	Frequency string
	Files     int64
	Start     string
	End       string
}

// ListVariables returns the variables indexed for an experiment with their
// file counts and overall coverage, in (name, frequency) order.
func (s *Store) ListVariables(ctx context.Context, experiment string) ([]VariableListing, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT v.name, v.long_name, v.units, tc.frequency,
		        COUNT(DISTINCT f.id), MIN(tc.time_start), MAX(tc.time_end)
		 FROM time_coverage tc
		 JOIN variables v ON v.id = tc.variable_id
		 JOIN files f ON f.id = tc.file_id
		 JOIN experiments e ON e.id = f.experiment_id
		 WHERE e.name = ? AND f.status = 'parsed' AND f.tombstoned_at = 0
		 GROUP BY v.name, v.long_name, v.units, tc.frequency
		 ORDER BY v.name, tc.frequency`, experiment)
	if err != nil {
		return nil, fmt.Errorf("failed to list variables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []VariableListing
	for rows.Next() {
		var v VariableListing
		if err := rows.Scan(&v.Name, &v.LongName, &v.Units, &v.Frequency,
			&v.Files, &v.Start, &v.End); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetStats returns catalog row counts.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM experiments", &stats.Experiments},
		{"SELECT COUNT(*) FROM files", &stats.Files},
		{"SELECT COUNT(*) FROM files WHERE status = 'parsed'", &stats.Parsed},
		{"SELECT COUNT(*) FROM files WHERE status = 'unparsable'", &stats.Unparsable},
		{"SELECT COUNT(*) FROM files WHERE status = 'tombstoned'", &stats.Tombstoned},
		{"SELECT COUNT(DISTINCT variable_id) FROM file_variables", &stats.Variables},
		{"SELECT COUNT(*) FROM conflicts", &stats.Conflicts},
	}
	for _, c := range counts {
		if err := s.reader.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to read stats: %w", err)
		}
	}
	return stats, nil
}
