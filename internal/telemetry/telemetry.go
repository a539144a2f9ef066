// Package telemetry exposes process counters for the indexing pipeline in
// Prometheus text format.
package telemetry

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

var (
	// FilesScanned counts files seen by the scanner across all runs.
	FilesScanned = metrics.NewCounter("gridcat_files_scanned_total")
	// FilesParsed counts successful metadata extractions.
	FilesParsed = metrics.NewCounter("gridcat_files_parsed_total")
	// FilesUnparsable counts terminal extraction failures.
	FilesUnparsable = metrics.NewCounter("gridcat_files_unparsable_total")
	// FilesSkipped counts unchanged files skipped by incremental updates.
	FilesSkipped = metrics.NewCounter("gridcat_files_skipped_total")
	// FilesTombstoned counts files soft-deleted after disappearing.
	FilesTombstoned = metrics.NewCounter("gridcat_files_tombstoned_total")
	// StaleUpserts counts discarded results from writers that lost the
	// per-file fingerprint race.
	StaleUpserts = metrics.NewCounter("gridcat_stale_upserts_total")
	// QueriesServed counts planner resolutions.
	QueriesServed = metrics.NewCounter("gridcat_queries_served_total")
)

// WritePrometheus dumps all counters in Prometheus text format.
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
