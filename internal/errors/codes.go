// Package errors provides structured error handling for gridcat.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: File errors (read/parse)
//   - 3XX: Catalog errors (store, transactions)
//   - 4XX: Query/validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryFile indicates per-file read or parse errors.
	CategoryFile Category = "FILE"
	// CategoryCatalog indicates catalog store errors.
	CategoryCatalog Category = "CATALOG"
	// CategoryQuery indicates query and input validation errors.
	CategoryQuery Category = "QUERY"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// File errors (200-299). Per-file, never abort a scan.
	ErrCodeFileUnreadable  = "ERR_201_FILE_UNREADABLE"
	ErrCodeFileUnparsable  = "ERR_202_FILE_UNPARSABLE"
	ErrCodeExtractTimeout  = "ERR_203_EXTRACT_TIMEOUT"
	ErrCodeFormatUnknown   = "ERR_204_FORMAT_UNKNOWN"
	ErrCodeTimeAxisInvalid = "ERR_205_TIME_AXIS_INVALID"

	// Catalog errors (300-399)
	ErrCodeCatalogCorrupt = "ERR_301_CATALOG_CORRUPT"
	ErrCodeCatalogLocked  = "ERR_302_CATALOG_LOCKED"
	ErrCodeStaleWriter    = "ERR_303_STALE_WRITER"
	ErrCodeCatalogVersion = "ERR_304_CATALOG_VERSION"

	// Query errors (400-499)
	ErrCodeInvalidQuery       = "ERR_401_INVALID_QUERY"
	ErrCodeInvalidTimeRange   = "ERR_402_INVALID_TIME_RANGE"
	ErrCodeExperimentNotFound = "ERR_403_EXPERIMENT_NOT_FOUND"
	ErrCodeVariableNotFound   = "ERR_404_VARIABLE_NOT_FOUND"
	ErrCodeMetadataConflict   = "ERR_405_METADATA_CONFLICT"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_FILE_UNREADABLE")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryFile
	case '3':
		return CategoryCatalog
	case '4':
		return CategoryQuery
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCatalogCorrupt, ErrCodeCatalogVersion:
		// Catalog invariant violations abort the current update transaction.
		return SeverityFatal
	case ErrCodeMetadataConflict, ErrCodeStaleWriter:
		// Recorded and surfaced, never abort anything.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeExtractTimeout, ErrCodeCatalogLocked:
		return true
	default:
		return false
	}
}
