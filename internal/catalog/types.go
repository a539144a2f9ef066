// Package catalog is the persistent index of experiments, runs, files,
// variables and time coverage. It is backed by SQLite in WAL mode with a
// single-connection writer handle and a separate reader handle, so queries
// observe a consistent snapshot and are never blocked by an in-progress
// upsert.
package catalog

import "time"

// Status is a file's parse status. Transitions are forward-only except
// parsed -> pending when the fingerprint changes.
type Status string

const (
	// StatusPending marks a file that is scanned but not yet extracted.
	StatusPending Status = "pending"
	// StatusParsed marks a file with committed metadata.
	StatusParsed Status = "parsed"
	// StatusUnparsable marks a file whose extraction failed terminally.
	StatusUnparsable Status = "unparsable"
	// StatusTombstoned marks a file no longer seen by the scanner, retained
	// until garbage collection.
	StatusTombstoned Status = "tombstoned"
)

// VariableMeta describes one variable inside one file.
type VariableMeta struct {
	Name       string
	LongName   string
	Units      string
	Dimensions []string
	Shape      []int
	// Coverage is nil for variables without a time axis.
	Coverage *Coverage
}

// Coverage is the time extent of one variable in one file. Start and End are
// zero-padded "YYYY-MM-DD HH:MM:SS" stamps whose lexical order matches
// chronological order.
type Coverage struct {
	Start     string
	End       string
	Frequency string
	Calendar  string
}

// FileMeta is the extractor's output for one parsable file.
type FileMeta struct {
	Format    string
	Run       string
	Variables []VariableMeta
	Attrs     map[string]string
}

// UpsertRequest carries one file's scan and extraction outcome into the
// store. PrevFingerprint is the fingerprint the writer observed before it
// started work (empty for a file it saw as new); a writer whose observation
// is older than the committed row loses the race and is discarded.
type UpsertRequest struct {
	Experiment string
	Root       string
	Path       string
	Size       int64
	ModTime    time.Time

	Fingerprint     string
	PrevFingerprint string
	Checksum        string

	// Meta is nil for an unparsable file.
	Meta          *FileMeta
	ParseError    string
	RetryEligible bool
}

// FileRecord is one row of the files table.
type FileRecord struct {
	ID            int64
	Experiment    string
	Run           string
	Path          string
	Size          int64
	ModTime       time.Time
	Fingerprint   string
	Checksum      string
	Format        string
	Status        Status
	ParseError    string
	RetryEligible bool
	IndexedAt     time.Time
	TombstonedAt  time.Time
}

// ExperimentMeta holds the free-form descriptors from an experiment's
// metadata.yaml.
type ExperimentMeta struct {
	Contact     string `yaml:"contact"`
	Email       string `yaml:"email"`
	Created     string `yaml:"created"`
	Description string `yaml:"description"`
	Notes       string `yaml:"notes"`
}

// Experiment is one row of the experiments table.
type Experiment struct {
	ID   int64
	Name string
	Root string
	Meta ExperimentMeta
}

// QueryFilter selects coverage rows for the planner.
type QueryFilter struct {
	Experiment string
	Variable   string
	// Run filters to one run when non-empty.
	Run string
	// From and To bound the requested range as padded stamps; empty means
	// unbounded on that side.
	From string
	To   string
}

// CoverageRow is one (file, variable, coverage) candidate for resolution.
type CoverageRow struct {
	FileID    int64
	Path      string
	Variable  string
	Run       string
	Start     string
	End       string
	Frequency string
	Calendar  string
	IndexedAt int64
}

// Conflict records incompatible variable metadata observed across files of
// the same run. Conflicts are surfaced as warnings on queries touching the
// variable, never silently resolved.
type Conflict struct {
	Experiment string
	Run        string
	Variable   string
	Detail     string
}

// Stats summarizes catalog contents.
type Stats struct {
	Experiments int64
	Files       int64
	Parsed      int64
	Unparsable  int64
	Tombstoned  int64
	Variables   int64
	Conflicts   int64
}
