// Package scanner discovers candidate output files under one or more root
// directories, respecting include and exclude patterns. Results stream over a
// channel as they are found, and a scan can be diffed against previously
// recorded fingerprints to classify what changed.
package scanner

import (
	"fmt"
	"sort"
	"time"
)

// FileInfo contains metadata about a discovered file.
type FileInfo struct {
	Path    string    // Relative path from the scanned root
	AbsPath string    // Absolute path
	Root    string    // Root directory this file was found under
	Size    int64     // File size in bytes
	ModTime time.Time // Last modification time
}

// Fingerprint returns the cheap change-detection key for the file. Two scans
// of an untouched file produce the same fingerprint without reading content.
func (f *FileInfo) Fingerprint() string {
	return fmt.Sprintf("%s|%d|%d", f.AbsPath, f.Size, f.ModTime.UnixNano())
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// Roots are the directories to scan.
	Roots []string

	// IncludePatterns specifies file patterns to include (empty = all).
	IncludePatterns []string

	// ExcludePatterns specifies directory and file patterns to exclude.
	ExcludePatterns []string

	// FollowSymlinks enables following symbolic links (default: false).
	FollowSymlinks bool
}

// ScanResult is returned from the scanner channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// ChangeKind classifies a file against the previously recorded state.
type ChangeKind string

const (
	// ChangeNew marks a file with no prior record.
	ChangeNew ChangeKind = "new"
	// ChangeModified marks a file whose fingerprint differs from its record.
	ChangeModified ChangeKind = "modified"
	// ChangeUnchanged marks a file whose fingerprint matches its record.
	ChangeUnchanged ChangeKind = "unchanged"
	// ChangeRemoved marks a recorded file the scan no longer sees.
	ChangeRemoved ChangeKind = "removed"
)

// Change pairs a file with its classification. Removed changes carry only the
// recorded path.
type Change struct {
	Kind ChangeKind
	Path string
	File *FileInfo
}

// Diff classifies scanned files against previously recorded fingerprints
// keyed by absolute path. Recorded paths absent from the scan come back as
// removed, in sorted path order after all present files.
func Diff(recorded map[string]string, scanned []*FileInfo) []Change {
	changes := make([]Change, 0, len(scanned))
	seen := make(map[string]bool, len(scanned))

	for _, f := range scanned {
		seen[f.AbsPath] = true
		prev, ok := recorded[f.AbsPath]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: ChangeNew, Path: f.AbsPath, File: f})
		case prev != f.Fingerprint():
			changes = append(changes, Change{Kind: ChangeModified, Path: f.AbsPath, File: f})
		default:
			changes = append(changes, Change{Kind: ChangeUnchanged, Path: f.AbsPath, File: f})
		}
	}

	removed := make([]string, 0)
	for path := range recorded {
		if !seen[path] {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	for _, path := range removed {
		changes = append(changes, Change{Kind: ChangeRemoved, Path: path})
	}

	return changes
}
