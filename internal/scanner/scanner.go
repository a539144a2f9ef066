package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
)

// checksumCacheSize caps the number of cached content checksums. Entries are
// keyed by fingerprint, so a changed file never hits a stale entry.
const checksumCacheSize = 4096

// Scanner discovers candidate files under configured roots.
type Scanner struct {
	fs        afero.Fs
	checksums *lru.Cache[string, string]
}

// New creates a Scanner over the OS filesystem.
func New() (*Scanner, error) {
	return NewWithFs(afero.NewOsFs())
}

// NewWithFs creates a Scanner over the given filesystem.
func NewWithFs(fsys afero.Fs) (*Scanner, error) {
	cache, err := lru.New[string, string](checksumCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create checksum cache: %w", err)
	}
	return &Scanner{fs: fsys, checksums: cache}, nil
}

// Scan discovers files under all configured roots. It returns a channel of
// ScanResult that streams files as they are discovered; the channel is closed
// when scanning is complete. Unreadable directories are logged and skipped.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}
	if len(opts.Roots) == 0 {
		return nil, fmt.Errorf("no roots configured")
	}

	roots := make([]string, 0, len(opts.Roots))
	for _, root := range opts.Roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		info, err := s.fs.Stat(absRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
		}
		roots = append(roots, absRoot)
	}

	results := make(chan ScanResult, 64)

	go func() {
		defer close(results)
		// visited guards symlink traversal against cycles across all roots.
		visited := make(map[string]bool)
		for _, root := range roots {
			s.walk(ctx, root, root, opts, visited, results)
		}
	}()

	return results, nil
}

// walk traverses dir, emitting matching files. Paths in results are relative
// to root, which stays fixed across symlink recursion.
func (s *Scanner) walk(ctx context.Context, root, dir string, opts *ScanOptions, visited map[string]bool, results chan<- ScanResult) {
	real, err := s.realPath(dir)
	if err == nil {
		if visited[real] {
			slog.Debug("skipping already visited directory", slog.String("path", dir))
			return
		}
		visited[real] = true
	}

	err = afero.Walk(s.fs, dir, func(path string, info fs.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			slog.Warn("skipping unreadable path",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}

		if info.IsDir() {
			if path != dir && s.shouldExcludeDir(relPath, opts) {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode()&fs.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				return nil
			}
			return s.followSymlink(ctx, root, path, relPath, opts, visited, results)
		}

		if s.shouldExcludeFile(relPath, opts) {
			return nil
		}
		if len(opts.IncludePatterns) > 0 && !matchesAnyPattern(relPath, opts.IncludePatterns) {
			return nil
		}

		file := &FileInfo{
			Path:    relPath,
			AbsPath: path,
			Root:    root,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}

		select {
		case results <- ScanResult{File: file}:
		case <-ctx.Done():
			return ctx.Err()
		}

		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// followSymlink resolves a symlink and either emits the target file or
// recurses into the target directory, reusing the cross-root visited set.
func (s *Scanner) followSymlink(ctx context.Context, root, path, relPath string, opts *ScanOptions, visited map[string]bool, results chan<- ScanResult) error {
	target, err := s.fs.Stat(path)
	if err != nil {
		slog.Warn("skipping broken symlink",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}

	if target.IsDir() {
		if s.shouldExcludeDir(relPath, opts) {
			return nil
		}
		// Walk the resolved directory so the traversal sees a real dir, not
		// the link. The visited set breaks symlink cycles.
		real, err := s.realPath(path)
		if err != nil {
			slog.Warn("skipping unresolvable symlink",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		s.walk(ctx, root, real, opts, visited, results)
		return nil
	}

	if s.shouldExcludeFile(relPath, opts) {
		return nil
	}
	if len(opts.IncludePatterns) > 0 && !matchesAnyPattern(relPath, opts.IncludePatterns) {
		return nil
	}

	file := &FileInfo{
		Path:    relPath,
		AbsPath: path,
		Root:    root,
		Size:    target.Size(),
		ModTime: target.ModTime(),
	}

	select {
	case results <- ScanResult{File: file}:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// realPath resolves symlinks where the backing filesystem is the OS.
func (s *Scanner) realPath(path string) (string, error) {
	if _, ok := s.fs.(*afero.OsFs); ok {
		return filepath.EvalSymlinks(path)
	}
	return path, nil
}

// Checksum returns the hex sha256 of the file contents, cached by the file's
// fingerprint so repeat scans of unchanged files skip the read.
func (s *Scanner) Checksum(file *FileInfo) (string, error) {
	key := file.Fingerprint()
	if sum, ok := s.checksums.Get(key); ok {
		return sum, nil
	}

	f, err := s.fs.Open(file.AbsPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", file.AbsPath, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file.AbsPath, err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	s.checksums.Add(key, sum)
	return sum, nil
}

// CollectAll drains a scan into a slice, surfacing the first scan error.
func CollectAll(results <-chan ScanResult) ([]*FileInfo, error) {
	var files []*FileInfo
	for r := range results {
		if r.Error != nil {
			return files, r.Error
		}
		files = append(files, r.File)
	}
	return files, nil
}

// shouldExcludeDir checks if a directory should be excluded.
func (s *Scanner) shouldExcludeDir(relPath string, opts *ScanOptions) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

// shouldExcludeFile checks if a file should be excluded.
func (s *Scanner) shouldExcludeFile(relPath string, opts *ScanOptions) bool {
	baseName := filepath.Base(relPath)
	for _, pattern := range opts.ExcludePatterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	return false
}

// matchDirPattern checks if a directory path matches a pattern.
func matchDirPattern(relPath, pattern string) bool {
	// Handle **/ prefix patterns (e.g. **/restart*/**).
	if strings.HasPrefix(pattern, "**/") {
		part := strings.TrimPrefix(pattern, "**/")
		part = strings.TrimSuffix(part, "/**")
		for _, seg := range strings.Split(relPath, string(filepath.Separator)) {
			if matched, err := filepath.Match(part, seg); err == nil && matched {
				return true
			}
		}
		return false
	}

	// Handle dir/** patterns: match the directory itself or anything below it.
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}

	// Exact segment match on the last component, with glob support.
	if matched, err := filepath.Match(pattern, filepath.Base(relPath)); err == nil && matched {
		return true
	}
	return relPath == pattern || strings.HasPrefix(relPath, pattern+string(filepath.Separator))
}

// matchFilePattern checks if a file matches a pattern.
func matchFilePattern(baseName, relPath, pattern string) bool {
	// Handle dir/** patterns.
	if strings.HasSuffix(pattern, "/**") && !strings.HasPrefix(pattern, "**/") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}

	// Handle **/ prefix patterns against the base name.
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if matched, err := filepath.Match(suffix, baseName); err == nil && matched {
			return true
		}
		// Directory component inside the pattern (e.g. **/restart*/**).
		if strings.HasSuffix(suffix, "/**") {
			return matchDirPattern(filepath.Dir(relPath), pattern)
		}
		return false
	}

	// Plain glob against the base name.
	if matched, err := filepath.Match(pattern, baseName); err == nil && matched {
		return true
	}
	return baseName == pattern
}

// matchesAnyPattern checks if a path matches any of the given patterns.
func matchesAnyPattern(relPath string, patterns []string) bool {
	baseName := filepath.Base(relPath)
	for _, pattern := range patterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether the path matches any of the file patterns.
// An empty pattern list matches everything.
func MatchesAny(relPath string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	return matchesAnyPattern(relPath, patterns)
}

// Default directories never scanned.
var defaultExcludeDirs = []string{
	"**/.git/**",
}
