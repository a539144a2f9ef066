package scanner

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScanner(t *testing.T, files map[string]string) (*Scanner, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	}
	s, err := NewWithFs(fsys)
	require.NoError(t, err)
	return s, fsys
}

func scanPaths(t *testing.T, s *Scanner, opts *ScanOptions) []string {
	t.Helper()
	results, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)
	files, err := CollectAll(results)
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}

func TestScan_IncludePatterns(t *testing.T) {
	s, _ := newTestScanner(t, map[string]string{
		"/data/exp1/output000/ocean.nc":  "x",
		"/data/exp1/output000/ice.nc":    "x",
		"/data/exp1/output000/ocean.log": "x",
		"/data/exp1/readme.md":           "x",
	})

	paths := scanPaths(t, s, &ScanOptions{
		Roots:           []string{"/data"},
		IncludePatterns: []string{"**/*.nc"},
	})

	assert.Equal(t, []string{
		"exp1/output000/ice.nc",
		"exp1/output000/ocean.nc",
	}, paths)
}

func TestScan_ExcludePatterns(t *testing.T) {
	s, _ := newTestScanner(t, map[string]string{
		"/data/exp1/output000/ocean.nc":  "x",
		"/data/exp1/restart000/ocean.nc": "x",
		"/data/exp1/restart001/ice.nc":   "x",
	})

	paths := scanPaths(t, s, &ScanOptions{
		Roots:           []string{"/data"},
		IncludePatterns: []string{"**/*.nc"},
		ExcludePatterns: []string{"**/restart*/**"},
	})

	assert.Equal(t, []string{"exp1/output000/ocean.nc"}, paths)
}

func TestScan_MultipleRoots(t *testing.T) {
	s, _ := newTestScanner(t, map[string]string{
		"/a/exp1/ocean.nc": "x",
		"/b/exp2/ice.nc":   "x",
	})

	paths := scanPaths(t, s, &ScanOptions{
		Roots:           []string{"/a", "/b"},
		IncludePatterns: []string{"**/*.nc"},
	})

	assert.Equal(t, []string{"exp1/ocean.nc", "exp2/ice.nc"}, paths)
}

func TestScan_MissingRoot(t *testing.T) {
	s, _ := newTestScanner(t, nil)

	_, err := s.Scan(context.Background(), &ScanOptions{Roots: []string{"/nope"}})
	assert.Error(t, err)
}

func TestScan_NoRoots(t *testing.T) {
	s, _ := newTestScanner(t, nil)

	_, err := s.Scan(context.Background(), &ScanOptions{})
	assert.Error(t, err)
}

func TestScan_ContextCancellation(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 200; i++ {
		files[filepath.Join("/data", "exp", "file"+string(rune('a'+i%26))+".nc")] = "x"
	}
	s, _ := newTestScanner(t, files)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := s.Scan(ctx, &ScanOptions{Roots: []string{"/data"}})
	require.NoError(t, err)

	// Drain; a cancelled scan must still close the channel.
	for range results {
	}
}

func TestChecksum_CachedByFingerprint(t *testing.T) {
	s, fsys := newTestScanner(t, map[string]string{"/data/a.nc": "hello"})

	info, err := fsys.Stat("/data/a.nc")
	require.NoError(t, err)
	file := &FileInfo{AbsPath: "/data/a.nc", Size: info.Size(), ModTime: info.ModTime()}

	sum1, err := s.Checksum(file)
	require.NoError(t, err)
	assert.Len(t, sum1, 64)

	// Rewrite the content behind the same fingerprint; the cached sum is
	// returned because size and mtime are unchanged in the FileInfo.
	require.NoError(t, afero.WriteFile(fsys, "/data/a.nc", []byte("other"), 0o644))
	sum2, err := s.Checksum(file)
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)

	// A different fingerprint forces a re-read.
	changed := &FileInfo{AbsPath: "/data/a.nc", Size: 5, ModTime: file.ModTime.Add(time.Second)}
	sum3, err := s.Checksum(changed)
	require.NoError(t, err)
	assert.NotEqual(t, sum1, sum3)
}

func TestDiff(t *testing.T) {
	now := time.Now()
	a := &FileInfo{AbsPath: "/data/a.nc", Size: 10, ModTime: now}
	b := &FileInfo{AbsPath: "/data/b.nc", Size: 20, ModTime: now}
	c := &FileInfo{AbsPath: "/data/c.nc", Size: 30, ModTime: now}

	recorded := map[string]string{
		a.AbsPath: a.Fingerprint(),
		b.AbsPath: (&FileInfo{AbsPath: b.AbsPath, Size: 15, ModTime: now}).Fingerprint(),
		"/data/gone.nc": "stale",
	}

	changes := Diff(recorded, []*FileInfo{a, b, c})
	require.Len(t, changes, 4)

	kinds := map[string]ChangeKind{}
	for _, ch := range changes {
		kinds[ch.Path] = ch.Kind
	}
	assert.Equal(t, ChangeUnchanged, kinds["/data/a.nc"])
	assert.Equal(t, ChangeModified, kinds["/data/b.nc"])
	assert.Equal(t, ChangeNew, kinds["/data/c.nc"])
	assert.Equal(t, ChangeRemoved, kinds["/data/gone.nc"])
}

func TestDiff_RemovedSorted(t *testing.T) {
	recorded := map[string]string{"/z.nc": "f", "/a.nc": "f", "/m.nc": "f"}

	changes := Diff(recorded, nil)
	require.Len(t, changes, 3)
	assert.Equal(t, "/a.nc", changes[0].Path)
	assert.Equal(t, "/m.nc", changes[1].Path)
	assert.Equal(t, "/z.nc", changes[2].Path)
}

func TestMatchFilePattern(t *testing.T) {
	tests := []struct {
		relPath string
		pattern string
		want    bool
	}{
		{"exp1/output000/ocean.nc", "**/*.nc", true},
		{"exp1/output000/ocean.log", "**/*.nc", false},
		{"ocean.nc", "*.nc", true},
		{"exp1/restart000/ocean.nc", "**/restart*/**", true},
		{"exp1/output000/ocean.nc", "**/restart*/**", false},
		{"archive/old.nc", "archive/**", true},
		{"live/old.nc", "archive/**", false},
	}

	for _, tt := range tests {
		got := matchFilePattern(filepath.Base(tt.relPath), tt.relPath, tt.pattern)
		assert.Equal(t, tt.want, got, "pattern %q against %q", tt.pattern, tt.relPath)
	}
}
