package fixture

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Snapshot maps a slash-separated relative path to full text content.
type Snapshot map[string]string

// Diff classifies paths present in either of two snapshots.
// Each list is sorted.
type Diff struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// IsGitInternal reports whether a slash-separated relative path lies inside
// the version-control directory.
func IsGitInternal(rel string) bool {
	return rel == ".git" || strings.HasPrefix(rel, ".git/")
}

// CaptureState reads every text file under dir. Version-control internals,
// unreadable files, and files that are not valid UTF-8 are excluded.
// Symlinked directories are not followed.
func CaptureState(dir string) (Snapshot, error) {
	snap := make(Snapshot)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if IsGitInternal(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if IsGitInternal(rel) {
			return nil
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil || !utf8.Valid(data) {
			return nil
		}
		snap[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// CompareState captures dir again and classifies every path against baseline.
func CompareState(dir string, baseline Snapshot) (Diff, error) {
	current, err := CaptureState(dir)
	if err != nil {
		return Diff{}, err
	}
	return Compare(baseline, current), nil
}

// Compare classifies paths between two snapshots.
func Compare(baseline, current Snapshot) Diff {
	d := Diff{Added: []string{}, Modified: []string{}, Removed: []string{}}
	for path, content := range current {
		prev, ok := baseline[path]
		switch {
		case !ok:
			d.Added = append(d.Added, path)
		case prev != content:
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range baseline {
		if _, ok := current[path]; !ok {
			d.Removed = append(d.Removed, path)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Removed)
	return d
}
