package validate

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/roach88/skillcheck/internal/assertion"
	"github.com/roach88/skillcheck/internal/fixture"
)

// glob resolves a slash-separated pattern under dir. A path that exists
// literally resolves to itself, so names containing glob metacharacters
// still match. Results never include .git internals.
func glob(dir, pattern string, filesOnly bool) ([]string, error) {
	p, err := cleanPath(pattern)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(p))); err == nil && !(filesOnly && info.IsDir()) {
		if fixture.IsGitInternal(p) {
			return nil, nil
		}
		return []string{p}, nil
	}
	if !hasMeta(p) {
		return nil, nil
	}
	if !doublestar.ValidatePattern(p) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	var opts []doublestar.GlobOption
	if filesOnly {
		opts = append(opts, doublestar.WithFilesOnly())
	}
	matches, err := doublestar.Glob(os.DirFS(dir), p, opts...)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	out := matches[:0]
	for _, m := range matches {
		if !fixture.IsGitInternal(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, `*?[{\`)
}

// cleanPath normalizes a relative path or pattern and rejects ones that
// leave the working directory.
func cleanPath(pattern string) (string, error) {
	p := filepath.ToSlash(strings.TrimSpace(pattern))
	if p == "" {
		return "", fmt.Errorf("empty path pattern")
	}
	if path.IsAbs(p) || filepath.IsAbs(pattern) {
		return "", fmt.Errorf("path pattern %q must be relative to the working directory", pattern)
	}
	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("path pattern %q escapes the working directory", pattern)
	}
	return p, nil
}

func checkExists(vctx *Context, a assertion.Exists) (Result, error) {
	matches, err := glob(vctx.WorkDir, a.Path, false)
	if err != nil {
		return Result{}, err
	}
	if len(matches) == 0 {
		return failed("%s does not exist", a.Path), nil
	}
	res := passed("%s exists (%d match%s)", a.Path, len(matches), plural(len(matches), "es"))
	res.Actual = matches
	return res, nil
}

func checkNotExists(vctx *Context, a assertion.NotExists) (Result, error) {
	matches, err := glob(vctx.WorkDir, a.Path, false)
	if err != nil {
		return Result{}, err
	}
	if len(matches) > 0 {
		res := failed("%s exists but should not: %s", a.Path, strings.Join(matches, ", "))
		res.Actual = matches
		return res, nil
	}
	return passed("%s does not exist", a.Path), nil
}

func checkUnchanged(vctx *Context, a assertion.Unchanged) (Result, error) {
	matches, err := glob(vctx.WorkDir, a.Pattern, true)
	if err != nil {
		return Result{}, err
	}

	var changed []string
	for _, rel := range matches {
		data, err := os.ReadFile(filepath.Join(vctx.WorkDir, filepath.FromSlash(rel)))
		if err != nil || !utf8.Valid(data) {
			// Not part of the text snapshot.
			continue
		}
		before, ok := vctx.Baseline[rel]
		switch {
		case !ok:
			changed = append(changed, rel+" (new file)")
		case before != string(data):
			changed = append(changed, rel)
		}
	}
	if len(changed) > 0 {
		res := failed("%d file%s changed: %s", len(changed), plural(len(changed), "s"), strings.Join(changed, ", "))
		res.Actual = changed
		return res, nil
	}
	return passed("%d file%s unchanged", len(matches), plural(len(matches), "s")), nil
}

func checkFileCount(vctx *Context, a assertion.FileCount) (Result, error) {
	matches, err := glob(vctx.WorkDir, a.Pattern, true)
	if err != nil {
		return Result{}, err
	}
	n := len(matches)
	want := assertion.DescribeBounds(a.Count, a.Min, a.Max)
	var res Result
	if assertion.Bounds(n, a.Count, a.Min, a.Max) {
		res = passed("%d file%s match %s (%s)", n, plural(n, "s"), a.Pattern, want)
	} else {
		res = failed("%d file%s match %s, expected %s", n, plural(n, "s"), a.Pattern, want)
	}
	res.Actual = n
	res.Expected = want
	return res, nil
}

// readTarget reads a file named by an assertion. ok is false when the file
// is missing; other read errors are returned.
func readTarget(vctx *Context, rel string) (content string, ok bool, err error) {
	p, err := cleanPath(rel)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(filepath.Join(vctx.WorkDir, filepath.FromSlash(p)))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), true, nil
}

func plural(n int, suffix string) string {
	if n == 1 {
		return ""
	}
	return suffix
}
