package validate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/skillcheck/internal/assertion"
)

var frontmatterBlock = regexp.MustCompile(`^---\r?\n([\s\S]*?)\r?\n---`)

func checkFrontmatter(vctx *Context, a assertion.HasFrontmatter) (Result, error) {
	content, ok, err := readTarget(vctx, a.Path)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return failed("file not found: %s", a.Path), nil
	}
	m := frontmatterBlock.FindStringSubmatch(content)
	if m == nil {
		return failed("no frontmatter block in %s", a.Path), nil
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
		return failed("invalid frontmatter YAML in %s: %v", a.Path, err), nil
	}

	var missing []string
	for _, key := range a.Required {
		if _, ok := fm[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		res := failed("missing frontmatter field%s in %s: %s", plural(len(missing), "s"), a.Path, strings.Join(missing, ", "))
		res.Expected = a.Required
		return res, nil
	}

	keys := make([]string, 0, len(a.Values))
	for k := range a.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		want := a.Values[key]
		got, ok := fm[key]
		if !ok {
			res := failed("missing frontmatter field in %s: %s", a.Path, key)
			res.Expected = want
			return res, nil
		}
		if !valuesEqual(got, want) {
			res := failed("frontmatter %s in %s is %v, expected %v", key, a.Path, got, want)
			res.Actual = got
			res.Expected = want
			return res, nil
		}
	}
	return passed("frontmatter in %s has %d required field%s", a.Path, len(a.Required)+len(a.Values), plural(len(a.Required)+len(a.Values), "s")), nil
}

func checkSections(vctx *Context, a assertion.HasSections) (Result, error) {
	content, ok, err := readTarget(vctx, a.Path)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return failed("file not found: %s", a.Path), nil
	}
	var missing []string
	for _, heading := range a.Sections {
		re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(heading))
		if !re.MatchString(content) {
			missing = append(missing, heading)
		}
	}
	if len(missing) > 0 {
		res := failed("missing section%s in %s: %s", plural(len(missing), "s"), a.Path, strings.Join(missing, ", "))
		res.Actual = missing
		res.Expected = a.Sections
		return res, nil
	}
	return passed("all %d sections present in %s", len(a.Sections), a.Path), nil
}

func checkContentMatches(vctx *Context, a assertion.ContentMatches) (Result, error) {
	re, err := compilePattern(a.Pattern, a.Flags)
	if err != nil {
		return Result{}, err
	}
	content, ok, err := readTarget(vctx, a.Path)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return failed("file not found: %s", a.Path), nil
	}
	if !re.MatchString(content) {
		res := failed("%s does not match /%s/%s", a.Path, a.Pattern, a.Flags)
		res.Expected = a.Pattern
		return res, nil
	}
	return passed("%s matches /%s/%s", a.Path, a.Pattern, a.Flags), nil
}

// compilePattern maps single-letter regex flags onto Go inline flags.
// g, u and y have no Go meaning and are accepted as no-ops.
func compilePattern(pattern, flags string) (*regexp.Regexp, error) {
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline.String(), f) {
				inline.WriteRune(f)
			}
		case 'g', 'u', 'y':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", f)
		}
	}
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re, nil
}

func checkOutputContains(vctx *Context, a assertion.OutputContains) Result {
	output := strings.ToLower(vctx.Output)
	var missing []string
	for _, needle := range a.Needles {
		if !strings.Contains(output, strings.ToLower(needle)) {
			missing = append(missing, needle)
		}
	}
	if len(missing) > 0 {
		res := failed("output does not contain: %s", quoteAll(missing))
		res.Expected = a.Needles
		return res
	}
	return passed("output contains: %s", quoteAll(a.Needles))
}

func quoteAll(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(q, ", ")
}

// valuesEqual compares decoded values after normalizing both through JSON,
// so YAML ints, JSON floats and nested maps compare by value.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
