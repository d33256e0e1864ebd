// Package assertion defines the closed set of assertion kinds a scenario can
// declare. Assertions are pure data; evaluation lives in package validate.
//
// # YAML Form
//
// Every assertion is a single-key mapping whose key is the kind tag:
//
//	assertions:
//	  - exists: docs/specification.md
//	  - not_exists: docs/draft.md
//	  - unchanged: "docs/research/**"
//	  - has_frontmatter:
//	      path: docs/specification.md
//	      required: [topic, status]
//	      values: { status: draft }
//	  - has_sections:
//	      path: docs/specification.md
//	      sections: ["## Summary", "## Decisions"]
//	  - content_matches:
//	      path: docs/specification.md
//	      pattern: "auth(entication)?"
//	      flags: i
//	  - output_contains: ["discussion", "next step"]
//	  - file_count: { pattern: "docs/*.md", min: 1, max: 3 }
//	  - semantic:
//	      path: docs/specification.md
//	      criteria: ["Describes the login flow"]
//	      threshold: 0.66
//	  - tool_called: { tool: Write, input: { file_path: docs/a.md } }
//	  - tool_count: { tool: AskUserQuestion, count: 0 }
package assertion

import (
	"fmt"
	"strings"
)

// Kind is the tag of an assertion variant.
type Kind string

// Assertion kind tags as they appear in scenario files.
const (
	KindExists         Kind = "exists"
	KindNotExists      Kind = "not_exists"
	KindUnchanged      Kind = "unchanged"
	KindHasFrontmatter Kind = "has_frontmatter"
	KindHasSections    Kind = "has_sections"
	KindContentMatches Kind = "content_matches"
	KindOutputContains Kind = "output_contains"
	KindFileCount      Kind = "file_count"
	KindSemantic       Kind = "semantic"
	KindCustom         Kind = "custom"
	KindToolCalled     Kind = "tool_called"
	KindToolCount      Kind = "tool_count"
)

// Kinds lists every supported kind in declaration order.
var Kinds = []Kind{
	KindExists, KindNotExists, KindUnchanged, KindHasFrontmatter,
	KindHasSections, KindContentMatches, KindOutputContains, KindFileCount,
	KindSemantic, KindCustom, KindToolCalled, KindToolCount,
}

// DefaultSemanticThreshold is the pass rate a semantic assertion needs when
// the scenario does not set one.
const DefaultSemanticThreshold = 0.8

// Assertion is one variant of the assertion sum type.
// The unexported marker restricts implementers to this package.
type Assertion interface {
	Kind() Kind
	// Describe returns a short human-readable label for reports.
	Describe() string
	assertion()
}

// Exists passes when at least one path matches.
type Exists struct {
	Path string `json:"path"`
}

// NotExists passes when no path matches.
type NotExists struct {
	Path string `json:"path"`
}

// Unchanged passes when no file matched by Pattern was created or modified
// during the run.
type Unchanged struct {
	Pattern string `json:"pattern"`
}

// HasFrontmatter checks the leading `---` block of a file.
type HasFrontmatter struct {
	Path     string         `yaml:"path" json:"path"`
	Required []string       `yaml:"required,omitempty" json:"required,omitempty"`
	Values   map[string]any `yaml:"values,omitempty" json:"values,omitempty"`
}

// HasSections checks that each heading prefix starts some line of a file.
type HasSections struct {
	Path     string   `yaml:"path" json:"path"`
	Sections []string `yaml:"sections" json:"sections"`
}

// ContentMatches checks a file against a regular expression.
// Flags use the single-letter convention (i, m, s).
type ContentMatches struct {
	Path    string `yaml:"path" json:"path"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Flags   string `yaml:"flags,omitempty" json:"flags,omitempty"`
}

// OutputContains requires every needle to appear in the agent output,
// ignoring case.
type OutputContains struct {
	Needles []string `json:"needles"`
}

// FileCount bounds the number of files matching Pattern.
type FileCount struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Count   *int   `yaml:"count,omitempty" json:"count,omitempty"`
	Min     *int   `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *int   `yaml:"max,omitempty" json:"max,omitempty"`
}

// Semantic asks the judge model whether content satisfies criteria.
// Content is the file at Path, or the agent output when Path is empty.
type Semantic struct {
	JudgeModel string   `yaml:"judge_model,omitempty" json:"judge_model,omitempty"`
	Path       string   `yaml:"path,omitempty" json:"path,omitempty"`
	Criteria   []string `yaml:"criteria" json:"criteria"`
	Threshold  *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// EffectiveThreshold returns Threshold or DefaultSemanticThreshold.
func (a Semantic) EffectiveThreshold() float64 {
	if a.Threshold == nil {
		return DefaultSemanticThreshold
	}
	return *a.Threshold
}

// Custom names an external validator. Not implemented; always fails.
type Custom struct {
	Validator string         `yaml:"validator" json:"validator"`
	Args      map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// ToolCalled requires a recorded tool call with the given name whose input
// contains Input as a subset.
type ToolCalled struct {
	Tool  string         `yaml:"tool" json:"tool"`
	Input map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
}

// ToolCount bounds the number of recorded calls to Tool.
type ToolCount struct {
	Tool  string `yaml:"tool" json:"tool"`
	Count *int   `yaml:"count,omitempty" json:"count,omitempty"`
	Min   *int   `yaml:"min,omitempty" json:"min,omitempty"`
	Max   *int   `yaml:"max,omitempty" json:"max,omitempty"`
}

func (Exists) Kind() Kind         { return KindExists }
func (NotExists) Kind() Kind      { return KindNotExists }
func (Unchanged) Kind() Kind      { return KindUnchanged }
func (HasFrontmatter) Kind() Kind { return KindHasFrontmatter }
func (HasSections) Kind() Kind    { return KindHasSections }
func (ContentMatches) Kind() Kind { return KindContentMatches }
func (OutputContains) Kind() Kind { return KindOutputContains }
func (FileCount) Kind() Kind      { return KindFileCount }
func (Semantic) Kind() Kind       { return KindSemantic }
func (Custom) Kind() Kind         { return KindCustom }
func (ToolCalled) Kind() Kind     { return KindToolCalled }
func (ToolCount) Kind() Kind      { return KindToolCount }

func (Exists) assertion()         {}
func (NotExists) assertion()      {}
func (Unchanged) assertion()      {}
func (HasFrontmatter) assertion() {}
func (HasSections) assertion()    {}
func (ContentMatches) assertion() {}
func (OutputContains) assertion() {}
func (FileCount) assertion()      {}
func (Semantic) assertion()       {}
func (Custom) assertion()         {}
func (ToolCalled) assertion()     {}
func (ToolCount) assertion()      {}

func (a Exists) Describe() string    { return fmt.Sprintf("exists %s", a.Path) }
func (a NotExists) Describe() string { return fmt.Sprintf("not_exists %s", a.Path) }
func (a Unchanged) Describe() string { return fmt.Sprintf("unchanged %s", a.Pattern) }

func (a HasFrontmatter) Describe() string {
	return fmt.Sprintf("has_frontmatter %s", a.Path)
}

func (a HasSections) Describe() string {
	return fmt.Sprintf("has_sections %s [%s]", a.Path, strings.Join(a.Sections, ", "))
}

func (a ContentMatches) Describe() string {
	return fmt.Sprintf("content_matches %s /%s/%s", a.Path, a.Pattern, a.Flags)
}

func (a OutputContains) Describe() string {
	return fmt.Sprintf("output_contains %q", a.Needles)
}

func (a FileCount) Describe() string {
	return fmt.Sprintf("file_count %s (%s)", a.Pattern, DescribeBounds(a.Count, a.Min, a.Max))
}

func (a Semantic) Describe() string {
	target := "output"
	if a.Path != "" {
		target = a.Path
	}
	return fmt.Sprintf("semantic %s (%d criteria)", target, len(a.Criteria))
}

func (a Custom) Describe() string     { return fmt.Sprintf("custom %s", a.Validator) }
func (a ToolCalled) Describe() string { return fmt.Sprintf("tool_called %s", a.Tool) }

func (a ToolCount) Describe() string {
	return fmt.Sprintf("tool_count %s (%s)", a.Tool, DescribeBounds(a.Count, a.Min, a.Max))
}

// DescribeBounds renders count/min/max constraints, e.g. "min=1, max=3".
func DescribeBounds(count, min, max *int) string {
	var parts []string
	if count != nil {
		parts = append(parts, fmt.Sprintf("count=%d", *count))
	}
	if min != nil {
		parts = append(parts, fmt.Sprintf("min=%d", *min))
	}
	if max != nil {
		parts = append(parts, fmt.Sprintf("max=%d", *max))
	}
	return strings.Join(parts, ", ")
}

// Bounds reports whether n satisfies every set constraint.
func Bounds(n int, count, min, max *int) bool {
	if count != nil && n != *count {
		return false
	}
	if min != nil && n < *min {
		return false
	}
	if max != nil && n > *max {
		return false
	}
	return true
}
