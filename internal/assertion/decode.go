package assertion

import (
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// List is an ordered assertion list that decodes from the YAML form.
type List []Assertion

// UnmarshalYAML decodes each single-key mapping into its variant.
func (l *List) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: assertions must be a list", value.Line)
	}
	out := make(List, 0, len(value.Content))
	for i, item := range value.Content {
		a, err := Decode(item)
		if err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	*l = out
	return nil
}

// Decode converts a single-key YAML mapping into an Assertion and checks
// its structural requirements.
func Decode(node *yaml.Node) (Assertion, error) {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return nil, fmt.Errorf("line %d: assertion must be a mapping with exactly one kind key", node.Line)
	}
	key, body := node.Content[0], node.Content[1]

	var (
		a   Assertion
		err error
	)
	switch Kind(key.Value) {
	case KindExists:
		var s string
		s, err = decodeScalar(body)
		a = Exists{Path: s}
	case KindNotExists:
		var s string
		s, err = decodeScalar(body)
		a = NotExists{Path: s}
	case KindUnchanged:
		var s string
		s, err = decodeScalar(body)
		a = Unchanged{Pattern: s}
	case KindOutputContains:
		var needles []string
		needles, err = decodeStringOrList(body)
		a = OutputContains{Needles: needles}
	case KindHasFrontmatter:
		var v HasFrontmatter
		err = decodeStrict(body, &v)
		a = v
	case KindHasSections:
		var v HasSections
		err = decodeStrict(body, &v)
		a = v
	case KindContentMatches:
		var v ContentMatches
		err = decodeStrict(body, &v)
		a = v
	case KindFileCount:
		var v FileCount
		err = decodeStrict(body, &v)
		a = v
	case KindSemantic:
		var v Semantic
		err = decodeStrict(body, &v)
		a = v
	case KindCustom:
		var v Custom
		err = decodeStrict(body, &v)
		a = v
	case KindToolCalled:
		var v ToolCalled
		err = decodeStrict(body, &v)
		a = v
	case KindToolCount:
		var v ToolCount
		err = decodeStrict(body, &v)
		a = v
	default:
		return nil, fmt.Errorf("line %d: unknown assertion type %q", key.Line, key.Value)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key.Value, err)
	}
	if err := Check(a); err != nil {
		return nil, fmt.Errorf("%s: %w", key.Value, err)
	}
	return a, nil
}

// Check validates the structural requirements of an assertion.
func Check(a Assertion) error {
	switch v := a.(type) {
	case Exists:
		return requireNonEmpty("path", v.Path)
	case NotExists:
		return requireNonEmpty("path", v.Path)
	case Unchanged:
		return requireNonEmpty("pattern", v.Pattern)
	case HasFrontmatter:
		if err := requireNonEmpty("path", v.Path); err != nil {
			return err
		}
		if len(v.Required) == 0 && len(v.Values) == 0 {
			return fmt.Errorf("required or values must be set")
		}
	case HasSections:
		if err := requireNonEmpty("path", v.Path); err != nil {
			return err
		}
		if len(v.Sections) == 0 {
			return fmt.Errorf("sections list is required and must be non-empty")
		}
	case ContentMatches:
		if err := requireNonEmpty("path", v.Path); err != nil {
			return err
		}
		return requireNonEmpty("pattern", v.Pattern)
	case OutputContains:
		if len(v.Needles) == 0 {
			return fmt.Errorf("at least one expected string is required")
		}
	case FileCount:
		if err := requireNonEmpty("pattern", v.Pattern); err != nil {
			return err
		}
		return checkBounds(v.Count, v.Min, v.Max)
	case Semantic:
		if len(v.Criteria) == 0 {
			return fmt.Errorf("criteria list is required and must be non-empty")
		}
		if v.Threshold != nil && (*v.Threshold < 0 || *v.Threshold > 1) {
			return fmt.Errorf("threshold must be between 0 and 1, got %v", *v.Threshold)
		}
	case Custom:
		return requireNonEmpty("validator", v.Validator)
	case ToolCalled:
		return requireNonEmpty("tool", v.Tool)
	case ToolCount:
		if err := requireNonEmpty("tool", v.Tool); err != nil {
			return err
		}
		return checkBounds(v.Count, v.Min, v.Max)
	default:
		return fmt.Errorf("unsupported assertion %T", a)
	}
	return nil
}

func requireNonEmpty(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func checkBounds(count, min, max *int) error {
	if count == nil && min == nil && max == nil {
		return fmt.Errorf("one of count, min or max is required")
	}
	for name, v := range map[string]*int{"count": count, "min": min, "max": max} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	if min != nil && max != nil && *min > *max {
		return fmt.Errorf("min (%d) must not exceed max (%d)", *min, *max)
	}
	return nil
}

// decodeStrict decodes a mapping body into v, rejecting keys that none of
// v's yaml tags name.
func decodeStrict(node *yaml.Node, v any) error {
	if node.Kind == yaml.MappingNode {
		known := yamlFields(reflect.TypeOf(v).Elem())
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if !known[key.Value] {
				return fmt.Errorf("line %d: unknown field %q", key.Line, key.Value)
			}
		}
	}
	return node.Decode(v)
}

func yamlFields(t reflect.Type) map[string]bool {
	out := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name != "" && name != "-" {
			out[name] = true
		}
	}
	return out
}

func decodeScalar(node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: expected a string", node.Line)
	}
	return node.Value, nil
}

func decodeStringOrList(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("line %d: expected a string or list of strings", node.Line)
	}
}
