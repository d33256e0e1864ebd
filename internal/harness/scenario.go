package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/skillcheck/internal/assertion"
	"github.com/roach88/skillcheck/internal/choice"
)

// FileType classifies a scenario file.
type FileType string

const (
	TypeContract    FileType = "contract"
	TypeIntegration FileType = "integration"
)

// ScenarioFile is one YAML file of scenarios.
type ScenarioFile struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Type        FileType   `yaml:"type"`
	Scenarios   []Scenario `yaml:"scenarios"`

	// Path is the file the scenarios were loaded from.
	Path string `yaml:"-"`
}

// Scenario is one test case. Scenarios are immutable after load.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Fixture is the fixture ID relative to the fixtures root.
	Fixture string `yaml:"fixture"`

	// Command is sent to the agent, followed by Args when set.
	Command string `yaml:"command"`
	Args    string `yaml:"args,omitempty"`

	// Choices answer the interactive questions the agent asks.
	Choices []choice.Choice `yaml:"choices,omitempty"`

	// Preconditions must hold on the fresh fixture before execution.
	Preconditions assertion.List `yaml:"preconditions,omitempty"`

	// Assertions must hold after execution.
	Assertions assertion.List `yaml:"assertions"`

	// Invariants are globs whose files must not change.
	Invariants []string `yaml:"invariants,omitempty"`

	Config *ScenarioConfig `yaml:"config,omitempty"`
}

// ScenarioConfig overrides runner settings for one scenario.
type ScenarioConfig struct {
	Timeout       Duration `yaml:"timeout,omitempty"`
	Model         string   `yaml:"model,omitempty"`
	Runs          int      `yaml:"runs,omitempty"`
	PassThreshold string   `yaml:"pass_threshold,omitempty"`
	Skip          bool     `yaml:"skip,omitempty"`
	Only          bool     `yaml:"only,omitempty"`
}

// Prompt is the full text sent to the agent.
func (s *Scenario) Prompt() string {
	if s.Args == "" {
		return s.Command
	}
	return s.Command + " " + s.Args
}

// Skipped reports whether config.skip is set.
func (s *Scenario) Skipped() bool {
	return s.Config != nil && s.Config.Skip
}

// Focused reports whether config.only is set.
func (s *Scenario) Focused() bool {
	return s.Config != nil && s.Config.Only
}

// Attempts returns how many times the scenario runs and how many of those
// must pass.
func (s *Scenario) Attempts() (runs, need int) {
	runs = 1
	if s.Config != nil && s.Config.Runs > 1 {
		runs = s.Config.Runs
	}
	need = runs
	if s.Config != nil && s.Config.PassThreshold != "" {
		// Validated at load time.
		m, _, _ := ParsePassThreshold(s.Config.PassThreshold)
		need = m
	}
	return runs, need
}

// Duration is a timeout written either as a Go duration string ("90s",
// "5m") or as an integer number of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timeout must be a duration or milliseconds", value.Line)
	}
	if ms, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid timeout %q", value.Line, value.Value)
	}
	*d = Duration(parsed)
	return nil
}

// ParsePassThreshold parses "M/N" with 1 <= M <= N.
func ParsePassThreshold(s string) (m, n int, err error) {
	left, right, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("pass_threshold %q must have the form M/N", s)
	}
	m, errM := strconv.Atoi(strings.TrimSpace(left))
	n, errN := strconv.Atoi(strings.TrimSpace(right))
	if errM != nil || errN != nil {
		return 0, 0, fmt.Errorf("pass_threshold %q must have the form M/N", s)
	}
	if m < 1 || m > n {
		return 0, 0, fmt.Errorf("pass_threshold %q must satisfy 1 <= M <= N", s)
	}
	return m, n, nil
}

// LoadScenarioFile reads, parses, and validates a scenario file.
// Returns a *LoadError describing the first problem found.
func LoadScenarioFile(path string) (*ScenarioFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, File: path, Message: fmt.Sprintf("failed to read scenario file: %v", err)}
	}
	return ParseScenarioFile(path, data)
}

// ParseScenarioFile parses and validates scenario YAML. name is used in
// error positions.
func ParseScenarioFile(name string, data []byte) (*ScenarioFile, error) {
	var sf ScenarioFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&sf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &LoadError{Code: ErrCodeParse, File: name, Message: "empty scenario file"}
		}
		code := ErrCodeParse
		if strings.Contains(err.Error(), "assertions[") {
			code = ErrCodeInvalidAssertion
		}
		return nil, &LoadError{Code: code, File: name, Message: fmt.Sprintf("failed to parse YAML: %v", err)}
	}
	sf.Path = name

	if err := validateScenarioFile(&sf); err != nil {
		err.File = name
		return nil, err
	}
	return &sf, nil
}

// validateScenarioFile checks required fields and cross-field rules.
func validateScenarioFile(sf *ScenarioFile) *LoadError {
	if sf.Name == "" {
		return &LoadError{Code: ErrCodeRequired, Message: "name is required"}
	}
	switch sf.Type {
	case TypeContract, TypeIntegration:
	case "":
		return &LoadError{Code: ErrCodeRequired, Message: "type is required"}
	default:
		return &LoadError{Code: ErrCodeInvalidType, Message: fmt.Sprintf("type %q must be contract or integration", sf.Type)}
	}
	if len(sf.Scenarios) == 0 {
		return &LoadError{Code: ErrCodeRequired, Message: "scenarios list is required and must be non-empty"}
	}

	seen := make(map[string]bool, len(sf.Scenarios))
	for i := range sf.Scenarios {
		s := &sf.Scenarios[i]
		if err := validateScenario(s); err != nil {
			err.Message = fmt.Sprintf("scenarios[%d]: %s", i, err.Message)
			return err
		}
		if seen[s.Name] {
			return &LoadError{Code: ErrCodeDuplicate, Message: fmt.Sprintf("scenarios[%d]: duplicate scenario name %q", i, s.Name)}
		}
		seen[s.Name] = true
	}
	return nil
}

func validateScenario(s *Scenario) *LoadError {
	if s.Name == "" {
		return &LoadError{Code: ErrCodeRequired, Message: "name is required"}
	}
	if s.Fixture == "" {
		return &LoadError{Code: ErrCodeRequired, Message: "fixture is required"}
	}
	if s.Command == "" {
		return &LoadError{Code: ErrCodeRequired, Message: "command is required"}
	}
	if len(s.Assertions) == 0 && len(s.Invariants) == 0 {
		return &LoadError{Code: ErrCodeRequired, Message: "assertions list is required and must be non-empty"}
	}

	for i, c := range s.Choices {
		if strings.TrimSpace(c.Match) == "" {
			return &LoadError{Code: ErrCodeInvalidChoice, Message: fmt.Sprintf("choices[%d]: match is required", i)}
		}
		if len(c.Answer) == 0 {
			return &LoadError{Code: ErrCodeInvalidChoice, Message: fmt.Sprintf("choices[%d]: answer is required", i)}
		}
		if c.QuestionIndex != nil && *c.QuestionIndex < 0 {
			return &LoadError{Code: ErrCodeInvalidChoice, Message: fmt.Sprintf("choices[%d]: question_index must be >= 0", i)}
		}
	}

	for i, inv := range s.Invariants {
		if err := assertion.Check(assertion.Unchanged{Pattern: inv}); err != nil {
			return &LoadError{Code: ErrCodeInvalidAssertion, Message: fmt.Sprintf("invariants[%d]: %v", i, err)}
		}
	}

	if c := s.Config; c != nil {
		if c.Timeout < 0 {
			return &LoadError{Code: ErrCodeInvalidConfig, Message: "config.timeout must be positive"}
		}
		if c.Runs < 0 {
			return &LoadError{Code: ErrCodeInvalidConfig, Message: "config.runs must be positive"}
		}
		if c.PassThreshold != "" {
			_, n, err := ParsePassThreshold(c.PassThreshold)
			if err != nil {
				return &LoadError{Code: ErrCodeInvalidConfig, Message: "config." + err.Error()}
			}
			if runs := max(c.Runs, 1); n != runs {
				return &LoadError{Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("config.pass_threshold %q does not match runs %d", c.PassThreshold, runs)}
			}
		}
		if c.Model != "" && !ValidModel(c.Model) {
			return &LoadError{Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("config.model %q must be one of %v or a claude- model ID", c.Model, ModelAliases())}
		}
	}
	return nil
}
