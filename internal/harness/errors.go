package harness

import "fmt"

// LoadError describes why a scenario file was rejected. Load errors are
// fatal: they are reported before any scenario runs.
type LoadError struct {
	Code    string
	Message string
	File    string
	Line    int // 1-based; 0 when unknown
	Column  int
}

func (e *LoadError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.File, e.Line, e.Column, e.Code, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Error codes for scenario loading.
const (
	ErrCodeGeneric  = "E001" // Generic/unknown error
	ErrCodeNotFound = "E005" // Path not found

	ErrCodeParse            = "E010" // YAML parse failed or unknown field
	ErrCodeRequired         = "E011" // Required field missing
	ErrCodeInvalidType      = "E012" // File type not contract|integration
	ErrCodeDuplicate        = "E013" // Duplicate scenario name
	ErrCodeInvalidChoice    = "E014" // Malformed scripted choice
	ErrCodeInvalidAssertion = "E015" // Malformed assertion or invariant
	ErrCodeInvalidConfig    = "E016" // Malformed scenario config

	ErrCodeSchema         = "E020" // Schema violation
	ErrCodeFixtureMissing = "E021" // Fixture does not resolve
)
