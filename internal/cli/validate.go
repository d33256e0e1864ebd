package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/skillcheck/internal/fixture"
	"github.com/roach88/skillcheck/internal/harness"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	TestsDir string
}

// ValidationIssue is one problem found in a scenario file.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// FileValidation is the result for one scenario file.
type FileValidation struct {
	File      string            `json:"file"`
	Valid     bool              `json:"valid"`
	Scenarios int               `json:"scenarios"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [scenario-files...]",
		Short: "Check scenario files without running them",
		Long: `Check scenario files against the scenario schema, load them with the
strict loader, and verify that every referenced fixture exists.

With no arguments every file under <tests-dir>/scenarios is checked.
Schema violations are all reported, with line numbers.

Examples:
  skillcheck validate
  skillcheck validate tests/scenarios/contracts/specification.yml
  skillcheck validate --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TestsDir, "tests-dir", harness.DefaultRunnerConfig().TestsDir, "directory holding fixtures/ and scenarios/")

	return cmd
}

func runValidate(opts *ValidateOptions, files []string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	cfg := harness.RunnerConfig{TestsDir: opts.TestsDir}

	if len(files) == 0 {
		found, err := harness.FindScenarioFiles(cfg.ScenariosDir(), harness.Selection{})
		if err != nil {
			_ = out.Error(harness.ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitFailure, "failed to find scenario files", err)
		}
		files = found
	}
	if len(files) == 0 {
		msg := fmt.Sprintf("no scenario files found in %s", cfg.ScenariosDir())
		_ = out.Error(harness.ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}
	out.VerboseLog("Checking %d scenario file(s)", len(files))

	checker, err := harness.NewSchemaChecker()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load scenario schema", err)
	}
	iso := fixture.NewIsolator(cfg.FixturesDir())

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, path := range files {
		fv := validateFile(checker, iso, path)
		result.Valid = result.Valid && fv.Valid
		result.Files = append(result.Files, fv)
	}

	if out.JSON() {
		if result.Valid {
			return out.Success(result)
		}
		first := firstIssue(result)
		_ = out.Failure(first.Code, first.Message, result)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", issueCount(result)))
	}

	for _, fv := range result.Files {
		if fv.Valid {
			fmt.Fprintf(out.Writer, "✓ %s (%d scenario%s)\n", fv.File, fv.Scenarios, plural(fv.Scenarios))
			continue
		}
		fmt.Fprintf(out.Writer, "✗ %s\n", fv.File)
		for _, issue := range fv.Errors {
			if issue.Line > 0 {
				fmt.Fprintf(out.Writer, "  line %d: %s: %s\n", issue.Line, issue.Code, issue.Message)
			} else {
				fmt.Fprintf(out.Writer, "  %s: %s\n", issue.Code, issue.Message)
			}
		}
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", issueCount(result)))
	}
	return nil
}

// validateFile runs the schema check, then the strict loader, then the
// fixture check. Each stage runs only if the previous one passed.
func validateFile(checker *harness.SchemaChecker, iso *fixture.Isolator, path string) FileValidation {
	fv := FileValidation{File: filepath.ToSlash(path)}

	data, err := os.ReadFile(path)
	if err != nil {
		fv.Errors = append(fv.Errors, ValidationIssue{Code: harness.ErrCodeNotFound, Message: err.Error()})
		return fv
	}

	for _, err := range checker.Check(path, data) {
		fv.Errors = append(fv.Errors, issueFrom(err))
	}
	if len(fv.Errors) > 0 {
		return fv
	}

	sf, err := harness.ParseScenarioFile(path, data)
	if err != nil {
		fv.Errors = append(fv.Errors, issueFrom(err))
		return fv
	}
	fv.Scenarios = len(sf.Scenarios)

	for i, sc := range sf.Scenarios {
		if _, err := iso.Resolve(sc.Fixture); err != nil {
			fv.Errors = append(fv.Errors, ValidationIssue{
				Code:    harness.ErrCodeFixtureMissing,
				Message: fmt.Sprintf("scenarios[%d] %q: fixture %q not found in %s", i, sc.Name, sc.Fixture, iso.FixturesRoot()),
			})
		}
	}
	fv.Valid = len(fv.Errors) == 0
	return fv
}

func issueFrom(err error) ValidationIssue {
	var le *harness.LoadError
	if errors.As(err, &le) {
		return ValidationIssue{Code: le.Code, Message: le.Message, Line: le.Line, Column: le.Column}
	}
	return ValidationIssue{Code: harness.ErrCodeGeneric, Message: err.Error()}
}

func firstIssue(r ValidationResult) ValidationIssue {
	for _, f := range r.Files {
		if len(f.Errors) > 0 {
			return f.Errors[0]
		}
	}
	return ValidationIssue{Code: harness.ErrCodeGeneric, Message: "validation failed"}
}

func issueCount(r ValidationResult) int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Errors)
	}
	return n
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
