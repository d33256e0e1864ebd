package harness

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaCUE string

// SchemaChecker validates raw scenario YAML against the embedded CUE schema.
// It reports every violation with its position, where the strict loader
// stops at the first.
//
// Thread-safety: not safe for concurrent use.
type SchemaChecker struct {
	ctx *cue.Context
	def cue.Value
}

// NewSchemaChecker compiles the embedded schema.
func NewSchemaChecker() (*SchemaChecker, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#ScenarioFile"))
	if !def.Exists() {
		return nil, fmt.Errorf("compile scenario schema: #ScenarioFile not defined")
	}
	return &SchemaChecker{ctx: ctx, def: def}, nil
}

// Check returns one *LoadError per schema violation in data. An empty
// result means the file conforms.
func (c *SchemaChecker) Check(filename string, data []byte) []error {
	f, err := cueyaml.Extract(filename, data)
	if err != nil {
		return []error{&LoadError{Code: ErrCodeParse, File: filename, Message: fmt.Sprintf("failed to parse YAML: %v", err)}}
	}
	v := c.ctx.BuildFile(f)
	if err := v.Err(); err != nil {
		return convertCUEErrors(filename, ErrCodeParse, err)
	}
	if err := c.def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(filename, ErrCodeSchema, err)
	}
	return nil
}

// convertCUEErrors flattens a CUE error list into LoadErrors positioned in
// the scenario file when possible.
func convertCUEErrors(filename, code string, err error) []error {
	var out []error
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + msg
		}
		pos := inputPosition(filename, e)
		key := fmt.Sprintf("%d:%d:%s", pos.Line(), pos.Column(), msg)
		if seen[key] {
			continue
		}
		seen[key] = true

		le := &LoadError{Code: code, File: filename, Message: msg}
		if pos.IsValid() {
			le.Line = pos.Line()
			le.Column = pos.Column()
		}
		out = append(out, le)
	}
	if len(out) == 0 {
		out = append(out, &LoadError{Code: code, File: filename, Message: err.Error()})
	}
	return out
}

// inputPosition prefers a position inside the scenario file over one in the
// schema.
func inputPosition(filename string, e cueerrors.Error) token.Pos {
	if p := e.Position(); p.IsValid() && p.Filename() == filename {
		return p
	}
	for _, p := range e.InputPositions() {
		if p.IsValid() && p.Filename() == filename {
			return p
		}
	}
	return token.NoPos
}
