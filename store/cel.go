package store

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/zero-day-ai/auditcore/finding"
)

// CELFilter is a Filter compiled from a CEL expression. The expression sees
// the following variables:
//
//	id, title, severity, confidence, key, domain, primitive, failure,
//	category, location, duplicate_of, detection   string
//	pass, worker, seq                             int
//	duplicate, static                             bool
//	evidence                                      list(string)
//
// Example: severity in ["critical", "high"] && pass >= 2 && !duplicate
type CELFilter struct {
	expr string
	prg  cel.Program
}

var celEnvOptions = []cel.EnvOption{
	cel.Variable("id", cel.StringType),
	cel.Variable("title", cel.StringType),
	cel.Variable("severity", cel.StringType),
	cel.Variable("confidence", cel.StringType),
	cel.Variable("key", cel.StringType),
	cel.Variable("domain", cel.StringType),
	cel.Variable("primitive", cel.StringType),
	cel.Variable("failure", cel.StringType),
	cel.Variable("category", cel.StringType),
	cel.Variable("location", cel.StringType),
	cel.Variable("duplicate_of", cel.StringType),
	cel.Variable("detection", cel.StringType),
	cel.Variable("pass", cel.IntType),
	cel.Variable("worker", cel.IntType),
	cel.Variable("seq", cel.IntType),
	cel.Variable("duplicate", cel.BoolType),
	cel.Variable("static", cel.BoolType),
	cel.Variable("evidence", cel.ListType(cel.StringType)),
}

// NewCELFilter compiles expr. The expression must evaluate to a bool.
func NewCELFilter(expr string) (*CELFilter, error) {
	env, err := cel.NewEnv(celEnvOptions...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter program: %w", err)
	}
	return &CELFilter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (c *CELFilter) String() string {
	return c.expr
}

// Match evaluates the expression against f. Evaluation errors never match.
func (c *CELFilter) Match(f *finding.Finding) bool {
	evidence := f.EvidenceIDs
	if evidence == nil {
		evidence = []string{}
	}
	key := f.RootCauseKey.Normalize()
	out, _, err := c.prg.Eval(map[string]any{
		"id":           f.ID,
		"title":        f.Title,
		"severity":     string(f.Severity),
		"confidence":   string(f.Confidence),
		"key":          string(key),
		"domain":       key.Domain(),
		"primitive":    key.Primitive(),
		"failure":      key.Failure(),
		"category":     f.EffectiveCategory(),
		"location":     f.Location,
		"duplicate_of": f.DuplicateOf,
		"detection":    string(f.DetectionMethod),
		"pass":         int64(f.SourcePassID),
		"worker":       int64(f.WorkerIndex),
		"seq":          int64(f.Seq),
		"duplicate":    f.IsDuplicate(),
		"static":       f.DetectionMethod == finding.DetectionStaticAnalysis,
		"evidence":     evidence,
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
