package allocation

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"barcodeseq/internal/core/apperror"
)

// Admission is an operator-supplied CEL rule every request must satisfy
// before it is queued, e.g.
//
//	count <= 200 && (!compound || mode == "A")
//
// Variables: prefix (string), count (int), week (string), mode (string),
// compound (bool).
type Admission struct {
	expr string
	prg  cel.Program
}

// NewAdmission compiles expr. An empty expression admits everything and
// returns nil.
func NewAdmission(expr string) (*Admission, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("prefix", cel.StringType),
		cel.Variable("count", cel.IntType),
		cel.Variable("week", cel.StringType),
		cel.Variable("mode", cel.StringType),
		cel.Variable("compound", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("admission env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile admission rule: %w", iss.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build admission program: %w", err)
	}

	return &Admission{expr: expr, prg: prg}, nil
}

// Check evaluates the rule for a normalized request.
func (a *Admission) Check(req Request) error {
	if a == nil {
		return nil
	}

	out, _, err := a.prg.Eval(map[string]any{
		"prefix":   req.Prefix,
		"count":    int64(req.Count),
		"week":     req.Week,
		"mode":     req.Mode,
		"compound": req.Compound,
	})
	if err != nil {
		return apperror.NewInvalidRequest("admission rule failed").
			WithDetail("rule", a.expr).
			WithCause(err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return apperror.NewInternal(fmt.Errorf("admission rule returned %T, want bool", out.Value()))
	}
	if !allowed {
		return apperror.NewInvalidRequest("request rejected by admission rule").
			WithDetail("rule", a.expr)
	}
	return nil
}
