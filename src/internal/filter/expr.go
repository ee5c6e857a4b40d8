// FILE: chatwisp/src/internal/filter/expr.go
package filter

import (
	"fmt"
	"strings"
	"time"

	"chatwisp/src/internal/core"

	"github.com/google/cel-go/cel"
)

// Expr is a compiled viewer-side CEL predicate over entry fields, e.g.
// `country == "DE" && question.contains("price")`. A zero Expr matches everything.
type Expr struct {
	source string
	prog   cel.Program
}

var exprEnv = mustExprEnv()

func mustExprEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("received_at", cel.IntType),
		cel.Variable("received_by", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("city", cel.StringType),
		cel.Variable("region", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("lat", cel.DoubleType),
		cel.Variable("lon", cel.DoubleType),
		cel.Variable("user_agent", cel.StringType),
		cel.Variable("session", cel.StringType),
		cel.Variable("question", cel.StringType),
		cel.Variable("answer", cel.StringType),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		panic(fmt.Sprintf("filter: cel environment: %v", err))
	}
	return env
}

// Compiles a boolean CEL expression. An empty expression yields a match-all Expr.
func CompileExpr(expr string) (*Expr, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Expr{}, nil
	}

	ast, iss := exprEnv.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", iss.Err())
	}
	checked, iss := exprEnv.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", iss.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter expression must evaluate to bool, got %s", checked.OutputType())
	}
	prog, err := exprEnv.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	return &Expr{source: expr, prog: prog}, nil
}

// Reports whether entry satisfies the expression. Evaluation errors count as no match.
func (e *Expr) Match(entry core.LogEntry) bool {
	if e == nil || e.prog == nil {
		return true
	}

	vars := entry.Fields()
	vars["now_ms"] = time.Now().UnixMilli()

	out, _, err := e.prog.Eval(vars)
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Returns the expression text, empty for match-all
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	return e.source
}
