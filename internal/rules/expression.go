package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// celEnv exposes the record as the map variable tx, e.g.
// `tx.amount > 5000.0 && tx.geography.country != tx.geography.ipCountry`.
var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func expressionEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return celEnv, celEnvErr
}

// CompileExpression compiles a boolean CEL expression and caches the program.
func CompileExpression(expr string) (cel.Program, error) {
	if cached, ok := programs.Get(expr); ok {
		return cached.(cel.Program), nil
	}

	env, err := expressionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if out := ast.OutputType(); out != cel.BoolType && out != cel.DynType {
		return nil, fmt.Errorf("expression must return bool, got %s", out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	programs.Add(expr, program)
	return program, nil
}

func evalExpression(record map[string]any, value any) bool {
	expr, ok := value.(string)
	if !ok || expr == "" {
		return false
	}

	program, err := CompileExpression(expr)
	if err != nil {
		return false
	}

	out, _, err := program.Eval(map[string]any{"tx": record})
	if err != nil {
		return false
	}

	b, ok := out.(types.Bool)
	return ok && bool(b)
}
