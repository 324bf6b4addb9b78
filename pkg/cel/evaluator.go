package cel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Vars is the activation of one syslog record.
type Vars struct {
	Timestamp  time.Time
	Host       string
	Addr       string
	Port       int
	Facility   string
	Severity   string
	Format     string
	Message    string
	Raw        string
	App        string
	ProcID     string
	MsgID      string
	Structured map[string]string
}

func (v Vars) activation() map[string]interface{} {
	structured := v.Structured
	if structured == nil {
		structured = map[string]string{}
	}
	return map[string]interface{}{
		"timestamp":  v.Timestamp,
		"host":       v.Host,
		"addr":       v.Addr,
		"port":       int64(v.Port),
		"facility":   v.Facility,
		"severity":   v.Severity,
		"format":     v.Format,
		"message":    v.Message,
		"raw":        v.Raw,
		"app":        v.App,
		"procid":     v.ProcID,
		"msgid":      v.MsgID,
		"structured": structured,
	}
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("host", cel.StringType),
		cel.Variable("addr", cel.StringType),
		cel.Variable("port", cel.IntType),
		cel.Variable("facility", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("format", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("raw", cel.StringType),
		cel.Variable("app", cel.StringType),
		cel.Variable("procid", cel.StringType),
		cel.Variable("msgid", cel.StringType),
		cel.Variable("structured", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// Filter is a compiled boolean expression over one record.
type Filter struct {
	expression string
	program    cel.Program
}

func (f *Filter) String() string {
	return f.expression
}

// CompileFilter checks and plans expression once so it can be evaluated
// for every record.
func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

func (f *Filter) Match(ctx context.Context, vars Vars) (bool, error) {
	result, _, err := f.program.ContextEval(ctx, vars.activation())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// EvaluateFilter compiles and evaluates expression in one go.
func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, vars Vars) (bool, error) {
	f, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}
	return f.Match(ctx, vars)
}
