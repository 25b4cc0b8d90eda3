package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELEngine evaluates operator-supplied CEL rules against the policy input.
// All rules must evaluate to true for an allow. Compilation and evaluation
// failures are denies: a broken rule set never fails open.
type CELEngine struct {
	env      *cel.Env
	rules    []string
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewCELEngine compiles an engine over the given rule expressions. Rules see
// the variables `action` (string), `aggregate` (double), `scores` (map) and
// `decided_by` (string).
func NewCELEngine(rules []string) (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("aggregate", cel.DoubleType),
		cel.Variable("scores", cel.DynType),
		cel.Variable("decided_by", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELEngine{
		env:      env,
		rules:    rules,
		prgCache: make(map[string]cel.Program),
	}, nil
}

func (e *CELEngine) Evaluate(ctx context.Context, in Input) Decision {
	input := map[string]any{
		"action":     in.Action,
		"aggregate":  in.Aggregate,
		"decided_by": in.DecidedBy,
		"scores": map[string]any{
			"feasibility": in.Scores.Feasibility,
			"alignment":   in.Scores.Alignment,
			"risk":        in.Scores.Risk,
			"cost":        in.Scores.Cost,
		},
	}

	for i, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return Decision{Reason: fmt.Sprintf("evaluation cancelled: %v", err)}
		}
		allowed, err := e.evaluateExpr(rule, input)
		if err != nil {
			return Decision{Reason: fmt.Sprintf("rule %d failed: %v", i, err)}
		}
		if !allowed {
			return Decision{Reason: fmt.Sprintf("rule %d denied", i)}
		}
	}
	return Decision{Allow: true, Reason: "all rules passed"}
}

func (e *CELEngine) evaluateExpr(expr string, input map[string]any) (bool, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		if prg, hit = e.prgCache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			e.prgCache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
