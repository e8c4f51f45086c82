// Package safeexpr compiles user- and LLM-supplied reward formulas into
// runnable programs over a fixed, whitelisted variable and function set,
// so a formula is parsed and type-checked once rather than re-parsed on
// every step.
//
// Grounded on the Python original's intent (backend/app/llm/safe_expr.py: a
// whitelist-only expression evaluator) but built on a real sandboxed
// expression engine, github.com/antonmedv/expr, rather than a hand-rolled
// ast.NodeVisitor: expr.Env restricts compilation to a fixed symbol table,
// and expr.AsFloat64 rejects any formula that doesn't type-check to a
// scalar, both enforced at Compile time.
package safeexpr

import (
	"fmt"
	"math"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	"github.com/miry41/lamarl-playground/internal/lamarlerr"
)

// Inputs is the variable set a reward formula may reference.
type Inputs struct {
	Coverage   float64
	Uniformity float64
	Collisions float64
	Variance   float64 // alias of Uniformity, read only when Uniformity is zero
}

// Compiled is a reward formula compiled once against the whitelisted
// environment, ready for repeated evaluation.
type Compiled struct {
	program *vm.Program
	source  string
}

func environment() map[string]interface{} {
	return map[string]interface{}{
		"coverage":   0.0,
		"uniformity": 0.0,
		"collisions": 0.0,
		"variance":   0.0,
		"abs":        math.Abs,
		"min":        math.Min,
		"max":        math.Max,
		"clamp":      clamp,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Compile parses and type-checks source against the whitelisted
// coverage/uniformity/collisions/variance variables and abs/min/max/clamp
// functions. Any other identifier, or a formula that doesn't evaluate to a
// number, is rejected with lamarlerr.ErrExprRejected.
func Compile(source string) (*Compiled, error) {
	program, err := expr.Compile(source, expr.Env(environment()), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("safeexpr: %q: %w: %v", source, lamarlerr.ErrExprRejected, err)
	}
	return &Compiled{program: program, source: source}, nil
}

// Eval runs the compiled formula against the given inputs. The names
// uniformity and variance always evaluate to the same value.
func (c *Compiled) Eval(in Inputs) (float64, error) {
	uniformity := in.Uniformity
	if uniformity == 0 {
		uniformity = in.Variance
	}
	env := environment()
	env["coverage"] = in.Coverage
	env["uniformity"] = uniformity
	env["collisions"] = in.Collisions
	env["variance"] = uniformity

	out, err := expr.Run(c.program, env)
	if err != nil {
		return 0, fmt.Errorf("safeexpr: evaluating %q: %w", c.source, err)
	}
	f, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("safeexpr: %q did not evaluate to a number", c.source)
	}
	return f, nil
}

// Source returns the original, uncompiled formula text.
func (c *Compiled) Source() string { return c.source }
