// Package convex solves small convex-style optimization problems described
// as expression strings over scalar and vector variables.
package convex

import (
	"fmt"
	"math"
)

// ValueKind discriminates evaluated expression values.
type ValueKind int

const (
	KindScalar ValueKind = iota
	KindVector
	KindMatrix
)

// Value is the result of evaluating an expression node.
type Value struct {
	Kind   ValueKind
	Scalar float64
	Vector []float64
	Matrix [][]float64
}

func scalarValue(v float64) Value {
	return Value{Kind: KindScalar, Scalar: v}
}

func vectorValue(v []float64) Value {
	return Value{Kind: KindVector, Vector: v}
}

// Node is an expression AST node.
type Node interface {
	Eval(env map[string]Value) (Value, error)
}

type numberNode struct {
	value float64
}

func (n *numberNode) Eval(map[string]Value) (Value, error) {
	return scalarValue(n.value), nil
}

type identNode struct {
	name string
}

func (n *identNode) Eval(env map[string]Value) (Value, error) {
	v, ok := env[n.name]
	if !ok {
		return Value{}, fmt.Errorf("unknown identifier: %s", n.name)
	}
	return v, nil
}

type unaryNode struct {
	operand Node
}

func (n *unaryNode) Eval(env map[string]Value) (Value, error) {
	v, err := n.operand.Eval(env)
	if err != nil {
		return Value{}, err
	}
	return mapElementwise(v, func(x float64) float64 { return -x })
}

type binaryNode struct {
	op    string
	left  Node
	right Node
}

func (n *binaryNode) Eval(env map[string]Value) (Value, error) {
	l, err := n.left.Eval(env)
	if err != nil {
		return Value{}, err
	}
	r, err := n.right.Eval(env)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case "+":
		return combine(l, r, func(a, b float64) float64 { return a + b })
	case "-":
		return combine(l, r, func(a, b float64) float64 { return a - b })
	case "*":
		// Matrix-vector product is the one non-elementwise case.
		if l.Kind == KindMatrix && r.Kind == KindVector {
			return matVec(l.Matrix, r.Vector)
		}
		if l.Kind == KindVector && r.Kind == KindMatrix {
			return vecMat(l.Vector, r.Matrix)
		}
		return combine(l, r, func(a, b float64) float64 { return a * b })
	case "/":
		return combine(l, r, func(a, b float64) float64 {
			if b == 0 {
				return math.Inf(1)
			}
			return a / b
		})
	default:
		return Value{}, fmt.Errorf("unknown operator: %s", n.op)
	}
}

type callNode struct {
	name string
	args []Node
}

func (n *callNode) Eval(env map[string]Value) (Value, error) {
	args := make([]Value, len(n.args))
	for i, arg := range n.args {
		v, err := arg.Eval(env)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	return evalCall(n.name, args)
}

// Comparison is a parsed constraint: left op right with op one of <=, >=, ==.
type Comparison struct {
	Op    string
	Left  Node
	Right Node
}

// Violation measures how far the constraint is from holding; zero when
// satisfied. Vector comparisons aggregate elementwise violations.
func (c *Comparison) Violation(env map[string]Value) (float64, error) {
	l, err := c.Left.Eval(env)
	if err != nil {
		return 0, err
	}
	r, err := c.Right.Eval(env)
	if err != nil {
		return 0, err
	}

	diff, err := combine(l, r, func(a, b float64) float64 { return a - b })
	if err != nil {
		return 0, err
	}

	elems := diff.Vector
	if diff.Kind == KindScalar {
		elems = []float64{diff.Scalar}
	}

	total := 0.0
	for _, d := range elems {
		switch c.Op {
		case "==":
			total += d * d
		case "<=":
			if d > 0 {
				total += d * d
			}
		case ">=":
			if d < 0 {
				total += d * d
			}
		default:
			return 0, fmt.Errorf("unknown comparison operator: %s", c.Op)
		}
	}
	return total, nil
}

func mapElementwise(v Value, f func(float64) float64) (Value, error) {
	switch v.Kind {
	case KindScalar:
		return scalarValue(f(v.Scalar)), nil
	case KindVector:
		out := make([]float64, len(v.Vector))
		for i, x := range v.Vector {
			out[i] = f(x)
		}
		return vectorValue(out), nil
	default:
		return Value{}, fmt.Errorf("operation not supported on matrices")
	}
}

// combine applies f elementwise, broadcasting scalars over vectors.
func combine(l, r Value, f func(a, b float64) float64) (Value, error) {
	switch {
	case l.Kind == KindScalar && r.Kind == KindScalar:
		return scalarValue(f(l.Scalar, r.Scalar)), nil
	case l.Kind == KindScalar && r.Kind == KindVector:
		out := make([]float64, len(r.Vector))
		for i, x := range r.Vector {
			out[i] = f(l.Scalar, x)
		}
		return vectorValue(out), nil
	case l.Kind == KindVector && r.Kind == KindScalar:
		out := make([]float64, len(l.Vector))
		for i, x := range l.Vector {
			out[i] = f(x, r.Scalar)
		}
		return vectorValue(out), nil
	case l.Kind == KindVector && r.Kind == KindVector:
		if len(l.Vector) != len(r.Vector) {
			return Value{}, fmt.Errorf("vector length mismatch: %d vs %d", len(l.Vector), len(r.Vector))
		}
		out := make([]float64, len(l.Vector))
		for i := range l.Vector {
			out[i] = f(l.Vector[i], r.Vector[i])
		}
		return vectorValue(out), nil
	default:
		return Value{}, fmt.Errorf("operation not supported on matrices")
	}
}

func matVec(m [][]float64, v []float64) (Value, error) {
	out := make([]float64, len(m))
	for i, row := range m {
		if len(row) != len(v) {
			return Value{}, fmt.Errorf("matrix row length %d does not match vector length %d", len(row), len(v))
		}
		acc := 0.0
		for j, x := range row {
			acc += x * v[j]
		}
		out[i] = acc
	}
	return vectorValue(out), nil
}

func vecMat(v []float64, m [][]float64) (Value, error) {
	if len(m) != len(v) {
		return Value{}, fmt.Errorf("vector length %d does not match matrix rows %d", len(v), len(m))
	}
	if len(m) == 0 {
		return vectorValue(nil), nil
	}
	cols := len(m[0])
	out := make([]float64, cols)
	for j := 0; j < cols; j++ {
		acc := 0.0
		for i := range m {
			if len(m[i]) != cols {
				return Value{}, fmt.Errorf("ragged matrix")
			}
			acc += v[i] * m[i][j]
		}
		out[j] = acc
	}
	return vectorValue(out), nil
}

func evalCall(name string, args []Value) (Value, error) {
	switch name {
	case "sum":
		if err := wantArgs(name, args, 1); err != nil {
			return Value{}, err
		}
		if args[0].Kind == KindScalar {
			return args[0], nil
		}
		if args[0].Kind != KindVector {
			return Value{}, fmt.Errorf("sum expects a scalar or vector")
		}
		total := 0.0
		for _, x := range args[0].Vector {
			total += x
		}
		return scalarValue(total), nil

	case "abs":
		if err := wantArgs(name, args, 1); err != nil {
			return Value{}, err
		}
		return mapElementwise(args[0], math.Abs)

	case "sqrt":
		if err := wantArgs(name, args, 1); err != nil {
			return Value{}, err
		}
		return mapElementwise(args[0], func(x float64) float64 {
			if x < 0 {
				return math.NaN()
			}
			return math.Sqrt(x)
		})

	case "square":
		if err := wantArgs(name, args, 1); err != nil {
			return Value{}, err
		}
		return mapElementwise(args[0], func(x float64) float64 { return x * x })

	case "norm1":
		if err := wantArgs(name, args, 1); err != nil {
			return Value{}, err
		}
		elems, err := asElems(args[0])
		if err != nil {
			return Value{}, err
		}
		total := 0.0
		for _, x := range elems {
			total += math.Abs(x)
		}
		return scalarValue(total), nil

	case "norm2":
		if err := wantArgs(name, args, 1); err != nil {
			return Value{}, err
		}
		elems, err := asElems(args[0])
		if err != nil {
			return Value{}, err
		}
		total := 0.0
		for _, x := range elems {
			total += x * x
		}
		return scalarValue(math.Sqrt(total)), nil

	case "min", "max":
		return evalMinMax(name, args)

	case "dot":
		if err := wantArgs(name, args, 2); err != nil {
			return Value{}, err
		}
		if args[0].Kind != KindVector || args[1].Kind != KindVector {
			return Value{}, fmt.Errorf("dot expects two vectors")
		}
		if len(args[0].Vector) != len(args[1].Vector) {
			return Value{}, fmt.Errorf("dot length mismatch: %d vs %d", len(args[0].Vector), len(args[1].Vector))
		}
		total := 0.0
		for i := range args[0].Vector {
			total += args[0].Vector[i] * args[1].Vector[i]
		}
		return scalarValue(total), nil

	case "quad_form":
		if err := wantArgs(name, args, 2); err != nil {
			return Value{}, err
		}
		if args[0].Kind != KindVector || args[1].Kind != KindMatrix {
			return Value{}, fmt.Errorf("quad_form expects a vector and a matrix")
		}
		px, err := matVec(args[1].Matrix, args[0].Vector)
		if err != nil {
			return Value{}, err
		}
		total := 0.0
		for i, x := range args[0].Vector {
			total += x * px.Vector[i]
		}
		return scalarValue(total), nil

	default:
		return Value{}, fmt.Errorf("unknown function: %s", name)
	}
}

func evalMinMax(name string, args []Value) (Value, error) {
	pick := math.Min
	if name == "max" {
		pick = math.Max
	}

	switch len(args) {
	case 1:
		elems, err := asElems(args[0])
		if err != nil {
			return Value{}, err
		}
		if len(elems) == 0 {
			return Value{}, fmt.Errorf("%s of empty vector", name)
		}
		best := elems[0]
		for _, x := range elems[1:] {
			best = pick(best, x)
		}
		return scalarValue(best), nil
	case 2:
		return combine(args[0], args[1], pick)
	default:
		return Value{}, fmt.Errorf("%s expects 1 or 2 arguments, got %d", name, len(args))
	}
}

func asElems(v Value) ([]float64, error) {
	switch v.Kind {
	case KindScalar:
		return []float64{v.Scalar}, nil
	case KindVector:
		return v.Vector, nil
	default:
		return nil, fmt.Errorf("expected scalar or vector")
	}
}

func wantArgs(name string, args []Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}
