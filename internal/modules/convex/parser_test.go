package convex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalString(t *testing.T, expr string, env map[string]Value) Value {
	t.Helper()
	node, err := ParseExpression(expr)
	require.NoError(t, err)
	v, err := node.Eval(env)
	require.NoError(t, err)
	return v
}

func TestParseArithmetic(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1 + 2", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-5 + 3", -2},
		{"--4", 4},
		{"2 * -3", -6},
		{"1.5e2 + 0.5", 150.5},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v := evalString(t, tt.expr, nil)
			require.Equal(t, KindScalar, v.Kind)
			assert.InDelta(t, tt.want, v.Scalar, 1e-12)
		})
	}
}

func TestParseIdentifiers(t *testing.T) {
	env := map[string]Value{
		"x": scalarValue(3.0),
		"b": vectorValue([]float64{1.0, 2.0, 3.0}),
	}

	v := evalString(t, "2 * x + 1", env)
	assert.InDelta(t, 7.0, v.Scalar, 1e-12)

	v = evalString(t, "x * b", env)
	require.Equal(t, KindVector, v.Kind)
	assert.Equal(t, []float64{3.0, 6.0, 9.0}, v.Vector)
}

func TestParseCalls(t *testing.T) {
	env := map[string]Value{
		"x": vectorValue([]float64{3.0, -4.0}),
		"y": vectorValue([]float64{1.0, 2.0}),
		"P": {Kind: KindMatrix, Matrix: [][]float64{{2.0, 0.0}, {0.0, 2.0}}},
	}

	tests := []struct {
		expr string
		want float64
	}{
		{"sum(x)", -1.0},
		{"norm1(x)", 7.0},
		{"norm2(x)", 5.0},
		{"sum(abs(x))", 7.0},
		{"sum(square(x))", 25.0},
		{"sqrt(16)", 4.0},
		{"min(x)", -4.0},
		{"max(x)", 3.0},
		{"min(2, 5)", 2.0},
		{"max(2, 5)", 5.0},
		{"dot(x, y)", -5.0},
		{"quad_form(y, P)", 10.0},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v := evalString(t, tt.expr, env)
			require.Equal(t, KindScalar, v.Kind)
			assert.InDelta(t, tt.want, v.Scalar, 1e-12)
		})
	}
}

func TestParseMatrixVector(t *testing.T) {
	env := map[string]Value{
		"A": {Kind: KindMatrix, Matrix: [][]float64{{1.0, 2.0}, {3.0, 4.0}}},
		"x": vectorValue([]float64{1.0, 1.0}),
	}

	v := evalString(t, "A * x", env)
	require.Equal(t, KindVector, v.Kind)
	assert.Equal(t, []float64{3.0, 7.0}, v.Vector)
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"1 +",
		"(1 + 2",
		"1 ? 2",
		"foo(1,",
		"1 2",
		"x <",
	}

	for _, expr := range bad {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseExpression(expr)
			require.Error(t, err)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	env := map[string]Value{
		"x": vectorValue([]float64{1.0, 2.0}),
		"y": vectorValue([]float64{1.0, 2.0, 3.0}),
	}

	tests := []string{
		"unknown_var + 1",
		"x + y",
		"dot(x, y)",
		"nosuchfunc(x)",
		"sum(x, y)",
	}

	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			node, err := ParseExpression(expr)
			require.NoError(t, err)
			_, err = node.Eval(env)
			require.Error(t, err)
		})
	}
}

func TestParseConstraint(t *testing.T) {
	env := map[string]Value{"x": scalarValue(2.0)}

	c, err := ParseConstraint("x <= 5")
	require.NoError(t, err)
	assert.Equal(t, "<=", c.Op)
	v, err := c.Violation(env)
	require.NoError(t, err)
	assert.Zero(t, v)

	c, err = ParseConstraint("x >= 5")
	require.NoError(t, err)
	v, err = c.Violation(env)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, v, 1e-12)

	c, err = ParseConstraint("x == 3")
	require.NoError(t, err)
	v, err = c.Violation(env)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-12)

	_, err = ParseConstraint("x + 1")
	require.Error(t, err)
}

func TestParseConstraintVector(t *testing.T) {
	env := map[string]Value{"x": vectorValue([]float64{0.5, -0.5})}

	c, err := ParseConstraint("x >= 0")
	require.NoError(t, err)
	v, err := c.Violation(env)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v, 1e-12)
}
