package convex

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Objective senses.
const (
	SenseMinimize = "minimize"
	SenseMaximize = "maximize"
)

// Solution statuses.
const (
	StatusOptimal            = "optimal"
	StatusOptimalInaccurate  = "optimal_inaccurate"
	StatusInfeasibleEstimate = "infeasible_inaccurate"
)

const constraintPenalty = 1000.0

// constraintTolerance bounds the accepted total violation at the solution.
const constraintTolerance = 1e-4

// Variable declares an optimization variable. Shape 0 or 1 is a scalar,
// larger shapes are vectors.
type Variable struct {
	Name  string `json:"name"`
	Shape int    `json:"shape"`
}

// Problem is a parsed optimization problem ready to solve.
type Problem struct {
	Variables   []Variable
	Sense       string
	Objective   Node
	Constraints []*Comparison
	Parameters  map[string]Value
}

// Solution holds variable values at the solver's final iterate.
type Solution struct {
	Values         map[string]interface{} `json:"values" msgpack:"values"`
	ObjectiveValue float64                `json:"objective_value" msgpack:"objective_value"`
	Status         string                 `json:"status" msgpack:"status"`
}

// Solve minimizes the objective (negated for maximize) with quadratic
// penalties on constraint violations.
func Solve(p *Problem) (*Solution, error) {
	if len(p.Variables) == 0 {
		return nil, fmt.Errorf("no variables declared")
	}
	if p.Objective == nil {
		return nil, fmt.Errorf("no objective expression")
	}
	if p.Sense != SenseMinimize && p.Sense != SenseMaximize {
		return nil, fmt.Errorf("invalid objective type: %s. Must be 'minimize' or 'maximize'", p.Sense)
	}

	// Flatten all variables into one solver vector.
	type slot struct {
		name   string
		offset int
		size   int
	}
	slots := make([]slot, 0, len(p.Variables))
	dim := 0
	seen := make(map[string]bool, len(p.Variables))
	for _, v := range p.Variables {
		if v.Name == "" {
			return nil, fmt.Errorf("variable with empty name")
		}
		if seen[v.Name] {
			return nil, fmt.Errorf("duplicate variable: %s", v.Name)
		}
		if _, clash := p.Parameters[v.Name]; clash {
			return nil, fmt.Errorf("name used by both a variable and a parameter: %s", v.Name)
		}
		seen[v.Name] = true

		size := v.Shape
		if size <= 1 {
			size = 1
		}
		slots = append(slots, slot{name: v.Name, offset: dim, size: size})
		dim += size
	}

	buildEnv := func(x []float64) map[string]Value {
		env := make(map[string]Value, len(slots)+len(p.Parameters))
		for name, val := range p.Parameters {
			env[name] = val
		}
		for _, s := range slots {
			if s.size == 1 && p.variableShape(s.name) <= 1 {
				env[s.name] = scalarValue(x[s.offset])
			} else {
				env[s.name] = vectorValue(x[s.offset : s.offset+s.size])
			}
		}
		return env
	}

	sign := 1.0
	if p.Sense == SenseMaximize {
		sign = -1.0
	}

	var evalErr error
	objFunc := func(x []float64) float64 {
		env := buildEnv(x)

		objVal, err := p.Objective.Eval(env)
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		if objVal.Kind != KindScalar {
			evalErr = fmt.Errorf("objective must evaluate to a scalar")
			return math.Inf(1)
		}

		total := sign * objVal.Scalar
		for _, c := range p.Constraints {
			violation, err := c.Violation(env)
			if err != nil {
				evalErr = err
				return math.Inf(1)
			}
			total += constraintPenalty * violation
		}
		return total
	}

	problem := optimize.Problem{
		Func: objFunc,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, objFunc, x, nil)
		},
	}

	initial := make([]float64, dim)

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if evalErr != nil {
		return nil, evalErr
	}
	if err != nil || !converged(result) {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
		if evalErr != nil {
			return nil, evalErr
		}
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
	}

	env := buildEnv(result.X)
	objVal, err := p.Objective.Eval(env)
	if err != nil {
		return nil, err
	}

	totalViolation := 0.0
	for _, c := range p.Constraints {
		violation, err := c.Violation(env)
		if err != nil {
			return nil, err
		}
		totalViolation += violation
	}

	status := StatusOptimal
	switch {
	case totalViolation > constraintTolerance*100:
		status = StatusInfeasibleEstimate
	case totalViolation > constraintTolerance || !converged(result):
		status = StatusOptimalInaccurate
	}

	values := make(map[string]interface{}, len(slots))
	for _, s := range slots {
		if s.size == 1 && p.variableShape(s.name) <= 1 {
			values[s.name] = result.X[s.offset]
		} else {
			vec := make([]float64, s.size)
			copy(vec, result.X[s.offset:s.offset+s.size])
			values[s.name] = vec
		}
	}

	return &Solution{
		Values:         values,
		ObjectiveValue: objVal.Scalar,
		Status:         status,
	}, nil
}

func (p *Problem) variableShape(name string) int {
	for _, v := range p.Variables {
		if v.Name == name {
			return v.Shape
		}
	}
	return 0
}

func converged(result *optimize.Result) bool {
	if result == nil {
		return false
	}
	switch result.Status {
	case optimize.Success, optimize.GradientThreshold,
		optimize.FunctionConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}

// ParameterValue converts a raw JSON parameter (number, []number, [][]number)
// into an evaluator Value.
func ParameterValue(name string, raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case float64:
		return scalarValue(v), nil
	case int:
		return scalarValue(float64(v)), nil
	case []interface{}:
		if len(v) == 0 {
			return vectorValue(nil), nil
		}
		if _, isNested := v[0].([]interface{}); isNested {
			matrix := make([][]float64, len(v))
			for i, rowRaw := range v {
				row, ok := rowRaw.([]interface{})
				if !ok {
					return Value{}, fmt.Errorf("parameter %s: ragged matrix", name)
				}
				matrix[i] = make([]float64, len(row))
				for j, cell := range row {
					f, ok := toFloat(cell)
					if !ok {
						return Value{}, fmt.Errorf("parameter %s: non-numeric matrix entry", name)
					}
					matrix[i][j] = f
				}
			}
			return Value{Kind: KindMatrix, Matrix: matrix}, nil
		}
		vec := make([]float64, len(v))
		for i, cell := range v {
			f, ok := toFloat(cell)
			if !ok {
				return Value{}, fmt.Errorf("parameter %s: non-numeric vector entry", name)
			}
			vec[i] = f
		}
		return vectorValue(vec), nil
	case []float64:
		return vectorValue(v), nil
	case [][]float64:
		return Value{Kind: KindMatrix, Matrix: v}, nil
	default:
		return Value{}, fmt.Errorf("parameter %s: unsupported type %T", name, raw)
	}
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
