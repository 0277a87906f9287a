package convex

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ConstraintSpec is one constraint expression with an optional description.
type ConstraintSpec struct {
	Expression  string `json:"expression"`
	Description string `json:"description,omitempty"`
}

// ObjectiveSpec names the sense and the objective expression.
type ObjectiveSpec struct {
	Type       string `json:"type"`
	Expression string `json:"expression"`
}

// ProblemSpec is the wire form of a full optimization problem.
type ProblemSpec struct {
	Variables   []Variable             `json:"variables"`
	Objective   ObjectiveSpec          `json:"objective"`
	Constraints []ConstraintSpec       `json:"constraints"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Description string                 `json:"description,omitempty"`
}

// SimpleSpec is the flattened form accepted by the simple solver tool.
type SimpleSpec struct {
	Variables     []Variable             `json:"variables"`
	ObjectiveType string                 `json:"objective_type"`
	ObjectiveExpr string                 `json:"objective_expr"`
	Constraints   []string               `json:"constraints"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Description   string                 `json:"description,omitempty"`
}

// Service parses and solves expression-based optimization problems.
type Service struct {
	log zerolog.Logger
}

// NewService creates the convex solver service.
func NewService(log zerolog.Logger) *Service {
	return &Service{log: log.With().Str("module", "convex").Logger()}
}

// SolveProblem parses the full problem spec and solves it.
func (s *Service) SolveProblem(spec ProblemSpec) (*Solution, error) {
	constraints := make([]string, len(spec.Constraints))
	for i, c := range spec.Constraints {
		constraints[i] = c.Expression
	}
	return s.solve(spec.Variables, spec.Objective.Type, spec.Objective.Expression, constraints, spec.Parameters)
}

// SolveSimple parses the flattened spec and solves it.
func (s *Service) SolveSimple(spec SimpleSpec) (*Solution, error) {
	return s.solve(spec.Variables, spec.ObjectiveType, spec.ObjectiveExpr, spec.Constraints, spec.Parameters)
}

func (s *Service) solve(variables []Variable, sense, objectiveExpr string, constraints []string, parameters map[string]interface{}) (*Solution, error) {
	sense = strings.ToLower(strings.TrimSpace(sense))

	objective, err := ParseExpression(objectiveExpr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse objective: %w", err)
	}

	parsed := make([]*Comparison, 0, len(constraints))
	for i, expr := range constraints {
		c, err := ParseConstraint(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse constraint %d: %w", i, err)
		}
		parsed = append(parsed, c)
	}

	params := make(map[string]Value, len(parameters))
	for name, raw := range parameters {
		v, err := ParameterValue(name, raw)
		if err != nil {
			return nil, err
		}
		params[name] = v
	}

	sol, err := Solve(&Problem{
		Variables:   variables,
		Sense:       sense,
		Objective:   objective,
		Constraints: parsed,
		Parameters:  params,
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("status", sol.Status).
		Float64("objective", sol.ObjectiveValue).
		Msg("Solved optimization problem")
	return sol, nil
}
