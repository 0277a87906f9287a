package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Supported objectives.
const (
	ObjectiveMinVolatility    = "minimize_volatility"
	ObjectiveMaxSharpe        = "maximize_sharpe_ratio"
	ObjectiveQuadraticUtility = "maximize_quadratic_utility"
	ObjectiveEfficientRisk    = "efficient_risk"
	ObjectiveEfficientReturn  = "efficient_return"
)

// penaltyWeight scales the quadratic penalties that enforce the budget,
// target and sector constraints.
const penaltyWeight = 1000.0

// Request describes a single mean-variance optimization.
// Mu and Sigma are annualized and ordered like Tickers.
type Request struct {
	Tickers          []string
	Mu               []float64
	Sigma            [][]float64
	Constraints      Constraints
	Objective        string
	RiskFreeRate     float64
	RiskAversion     float64 // quadratic utility only, defaults to 1
	TargetReturn     *float64
	TargetVolatility *float64
}

// Optimizer solves mean-variance problems with a penalty-method
// formulation over gonum/optimize.
type Optimizer struct{}

// NewOptimizer creates a mean-variance optimizer.
func NewOptimizer() *Optimizer {
	return &Optimizer{}
}

// Optimize solves the requested problem and returns ticker-keyed weights.
//
// The budget constraint Σw = 1, per-asset bounds, sector caps and the
// optional volatility cap are enforced through projection and quadratic
// penalties; gradients are finite-differenced.
func (o *Optimizer) Optimize(req Request) (map[string]float64, error) {
	n := len(req.Tickers)
	if n == 0 {
		return nil, fmt.Errorf("no tickers provided")
	}
	if len(req.Mu) != n {
		return nil, fmt.Errorf("expected returns size %d doesn't match ticker count %d", len(req.Mu), n)
	}
	if len(req.Sigma) != n {
		return nil, fmt.Errorf("covariance matrix size %d doesn't match ticker count %d", len(req.Sigma), n)
	}
	for i := range req.Sigma {
		if len(req.Sigma[i]) != n {
			return nil, fmt.Errorf("covariance matrix row %d has size %d, expected %d", i, len(req.Sigma[i]), n)
		}
	}

	objective, err := o.buildObjective(req)
	if err != nil {
		return nil, err
	}

	sigma := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigma.Set(i, j, req.Sigma[i][j])
		}
	}

	minWeights, maxWeights := req.Constraints.Bounds(req.Tickers)

	objFunc := func(x []float64) float64 {
		xProj := projectToBounds(x, req.Tickers, minWeights, maxWeights)

		var ret, variance, sum float64
		for i := 0; i < n; i++ {
			ret += req.Mu[i] * xProj[i]
			sum += xProj[i]
			for j := 0; j < n; j++ {
				variance += xProj[i] * xProj[j] * sigma.At(i, j)
			}
		}

		obj := objective(ret, variance)

		// Budget constraint: Σw = 1.
		obj += penaltyWeight * (sum - 1.0) * (sum - 1.0)

		// Optional volatility cap.
		if req.Constraints.MaxVolatility != nil {
			maxVar := *req.Constraints.MaxVolatility * *req.Constraints.MaxVolatility
			if variance > maxVar {
				obj += penaltyWeight * (variance - maxVar) * (variance - maxVar)
			}
		}

		obj += sectorPenalty(xProj, req.Tickers, req.Constraints.Sectors, penaltyWeight)

		return obj
	}

	problem := optimize.Problem{
		Func: objFunc,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, objFunc, x, nil)
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil || !converged(result) {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
		if !converged(result) {
			return nil, fmt.Errorf("optimization did not converge: status=%v", result.Status)
		}
	}

	return normalizeWeights(result.X, req.Tickers, minWeights, maxWeights), nil
}

// buildObjective maps an objective name to its term in the penalty function.
// Inputs are annualized portfolio return and variance.
func (o *Optimizer) buildObjective(req Request) (func(ret, variance float64) float64, error) {
	switch req.Objective {
	case ObjectiveMinVolatility:
		return func(ret, variance float64) float64 {
			return variance
		}, nil

	case ObjectiveMaxSharpe, "":
		rf := req.RiskFreeRate
		return func(ret, variance float64) float64 {
			stdDev := math.Sqrt(math.Max(variance, 1e-10))
			return -(ret - rf) / stdDev
		}, nil

	case ObjectiveQuadraticUtility:
		delta := req.RiskAversion
		if delta <= 0 {
			delta = 1.0
		}
		return func(ret, variance float64) float64 {
			return -(ret - 0.5*delta*variance)
		}, nil

	case ObjectiveEfficientReturn:
		if req.TargetReturn == nil {
			return nil, fmt.Errorf("target_return required for %s objective", ObjectiveEfficientReturn)
		}
		target := *req.TargetReturn
		// Minimize variance subject to reaching the target return.
		return func(ret, variance float64) float64 {
			obj := variance
			if ret < target {
				obj += penaltyWeight * (target - ret) * (target - ret)
			}
			return obj
		}, nil

	case ObjectiveEfficientRisk:
		if req.TargetVolatility == nil {
			return nil, fmt.Errorf("target_volatility required for %s objective", ObjectiveEfficientRisk)
		}
		maxVar := *req.TargetVolatility * *req.TargetVolatility
		// Maximize return subject to the volatility budget.
		return func(ret, variance float64) float64 {
			obj := -ret
			if variance > maxVar {
				obj += penaltyWeight * (variance - maxVar) * (variance - maxVar)
			}
			return obj
		}, nil

	default:
		return nil, fmt.Errorf("unknown objective: %s", req.Objective)
	}
}

// converged accepts the statuses gonum reports for a usable minimum.
func converged(result *optimize.Result) bool {
	switch result.Status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}

// projectToBounds clamps each weight into its per-ticker bounds.
func projectToBounds(x []float64, tickers []string, minWeights, maxWeights map[string]float64) []float64 {
	proj := make([]float64, len(x))
	for i, ticker := range tickers {
		proj[i] = math.Max(minWeights[ticker], math.Min(maxWeights[ticker], x[i]))
	}
	return proj
}

// normalizeWeights projects the solution to bounds, clamps negatives and
// rescales to sum to 1.
func normalizeWeights(x []float64, tickers []string, minWeights, maxWeights map[string]float64) map[string]float64 {
	xProj := projectToBounds(x, tickers, minWeights, maxWeights)

	sum := 0.0
	for _, w := range xProj {
		sum += w
	}

	weights := make(map[string]float64, len(tickers))
	for i, ticker := range tickers {
		weights[ticker] = math.Max(0.0, xProj[i]/math.Max(sum, 1e-10))
	}

	sum = 0.0
	for _, w := range weights {
		sum += w
	}
	if sum > 0 {
		for ticker := range weights {
			weights[ticker] /= sum
		}
	}

	return weights
}

// sectorPenalty accumulates quadratic penalties for sector bound violations.
func sectorPenalty(x []float64, tickers []string, constraints []SectorConstraint, penalty float64) float64 {
	if len(constraints) == 0 {
		return 0
	}

	var total float64
	for _, constraint := range constraints {
		sectorWeights := make(map[string]float64)
		for i, ticker := range tickers {
			if sector := constraint.SectorMapper[ticker]; sector != "" {
				sectorWeights[sector] += x[i]
			}
		}

		for sector, lower := range constraint.SectorLower {
			if w := sectorWeights[sector]; w < lower {
				total += penalty * (lower - w) * (lower - w)
			}
		}

		for sector, upper := range constraint.SectorUpper {
			if w := sectorWeights[sector]; w > upper {
				total += penalty * (w - upper) * (w - upper)
			}
		}
	}

	return total
}
