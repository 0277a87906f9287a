package optimization

import (
	"fmt"
)

// frontierPoints is the number of target returns swept when tracing the
// frontier for solve_cla.
const frontierPoints = 20

// PortfolioResult pairs weights with their performance summary.
type PortfolioResult struct {
	Weights     map[string]float64 `json:"weights"`
	Performance Performance        `json:"-"`
}

// MinVariancePortfolio solves for the global minimum-variance portfolio
// under the given constraints.
func (o *Optimizer) MinVariancePortfolio(tickers []string, mu []float64, sigma [][]float64, constraints Constraints, riskFreeRate float64) (*PortfolioResult, error) {
	weights, err := o.Optimize(Request{
		Tickers:      tickers,
		Mu:           mu,
		Sigma:        sigma,
		Constraints:  constraints,
		Objective:    ObjectiveMinVolatility,
		RiskFreeRate: riskFreeRate,
	})
	if err != nil {
		return nil, fmt.Errorf("min variance portfolio failed: %w", err)
	}

	return &PortfolioResult{
		Weights:     weights,
		Performance: Evaluate(weights, tickers, mu, sigma, riskFreeRate),
	}, nil
}

// MaxReturnPortfolio concentrates all weight in the asset with the highest
// expected return.
func MaxReturnPortfolio(tickers []string, mu []float64, sigma [][]float64, riskFreeRate float64) *PortfolioResult {
	best := 0
	for i := range mu {
		if mu[i] > mu[best] {
			best = i
		}
	}

	weights := make(map[string]float64, len(tickers))
	for i, ticker := range tickers {
		if i == best {
			weights[ticker] = 1.0
		} else {
			weights[ticker] = 0.0
		}
	}

	return &PortfolioResult{
		Weights:     weights,
		Performance: Evaluate(weights, tickers, mu, sigma, riskFreeRate),
	}
}

// TraceFrontier sweeps target returns between the minimum-variance return
// and the best single-asset return, solving an efficient-return problem at
// each step, and returns the point with the highest Sharpe ratio.
//
// This is the critical-line-style tracing behind solve_cla: rather than
// walking corner portfolios analytically, the frontier is sampled on a
// grid, which is robust under the penalty formulation.
func (o *Optimizer) TraceFrontier(tickers []string, mu []float64, sigma [][]float64, constraints Constraints, riskFreeRate float64) (*PortfolioResult, []Performance, error) {
	minVar, err := o.MinVariancePortfolio(tickers, mu, sigma, constraints, riskFreeRate)
	if err != nil {
		return nil, nil, err
	}

	maxRet := mu[0]
	for _, m := range mu {
		if m > maxRet {
			maxRet = m
		}
	}

	low := minVar.Performance.ExpectedReturn
	if maxRet <= low {
		// Degenerate frontier: every portfolio returns the same, the
		// minimum-variance point is the whole story.
		return minVar, []Performance{minVar.Performance}, nil
	}

	best := minVar
	frontier := make([]Performance, 0, frontierPoints+1)
	frontier = append(frontier, minVar.Performance)

	step := (maxRet - low) / float64(frontierPoints)
	for i := 1; i <= frontierPoints; i++ {
		target := low + step*float64(i)

		weights, err := o.Optimize(Request{
			Tickers:      tickers,
			Mu:           mu,
			Sigma:        sigma,
			Constraints:  constraints,
			Objective:    ObjectiveEfficientReturn,
			RiskFreeRate: riskFreeRate,
			TargetReturn: &target,
		})
		if err != nil {
			// Infeasible targets near the top of the sweep are expected
			// when bounds cap concentration.
			continue
		}

		perf := Evaluate(weights, tickers, mu, sigma, riskFreeRate)
		frontier = append(frontier, perf)

		if perf.SharpeRatio > best.Performance.SharpeRatio {
			best = &PortfolioResult{Weights: weights, Performance: perf}
		}
	}

	return best, frontier, nil
}
