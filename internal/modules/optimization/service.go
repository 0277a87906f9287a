package optimization

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/modules/calculations"
	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
	"github.com/mcportfolio/mcportfolio/pkg/formulas"
)

// dataPeriod is the retrieval window used for solver inputs.
const dataPeriod = "2y"

// defaultRiskFreeRate matches the 4% annual rate solve_portfolio assumes
// when neither the request nor the configuration supplies one.
const defaultRiskFreeRate = 0.04

// weightCutoff below which cleaned weights are reported as zero.
const weightCutoff = 1e-4

// ComparisonPortfolio is a reference portfolio included in solutions.
type ComparisonPortfolio struct {
	Weights        map[string]float64 `json:"weights" msgpack:"weights"`
	ExpectedReturn float64            `json:"expected_return" msgpack:"expected_return"`
	Risk           float64            `json:"risk" msgpack:"risk"`
}

// Solution is the payload returned by the portfolio solver tools.
type Solution struct {
	Weights              map[string]float64  `json:"weights" msgpack:"weights"`
	ExpectedReturn       float64             `json:"expected_return" msgpack:"expected_return"`
	Risk                 float64             `json:"risk" msgpack:"risk"`
	SharpeRatio          float64             `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
	MinVariancePortfolio ComparisonPortfolio `json:"min_variance_portfolio" msgpack:"min_variance_portfolio"`
	MaxReturnPortfolio   ComparisonPortfolio `json:"max_return_portfolio" msgpack:"max_return_portfolio"`
	Objective            string              `json:"objective" msgpack:"objective"`
	IgnoredConstraints   []string            `json:"ignored_constraints,omitempty" msgpack:"ignored_constraints,omitempty"`
	StartDate            string              `json:"start_date" msgpack:"start_date"`
	EndDate              string              `json:"end_date" msgpack:"end_date"`
	Note                 string              `json:"note,omitempty" msgpack:"note,omitempty"`
}

// PortfolioRequest is the input to SolvePortfolio.
type PortfolioRequest struct {
	Tickers          []string
	Objective        string
	Constraints      []string
	RiskFreeRate     *float64
	RiskAversion     float64
	TargetReturn     *float64
	TargetVolatility *float64
}

// FrontierRequest is the input to SolveEfficientFrontier and SolveCLA.
type FrontierRequest struct {
	Tickers      []string
	MinWeight    float64
	MaxWeight    float64
	RiskFreeRate float64
}

// Service wires market data into the mean-variance optimizer and shapes
// tool responses.
type Service struct {
	data     *marketdata.Service
	cache    *calculations.Cache
	opt      *Optimizer
	riskFree float64
	log      zerolog.Logger
}

// NewService creates the optimization service. cache may be nil. riskFree
// is the configured annual rate assumed when a request does not carry one;
// zero falls back to defaultRiskFreeRate.
func NewService(data *marketdata.Service, cache *calculations.Cache, riskFree float64, log zerolog.Logger) *Service {
	if riskFree == 0 {
		riskFree = defaultRiskFreeRate
	}
	return &Service{
		data:     data,
		cache:    cache,
		opt:      NewOptimizer(),
		riskFree: riskFree,
		log:      log.With().Str("module", "optimization").Logger(),
	}
}

// SolvePortfolio optimizes for the requested objective under the parsed
// constraint strings and reports the solution next to the minimum-variance
// and maximum-return reference portfolios.
func (s *Service) SolvePortfolio(ctx context.Context, req PortfolioRequest) (*Solution, error) {
	if len(req.Tickers) == 0 {
		return nil, fmt.Errorf("no tickers provided in problem description")
	}

	objective := req.Objective
	if objective == "" {
		objective = ObjectiveMaxSharpe
	}

	rf := s.riskFree
	if req.RiskFreeRate != nil {
		rf = *req.RiskFreeRate
	}

	constraints := ParseConstraints(req.Constraints)

	cacheKey := s.solutionKey("portfolio", req, objective, rf, constraints.MinWeight, constraints.MaxWeight)
	if cached := s.cachedSolution(cacheKey); cached != nil {
		return cached, nil
	}

	ds, err := s.data.Dataset(ctx, req.Tickers, dataPeriod)
	if err != nil {
		return nil, err
	}

	sigma, err := formulas.LedoitWolfShrinkage(ds.CovMatrix)
	if err != nil {
		return nil, fmt.Errorf("failed to condition covariance matrix: %w", err)
	}
	mu := ds.MeanVector()

	weights, err := s.opt.Optimize(Request{
		Tickers:          ds.Tickers,
		Mu:               mu,
		Sigma:            sigma,
		Constraints:      constraints,
		Objective:        objective,
		RiskFreeRate:     rf,
		RiskAversion:     req.RiskAversion,
		TargetReturn:     req.TargetReturn,
		TargetVolatility: req.TargetVolatility,
	})
	if err != nil {
		return nil, err
	}

	solution, err := s.buildSolution(ds, mu, sigma, weights, constraints, objective, rf)
	if err != nil {
		return nil, err
	}

	s.storeSolution(cacheKey, solution)
	return solution, nil
}

// SolveEfficientFrontier maximizes the Sharpe ratio under scalar weight
// bounds.
func (s *Service) SolveEfficientFrontier(ctx context.Context, req FrontierRequest) (*Solution, error) {
	ds, sigma, mu, constraints, err := s.prepareFrontier(ctx, req)
	if err != nil {
		return nil, err
	}

	weights, err := s.opt.Optimize(Request{
		Tickers:      ds.Tickers,
		Mu:           mu,
		Sigma:        sigma,
		Constraints:  constraints,
		Objective:    ObjectiveMaxSharpe,
		RiskFreeRate: req.RiskFreeRate,
	})
	if err != nil {
		return nil, err
	}

	return s.buildSolution(ds, mu, sigma, weights, constraints, ObjectiveMaxSharpe, req.RiskFreeRate)
}

// SolveCLA traces the efficient frontier over a grid of target returns and
// reports the max-Sharpe point.
func (s *Service) SolveCLA(ctx context.Context, req FrontierRequest) (*Solution, error) {
	ds, sigma, mu, constraints, err := s.prepareFrontier(ctx, req)
	if err != nil {
		return nil, err
	}

	best, frontier, err := s.opt.TraceFrontier(ds.Tickers, mu, sigma, constraints, req.RiskFreeRate)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Int("frontier_points", len(frontier)).Msg("Traced frontier")

	return s.buildSolution(ds, mu, sigma, best.Weights, constraints, ObjectiveMaxSharpe, req.RiskFreeRate)
}

// prepareFrontier loads the dataset and constraint set shared by the
// frontier-style tools.
func (s *Service) prepareFrontier(ctx context.Context, req FrontierRequest) (*marketdata.Dataset, [][]float64, []float64, Constraints, error) {
	if len(req.Tickers) == 0 {
		return nil, nil, nil, Constraints{}, fmt.Errorf("no tickers provided in problem description")
	}

	maxWeight := req.MaxWeight
	if maxWeight <= 0 {
		maxWeight = 1.0
	}
	constraints := Constraints{
		MinWeight: req.MinWeight,
		MaxWeight: maxWeight,
	}

	ds, err := s.data.Dataset(ctx, req.Tickers, dataPeriod)
	if err != nil {
		return nil, nil, nil, Constraints{}, err
	}

	sigma, err := formulas.LedoitWolfShrinkage(ds.CovMatrix)
	if err != nil {
		return nil, nil, nil, Constraints{}, fmt.Errorf("failed to condition covariance matrix: %w", err)
	}

	return ds, sigma, ds.MeanVector(), constraints, nil
}

// buildSolution assembles the response payload around solved weights.
func (s *Service) buildSolution(ds *marketdata.Dataset, mu []float64, sigma [][]float64, weights map[string]float64, constraints Constraints, objective string, rf float64) (*Solution, error) {
	perf := Evaluate(weights, ds.Tickers, mu, sigma, rf)

	minVar, err := s.opt.MinVariancePortfolio(ds.Tickers, mu, sigma, constraints, rf)
	if err != nil {
		return nil, err
	}

	maxRet := MaxReturnPortfolio(ds.Tickers, mu, sigma, rf)

	return &Solution{
		Weights:        RoundWeights(weights, weightCutoff),
		ExpectedReturn: perf.ExpectedReturn,
		Risk:           perf.Risk,
		SharpeRatio:    perf.SharpeRatio,
		MinVariancePortfolio: ComparisonPortfolio{
			Weights:        RoundWeights(minVar.Weights, weightCutoff),
			ExpectedReturn: minVar.Performance.ExpectedReturn,
			Risk:           minVar.Performance.Risk,
		},
		MaxReturnPortfolio: ComparisonPortfolio{
			Weights:        maxRet.Weights,
			ExpectedReturn: maxRet.Performance.ExpectedReturn,
			Risk:           maxRet.Performance.Risk,
		},
		Objective:          objective,
		IgnoredConstraints: constraints.Ignored,
		StartDate:          ds.StartDate,
		EndDate:            ds.EndDate,
		Note:               ds.Note,
	}, nil
}

// solutionKey covers every request field that changes the solution, so a
// cached efficient_return solve for one target never answers another.
func (s *Service) solutionKey(kind string, req PortfolioRequest, objective string, rf, minW, maxW float64) string {
	return fmt.Sprintf("%s:%s:%s:%s:%.6f:%.4f:%.4f:%.4f:%s:%s",
		kind,
		calculations.HashTickers(req.Tickers),
		objective,
		strings.Join(req.Constraints, "|"),
		rf, minW, maxW,
		req.RiskAversion,
		fmtTarget(req.TargetReturn),
		fmtTarget(req.TargetVolatility),
	)
}

func fmtTarget(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

func (s *Service) cachedSolution(key string) *Solution {
	if s.cache == nil {
		return nil
	}
	var sol Solution
	if s.cache.GetInto("solution", key, &sol) {
		s.log.Debug().Msg("Using cached solution")
		return &sol
	}
	return nil
}

func (s *Service) storeSolution(key string, sol *Solution) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetFrom("solution", key, sol, calculations.TTLOptimizer); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache solution")
	}
}
