package hierarchical

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/modules/calculations"
	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
	"github.com/mcportfolio/mcportfolio/internal/modules/optimization"
)

const dataPeriod = "2y"

const weightCutoff = 1e-4

// Request is the input to Solve.
type Request struct {
	Tickers      []string
	MinWeight    float64
	MaxWeight    float64
	RiskFreeRate float64
	Linkage      string
}

// Service wires market data into the HRP optimizer and shapes tool responses.
type Service struct {
	data  *marketdata.Service
	cache *calculations.Cache
	hrp   *Optimizer
	mv    *optimization.Optimizer
	log   zerolog.Logger
}

// NewService creates the hierarchical optimization service. cache may be nil.
func NewService(data *marketdata.Service, cache *calculations.Cache, log zerolog.Logger) *Service {
	return &Service{
		data:  data,
		cache: cache,
		hrp:   NewOptimizer(),
		mv:    optimization.NewOptimizer(),
		log:   log.With().Str("module", "hierarchical").Logger(),
	}
}

// Solve runs Hierarchical Risk Parity over the requested tickers and reports
// the allocation next to the minimum-variance and maximum-return portfolios.
// HRP clusters on the sample covariance itself, so no shrinkage is applied.
func (s *Service) Solve(ctx context.Context, req Request) (*optimization.Solution, error) {
	if len(req.Tickers) == 0 {
		return nil, fmt.Errorf("no tickers provided in problem description")
	}

	opts := DefaultOptions()
	if req.Linkage != "" {
		switch Linkage(req.Linkage) {
		case LinkageSingle, LinkageComplete, LinkageAverage:
			opts.Linkage = Linkage(req.Linkage)
		default:
			return nil, fmt.Errorf("unknown linkage %q: must be single, complete or average", req.Linkage)
		}
	}

	maxWeight := req.MaxWeight
	if maxWeight <= 0 {
		maxWeight = 1.0
	}

	key := s.solutionKey(req, maxWeight)
	if cached := s.cachedSolution(key); cached != nil {
		return cached, nil
	}

	ds, err := s.data.Dataset(ctx, req.Tickers, dataPeriod)
	if err != nil {
		return nil, err
	}

	weights, err := s.hrp.OptimizeWithOptions(ds.CovMatrix, ds.Tickers, opts)
	if err != nil {
		return nil, fmt.Errorf("HRP optimization failed: %w", err)
	}
	weights = ApplyBounds(weights, req.MinWeight, maxWeight)

	mu := ds.MeanVector()
	constraints := optimization.Constraints{
		MinWeight: req.MinWeight,
		MaxWeight: maxWeight,
	}

	perf := optimization.Evaluate(weights, ds.Tickers, mu, ds.CovMatrix, req.RiskFreeRate)

	minVar, err := s.mv.MinVariancePortfolio(ds.Tickers, mu, ds.CovMatrix, constraints, req.RiskFreeRate)
	if err != nil {
		return nil, err
	}

	maxRet := optimization.MaxReturnPortfolio(ds.Tickers, mu, ds.CovMatrix, req.RiskFreeRate)

	sol := &optimization.Solution{
		Weights:        optimization.RoundWeights(weights, weightCutoff),
		ExpectedReturn: perf.ExpectedReturn,
		Risk:           perf.Risk,
		SharpeRatio:    perf.SharpeRatio,
		MinVariancePortfolio: optimization.ComparisonPortfolio{
			Weights:        optimization.RoundWeights(minVar.Weights, weightCutoff),
			ExpectedReturn: minVar.Performance.ExpectedReturn,
			Risk:           minVar.Performance.Risk,
		},
		MaxReturnPortfolio: optimization.ComparisonPortfolio{
			Weights:        maxRet.Weights,
			ExpectedReturn: maxRet.Performance.ExpectedReturn,
			Risk:           maxRet.Performance.Risk,
		},
		Objective: "hierarchical_risk_parity",
		StartDate: ds.StartDate,
		EndDate:   ds.EndDate,
		Note:      ds.Note,
	}

	s.storeSolution(key, sol)
	return sol, nil
}

func (s *Service) solutionKey(req Request, maxWeight float64) string {
	return fmt.Sprintf("hrp:%s:%s:%.6f:%.4f:%.4f",
		calculations.HashTickers(req.Tickers),
		req.Linkage,
		req.RiskFreeRate, req.MinWeight, maxWeight,
	)
}

func (s *Service) cachedSolution(key string) *optimization.Solution {
	if s.cache == nil {
		return nil
	}
	var sol optimization.Solution
	if s.cache.GetInto("solution", key, &sol) {
		s.log.Debug().Msg("Using cached HRP solution")
		return &sol
	}
	return nil
}

func (s *Service) storeSolution(key string, sol *optimization.Solution) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetFrom("solution", key, sol, calculations.TTLOptimizer); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache HRP solution")
	}
}
