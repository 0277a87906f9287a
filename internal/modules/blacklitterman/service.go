package blacklitterman

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/modules/calculations"
	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
	"github.com/mcportfolio/mcportfolio/internal/modules/optimization"
	"github.com/mcportfolio/mcportfolio/pkg/formulas"
)

const dataPeriod = "2y"

const weightCutoff = 1e-4

// Request is the input to Solve.
type Request struct {
	Tickers          []string
	Views            []View
	MarketCapWeights map[string]float64
	Tau              float64
	RiskAversion     float64
	RiskFreeRate     float64
	MinWeight        float64
	MaxWeight        float64
}

// Solution extends the optimizer payload with the blended return vector.
type Solution struct {
	optimization.Solution
	PosteriorReturns map[string]float64 `json:"posterior_returns" msgpack:"posterior_returns"`
}

// Service wires market data into the Black-Litterman model and the
// mean-variance optimizer.
type Service struct {
	data  *marketdata.Service
	cache *calculations.Cache
	opt   *optimization.Optimizer
	log   zerolog.Logger
}

// NewService creates the Black-Litterman service. cache may be nil.
func NewService(data *marketdata.Service, cache *calculations.Cache, log zerolog.Logger) *Service {
	return &Service{
		data:  data,
		cache: cache,
		opt:   optimization.NewOptimizer(),
		log:   log.With().Str("module", "blacklitterman").Logger(),
	}
}

// Solve computes posterior expected returns from the market-implied prior and
// the given views, then maximizes the Sharpe ratio on the posterior.
func (s *Service) Solve(ctx context.Context, req Request) (*Solution, error) {
	if len(req.Tickers) == 0 {
		return nil, fmt.Errorf("no tickers provided in problem description")
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

	sigma, err := formulas.LedoitWolfShrinkage(ds.CovMatrix)
	if err != nil {
		return nil, fmt.Errorf("failed to condition covariance matrix: %w", err)
	}

	model := &Model{
		Tickers:          ds.Tickers,
		Covariance:       sigma,
		MarketCapWeights: req.MarketCapWeights,
		RiskFreeRate:     req.RiskFreeRate,
		RiskAversion:     req.RiskAversion,
		Tau:              req.Tau,
	}

	posterior, err := model.PosteriorReturns(req.Views)
	if err != nil {
		return nil, err
	}

	constraints := optimization.Constraints{
		MinWeight: req.MinWeight,
		MaxWeight: maxWeight,
	}
	weights, err := s.opt.Optimize(optimization.Request{
		Tickers:      ds.Tickers,
		Mu:           posterior,
		Sigma:        sigma,
		Constraints:  constraints,
		Objective:    optimization.ObjectiveMaxSharpe,
		RiskFreeRate: req.RiskFreeRate,
	})
	if err != nil {
		return nil, fmt.Errorf("optimization on posterior returns failed: %w", err)
	}

	perf := optimization.Evaluate(weights, ds.Tickers, posterior, sigma, req.RiskFreeRate)

	minVar, err := s.opt.MinVariancePortfolio(ds.Tickers, posterior, sigma, constraints, req.RiskFreeRate)
	if err != nil {
		return nil, err
	}
	maxRet := optimization.MaxReturnPortfolio(ds.Tickers, posterior, sigma, req.RiskFreeRate)

	posteriorByTicker := make(map[string]float64, len(ds.Tickers))
	for i, ticker := range ds.Tickers {
		posteriorByTicker[ticker] = posterior[i]
	}

	sol := &Solution{
		Solution: optimization.Solution{
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
			Objective: "black_litterman",
			StartDate: ds.StartDate,
			EndDate:   ds.EndDate,
			Note:      ds.Note,
		},
		PosteriorReturns: posteriorByTicker,
	}

	s.storeSolution(key, sol)
	return sol, nil
}

func (s *Service) solutionKey(req Request, maxWeight float64) string {
	viewsKey := ""
	for _, v := range req.Views {
		viewsKey += fmt.Sprintf("%s=%.6f@%.4f|", v.Asset, v.ExpectedReturn, v.Confidence)
	}
	capsKey := ""
	for _, ticker := range req.Tickers {
		if w, ok := req.MarketCapWeights[ticker]; ok {
			capsKey += fmt.Sprintf("%s=%.6f|", ticker, w)
		}
	}
	return fmt.Sprintf("bl:%s:%s:%s:%.4f:%.4f:%.6f:%.4f:%.4f",
		calculations.HashTickers(req.Tickers),
		viewsKey, capsKey,
		req.Tau, req.RiskAversion, req.RiskFreeRate,
		req.MinWeight, maxWeight,
	)
}

func (s *Service) cachedSolution(key string) *Solution {
	if s.cache == nil {
		return nil
	}
	var sol Solution
	if s.cache.GetInto("solution", key, &sol) {
		s.log.Debug().Msg("Using cached Black-Litterman solution")
		return &sol
	}
	return nil
}

func (s *Service) storeSolution(key string, sol *Solution) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetFrom("solution", key, sol, calculations.TTLOptimizer); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache Black-Litterman solution")
	}
}
