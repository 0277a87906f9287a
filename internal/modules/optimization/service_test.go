package optimization

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcportfolio/mcportfolio/internal/database"
	"github.com/mcportfolio/mcportfolio/internal/modules/calculations"
	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
)

// newTestService backs the optimization service with deterministic sample
// market data so solves are reproducible offline.
func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    "file:optimization_test_" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileStandard,
		Name:    "prices",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := marketdata.NewStore(db, zerolog.Nop())
	require.NoError(t, err)

	data := marketdata.NewService(
		store, nil,
		[]marketdata.Source{marketdata.NewSampleSource(zerolog.Nop())},
		time.Hour, zerolog.Nop(),
	)

	return NewService(data, nil, defaultRiskFreeRate, zerolog.Nop())
}

func TestSolvePortfolio(t *testing.T) {
	svc := newTestService(t)

	sol, err := svc.SolvePortfolio(context.Background(), PortfolioRequest{
		Tickers:     []string{"AAPL", "MSFT", "KO"},
		Constraints: []string{"max_weight 0.6"},
	})
	require.NoError(t, err)

	assert.Equal(t, ObjectiveMaxSharpe, sol.Objective)
	assert.Equal(t, marketdata.SampleNote, sol.Note)
	assert.NotEmpty(t, sol.StartDate)

	var sum float64
	for _, w := range sol.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
		assert.LessOrEqual(t, w, 0.65)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-3)

	// Comparison portfolios are present and coherent.
	assert.LessOrEqual(t, sol.MinVariancePortfolio.Risk, sol.MaxReturnPortfolio.Risk+0.02)
	assert.NotEmpty(t, sol.MaxReturnPortfolio.Weights)
}

func TestSolvePortfolioIgnoredConstraints(t *testing.T) {
	svc := newTestService(t)

	sol, err := svc.SolvePortfolio(context.Background(), PortfolioRequest{
		Tickers:     []string{"AAPL", "MSFT"},
		Constraints: []string{"max_weight 0.8", "max_leverage 2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"max_leverage 2"}, sol.IgnoredConstraints)
}

func TestSolvePortfolioObjectives(t *testing.T) {
	svc := newTestService(t)
	tickers := []string{"AAPL", "MSFT", "KO", "XOM"}

	minVol, err := svc.SolvePortfolio(context.Background(), PortfolioRequest{
		Tickers:     tickers,
		Objective:   ObjectiveMinVolatility,
		Constraints: []string{"max_weight 1.0"},
	})
	require.NoError(t, err)

	maxSharpe, err := svc.SolvePortfolio(context.Background(), PortfolioRequest{
		Tickers:     tickers,
		Objective:   ObjectiveMaxSharpe,
		Constraints: []string{"max_weight 1.0"},
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, minVol.Risk, maxSharpe.Risk+0.02, "min volatility cannot be riskier than max Sharpe")
}

func TestSolvePortfolioTargetsNotCacheAliased(t *testing.T) {
	svc := newTestService(t)

	cacheDB, err := database.New(database.Config{
		Path:    "file:optimization_cache_" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheDB.Close() })

	svc.cache, err = calculations.New(cacheDB, zerolog.Nop())
	require.NoError(t, err)

	lowTarget, highTarget := 0.02, 0.60
	tickers := []string{"AAPL", "MSFT", "KO", "XOM"}

	low, err := svc.SolvePortfolio(context.Background(), PortfolioRequest{
		Tickers:      tickers,
		Objective:    ObjectiveEfficientReturn,
		TargetReturn: &lowTarget,
	})
	require.NoError(t, err)

	high, err := svc.SolvePortfolio(context.Background(), PortfolioRequest{
		Tickers:      tickers,
		Objective:    ObjectiveEfficientReturn,
		TargetReturn: &highTarget,
	})
	require.NoError(t, err)

	lowReq := PortfolioRequest{Tickers: tickers, TargetReturn: &lowTarget}
	highReq := PortfolioRequest{Tickers: tickers, TargetReturn: &highTarget}
	assert.NotEqual(t,
		svc.solutionKey("portfolio", lowReq, ObjectiveEfficientReturn, 0.04, 0, 1),
		svc.solutionKey("portfolio", highReq, ObjectiveEfficientReturn, 0.04, 0, 1),
	)

	// An unreachable target tilts toward return, so the solutions differ.
	assert.NotEqual(t, low.Weights, high.Weights)
	assert.Greater(t, high.ExpectedReturn, low.ExpectedReturn-1e-9)
}

func TestSolvePortfolioConfiguredRiskFreeRate(t *testing.T) {
	svc := newTestService(t)
	svc.riskFree = 0.10

	sol, err := svc.SolvePortfolio(context.Background(), PortfolioRequest{
		Tickers: []string{"AAPL", "MSFT", "KO"},
	})
	require.NoError(t, err)

	// Sharpe is computed against the configured rate when the request
	// carries none.
	require.Greater(t, sol.Risk, 0.0)
	assert.InDelta(t, (sol.ExpectedReturn-0.10)/sol.Risk, sol.SharpeRatio, 1e-9)
}

func TestSolvePortfolioNoTickers(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.SolvePortfolio(context.Background(), PortfolioRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tickers")
}

func TestSolveEfficientFrontier(t *testing.T) {
	svc := newTestService(t)

	sol, err := svc.SolveEfficientFrontier(context.Background(), FrontierRequest{
		Tickers:      []string{"AAPL", "MSFT", "KO"},
		MinWeight:    0,
		MaxWeight:    1,
		RiskFreeRate: 0.02,
	})
	require.NoError(t, err)

	var sum float64
	for _, w := range sol.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
	assert.Greater(t, sol.Risk, 0.0)
}

func TestSolveCLA(t *testing.T) {
	svc := newTestService(t)

	sol, err := svc.SolveCLA(context.Background(), FrontierRequest{
		Tickers:      []string{"AAPL", "MSFT", "KO"},
		MinWeight:    0,
		MaxWeight:    1,
		RiskFreeRate: 0.02,
	})
	require.NoError(t, err)

	// The traced max-Sharpe point must not fall below the minimum-variance
	// portfolio's Sharpe ratio.
	assert.GreaterOrEqual(t, sol.SharpeRatio, -1e-6)

	var sum float64
	for _, w := range sol.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
}
