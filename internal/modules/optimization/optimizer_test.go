package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Three assets: A high return / high vol, B medium, C low return / low vol.
func testInputs() ([]string, []float64, [][]float64) {
	tickers := []string{"AAA", "BBB", "CCC"}
	mu := []float64{0.15, 0.10, 0.04}
	sigma := [][]float64{
		{0.0900, 0.0180, 0.0045},
		{0.0180, 0.0400, 0.0060},
		{0.0045, 0.0060, 0.0100},
	}
	return tickers, mu, sigma
}

func assertValidWeights(t *testing.T, weights map[string]float64, tickers []string, maxWeight float64) {
	t.Helper()

	var sum float64
	for _, ticker := range tickers {
		w, ok := weights[ticker]
		require.True(t, ok, "missing weight for %s", ticker)
		assert.GreaterOrEqual(t, w, 0.0)
		assert.LessOrEqual(t, w, maxWeight+0.05, "weight for %s above bound", ticker)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6, "weights must sum to 1")
}

func TestOptimizeMinVolatility(t *testing.T) {
	tickers, mu, sigma := testInputs()
	opt := NewOptimizer()

	weights, err := opt.Optimize(Request{
		Tickers:     tickers,
		Mu:          mu,
		Sigma:       sigma,
		Constraints: Constraints{MinWeight: 0, MaxWeight: 1},
		Objective:   ObjectiveMinVolatility,
	})
	require.NoError(t, err)
	assertValidWeights(t, weights, tickers, 1.0)

	// The low-volatility asset dominates the minimum-variance portfolio.
	assert.Greater(t, weights["CCC"], weights["AAA"])
	assert.Greater(t, weights["CCC"], weights["BBB"])
}

func TestOptimizeManyAssets(t *testing.T) {
	// Twelve assets push Nelder-Mead toward its limits, so this exercises
	// the gradient-based fallback as well as the primary method.
	n := 12
	tickers := make([]string, n)
	mu := make([]float64, n)
	sigma := make([][]float64, n)
	for i := 0; i < n; i++ {
		tickers[i] = string(rune('A'+i)) + "AA"
		mu[i] = 0.04 + 0.01*float64(i)
		sigma[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				sigma[i][j] = 0.01 + 0.005*float64(i)
			} else {
				sigma[i][j] = 0.002
			}
		}
	}

	opt := NewOptimizer()

	var weights map[string]float64
	var err error
	require.NotPanics(t, func() {
		weights, err = opt.Optimize(Request{
			Tickers:     tickers,
			Mu:          mu,
			Sigma:       sigma,
			Constraints: Constraints{MinWeight: 0, MaxWeight: 1},
			Objective:   ObjectiveMinVolatility,
		})
	})
	require.NoError(t, err)
	assertValidWeights(t, weights, tickers, 1.0)
}

func TestOptimizeMaxSharpe(t *testing.T) {
	tickers, mu, sigma := testInputs()
	opt := NewOptimizer()

	weights, err := opt.Optimize(Request{
		Tickers:      tickers,
		Mu:           mu,
		Sigma:        sigma,
		Constraints:  Constraints{MinWeight: 0, MaxWeight: 1},
		Objective:    ObjectiveMaxSharpe,
		RiskFreeRate: 0.02,
	})
	require.NoError(t, err)
	assertValidWeights(t, weights, tickers, 1.0)

	perf := Evaluate(weights, tickers, mu, sigma, 0.02)
	assert.Greater(t, perf.SharpeRatio, 0.0)

	// Max Sharpe must beat the equal-weight portfolio.
	equal := map[string]float64{"AAA": 1.0 / 3, "BBB": 1.0 / 3, "CCC": 1.0 / 3}
	equalPerf := Evaluate(equal, tickers, mu, sigma, 0.02)
	assert.GreaterOrEqual(t, perf.SharpeRatio, equalPerf.SharpeRatio-0.01)
}

func TestOptimizeRespectsMaxWeight(t *testing.T) {
	tickers, mu, sigma := testInputs()
	opt := NewOptimizer()

	weights, err := opt.Optimize(Request{
		Tickers:     tickers,
		Mu:          mu,
		Sigma:       sigma,
		Constraints: Constraints{MinWeight: 0, MaxWeight: 0.4},
		Objective:   ObjectiveMinVolatility,
	})
	require.NoError(t, err)
	assertValidWeights(t, weights, tickers, 0.4)
}

func TestOptimizeEfficientReturn(t *testing.T) {
	tickers, mu, sigma := testInputs()
	opt := NewOptimizer()

	target := 0.10
	weights, err := opt.Optimize(Request{
		Tickers:      tickers,
		Mu:           mu,
		Sigma:        sigma,
		Constraints:  Constraints{MinWeight: 0, MaxWeight: 1},
		Objective:    ObjectiveEfficientReturn,
		TargetReturn: &target,
	})
	require.NoError(t, err)
	assertValidWeights(t, weights, tickers, 1.0)

	perf := Evaluate(weights, tickers, mu, sigma, 0)
	assert.GreaterOrEqual(t, perf.ExpectedReturn, target-0.01, "must reach the target return")
}

func TestOptimizeEfficientReturnRequiresTarget(t *testing.T) {
	tickers, mu, sigma := testInputs()
	opt := NewOptimizer()

	_, err := opt.Optimize(Request{
		Tickers:     tickers,
		Mu:          mu,
		Sigma:       sigma,
		Constraints: Constraints{MaxWeight: 1},
		Objective:   ObjectiveEfficientReturn,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_return required")
}

func TestOptimizeEfficientRisk(t *testing.T) {
	tickers, mu, sigma := testInputs()
	opt := NewOptimizer()

	targetVol := 0.15
	weights, err := opt.Optimize(Request{
		Tickers:          tickers,
		Mu:               mu,
		Sigma:            sigma,
		Constraints:      Constraints{MinWeight: 0, MaxWeight: 1},
		Objective:        ObjectiveEfficientRisk,
		TargetVolatility: &targetVol,
	})
	require.NoError(t, err)
	assertValidWeights(t, weights, tickers, 1.0)

	perf := Evaluate(weights, tickers, mu, sigma, 0)
	assert.LessOrEqual(t, perf.Risk, targetVol+0.02, "volatility budget roughly held")
}

func TestOptimizeQuadraticUtility(t *testing.T) {
	tickers, mu, sigma := testInputs()
	opt := NewOptimizer()

	weights, err := opt.Optimize(Request{
		Tickers:      tickers,
		Mu:           mu,
		Sigma:        sigma,
		Constraints:  Constraints{MinWeight: 0, MaxWeight: 1},
		Objective:    ObjectiveQuadraticUtility,
		RiskAversion: 5.0,
	})
	require.NoError(t, err)
	assertValidWeights(t, weights, tickers, 1.0)
}

func TestOptimizeUnknownObjective(t *testing.T) {
	tickers, mu, sigma := testInputs()
	opt := NewOptimizer()

	_, err := opt.Optimize(Request{
		Tickers:     tickers,
		Mu:          mu,
		Sigma:       sigma,
		Constraints: Constraints{MaxWeight: 1},
		Objective:   "maximize_vibes",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown objective")
}

func TestOptimizeDimensionValidation(t *testing.T) {
	opt := NewOptimizer()

	_, err := opt.Optimize(Request{})
	require.Error(t, err)

	_, err = opt.Optimize(Request{
		Tickers: []string{"A", "B"},
		Mu:      []float64{0.1},
		Sigma:   [][]float64{{0.1, 0}, {0, 0.1}},
	})
	require.Error(t, err)

	_, err = opt.Optimize(Request{
		Tickers: []string{"A", "B"},
		Mu:      []float64{0.1, 0.2},
		Sigma:   [][]float64{{0.1}},
	})
	require.Error(t, err)
}

func TestOptimizeSectorConstraint(t *testing.T) {
	tickers := []string{"AAPL", "MSFT", "XOM"}
	mu := []float64{0.20, 0.18, 0.05}
	sigma := [][]float64{
		{0.09, 0.03, 0.01},
		{0.03, 0.08, 0.01},
		{0.01, 0.01, 0.04},
	}

	constraints := ParseConstraints([]string{"sector_tech 0.5"})
	constraints.MaxWeight = 1.0

	opt := NewOptimizer()
	weights, err := opt.Optimize(Request{
		Tickers:     tickers,
		Mu:          mu,
		Sigma:       sigma,
		Constraints: constraints,
		Objective:   ObjectiveMaxSharpe,
	})
	require.NoError(t, err)

	techWeight := weights["AAPL"] + weights["MSFT"]
	assert.LessOrEqual(t, techWeight, 0.55, "tech sector cap roughly held")
}

func TestTraceFrontier(t *testing.T) {
	tickers, mu, sigma := testInputs()
	opt := NewOptimizer()
	constraints := Constraints{MinWeight: 0, MaxWeight: 1}

	best, frontier, err := opt.TraceFrontier(tickers, mu, sigma, constraints, 0.02)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.NotEmpty(t, frontier)

	minVar, err := opt.MinVariancePortfolio(tickers, mu, sigma, constraints, 0.02)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, best.Performance.SharpeRatio, minVar.Performance.SharpeRatio)
}

func TestParseConstraints(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		check   func(t *testing.T, c Constraints)
	}{
		{
			name:  "defaults",
			input: nil,
			check: func(t *testing.T, c Constraints) {
				assert.Equal(t, 0.0, c.MinWeight)
				assert.Equal(t, DefaultMaxWeight, c.MaxWeight)
				assert.Empty(t, c.Ignored)
			},
		},
		{
			name:  "weight bounds",
			input: []string{"max_weight 0.3", "min_weight 0.05"},
			check: func(t *testing.T, c Constraints) {
				assert.Equal(t, 0.3, c.MaxWeight)
				assert.Equal(t, 0.05, c.MinWeight)
			},
		},
		{
			name:  "sector limit",
			input: []string{"sector_tech 0.4"},
			check: func(t *testing.T, c Constraints) {
				require.Len(t, c.Sectors, 1)
				assert.Equal(t, 0.4, c.Sectors[0].SectorUpper["tech"])
				assert.Equal(t, "tech", c.Sectors[0].SectorMapper["AAPL"])
			},
		},
		{
			name:  "max volatility",
			input: []string{"max_volatility 0.25"},
			check: func(t *testing.T, c Constraints) {
				require.NotNil(t, c.MaxVolatility)
				assert.Equal(t, 0.25, *c.MaxVolatility)
			},
		},
		{
			name:  "unknown constraints echoed back",
			input: []string{"max_leverage 2", "sector_crypto 0.1", "nonsense", "max_weight abc"},
			check: func(t *testing.T, c Constraints) {
				assert.Len(t, c.Ignored, 4)
				assert.Equal(t, DefaultMaxWeight, c.MaxWeight)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ParseConstraints(tt.input))
		})
	}
}

func TestRoundWeights(t *testing.T) {
	weights := map[string]float64{"A": 0.500004, "B": 0.499996, "C": 1e-7}

	cleaned := RoundWeights(weights, 1e-4)
	assert.Equal(t, 0.0, cleaned["C"])

	var sum float64
	for _, w := range cleaned {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
}
