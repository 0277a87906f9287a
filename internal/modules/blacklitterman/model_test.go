package blacklitterman

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mcportfolio/mcportfolio/internal/database"
	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
)

func testModel() *Model {
	return &Model{
		Tickers: []string{"AAA", "BBB", "CCC"},
		Covariance: [][]float64{
			{0.090, 0.020, 0.010},
			{0.020, 0.060, 0.015},
			{0.010, 0.015, 0.040},
		},
		RiskFreeRate: 0.02,
		RiskAversion: 1.0,
		Tau:          0.05,
	}
}

func TestEquilibriumReturnsEqualWeights(t *testing.T) {
	m := testModel()

	pi, err := m.EquilibriumReturns()
	require.NoError(t, err)
	require.Len(t, pi, 3)

	// pi_i = delta * (Sigma w)_i + rf with w = 1/3 each
	assert.InDelta(t, (0.090+0.020+0.010)/3.0+0.02, pi[0], 1e-12)
	assert.InDelta(t, (0.020+0.060+0.015)/3.0+0.02, pi[1], 1e-12)
	assert.InDelta(t, (0.010+0.015+0.040)/3.0+0.02, pi[2], 1e-12)
}

func TestEquilibriumReturnsMarketCapWeights(t *testing.T) {
	m := testModel()
	m.MarketCapWeights = map[string]float64{"AAA": 3.0, "BBB": 1.0, "CCC": 1.0}

	pi, err := m.EquilibriumReturns()
	require.NoError(t, err)

	// AAA dominates the market portfolio, so its implied return rises.
	equal := testModel()
	piEq, err := equal.EquilibriumReturns()
	require.NoError(t, err)
	assert.Greater(t, pi[0], piEq[0])
}

func TestPosteriorReturnsNoViews(t *testing.T) {
	m := testModel()

	pi, err := m.EquilibriumReturns()
	require.NoError(t, err)

	posterior, err := m.PosteriorReturns(nil)
	require.NoError(t, err)
	assert.Equal(t, pi, posterior)
}

func TestPosteriorReturnsPullsTowardView(t *testing.T) {
	m := testModel()

	pi, err := m.EquilibriumReturns()
	require.NoError(t, err)

	view := View{Asset: "AAA", ExpectedReturn: pi[0] + 0.10, Confidence: 0.8}
	posterior, err := m.PosteriorReturns([]View{view})
	require.NoError(t, err)

	// Strongly held bullish view moves the posterior up, but not past the view.
	assert.Greater(t, posterior[0], pi[0])
	assert.Less(t, posterior[0], view.ExpectedReturn)
}

func TestPosteriorReturnsZeroConfidence(t *testing.T) {
	m := testModel()

	pi, err := m.EquilibriumReturns()
	require.NoError(t, err)

	posterior, err := m.PosteriorReturns([]View{
		{Asset: "BBB", ExpectedReturn: 0.50, Confidence: 0.0},
	})
	require.NoError(t, err)

	// Zero confidence means the view is effectively ignored.
	assert.InDelta(t, pi[1], posterior[1], 1e-4)
}

func TestPosteriorReturnsConfidenceOrdering(t *testing.T) {
	m := testModel()

	pi, err := m.EquilibriumReturns()
	require.NoError(t, err)

	target := pi[2] + 0.08
	weak, err := m.PosteriorReturns([]View{{Asset: "CCC", ExpectedReturn: target, Confidence: 0.2}})
	require.NoError(t, err)
	strong, err := m.PosteriorReturns([]View{{Asset: "CCC", ExpectedReturn: target, Confidence: 0.9}})
	require.NoError(t, err)

	assert.Greater(t, strong[2], weak[2])
}

func TestPosteriorReturnsUnknownAsset(t *testing.T) {
	m := testModel()
	_, err := m.PosteriorReturns([]View{{Asset: "ZZZ", ExpectedReturn: 0.1, Confidence: 0.5}})
	require.Error(t, err)
}

func TestPosteriorReturnsBadConfidence(t *testing.T) {
	m := testModel()
	_, err := m.PosteriorReturns([]View{{Asset: "AAA", ExpectedReturn: 0.1, Confidence: 1.5}})
	require.Error(t, err)
}

func TestSolveViewSystemWellConditioned(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{4, 1, 1, 3})
	b := mat.NewVecDense(2, []float64{1, 2})

	x, err := solveViewSystem(a, b)
	require.NoError(t, err)

	// Residual of A x - b should vanish.
	var ax mat.VecDense
	ax.MulVec(a, x)
	assert.InDelta(t, 1.0, ax.AtVec(0), 1e-9)
	assert.InDelta(t, 2.0, ax.AtVec(1), 1e-9)
}

func TestSolveViewSystemSingular(t *testing.T) {
	// Rank-deficient but consistent: second row is twice the first.
	a := mat.NewDense(2, 2, []float64{1, 2, 2, 4})
	b := mat.NewVecDense(2, []float64{3, 6})

	x, err := solveViewSystem(a, b)
	if err != nil {
		return
	}
	for i := 0; i < x.Len(); i++ {
		assert.False(t, math.IsNaN(x.AtVec(i)), "component %d is NaN", i)
		assert.False(t, math.IsInf(x.AtVec(i), 0), "component %d is Inf", i)
	}
}

func TestSolveViewSystemIllConditioned(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 1, 1, 1 + 1e-14})
	b := mat.NewVecDense(2, []float64{2, 2})

	x, err := solveViewSystem(a, b)
	if err != nil {
		return
	}
	for i := 0; i < x.Len(); i++ {
		assert.False(t, math.IsNaN(x.AtVec(i)), "component %d is NaN", i)
		assert.False(t, math.IsInf(x.AtVec(i), 0), "component %d is Inf", i)
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    "file:blacklitterman_test_" + t.Name() + "?mode=memory&cache=shared",
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

	return NewService(data, nil, zerolog.Nop())
}

func TestSolveBlackLitterman(t *testing.T) {
	svc := newTestService(t)

	sol, err := svc.Solve(context.Background(), Request{
		Tickers: []string{"AAPL", "MSFT", "GOOGL"},
		Views: []View{
			{Asset: "AAPL", ExpectedReturn: 0.20, Confidence: 0.7},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "black_litterman", sol.Objective)
	require.Len(t, sol.PosteriorReturns, 3)

	sum := 0.0
	for _, w := range sol.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
	assert.NotEmpty(t, sol.MinVariancePortfolio.Weights)
}

func TestSolveBlackLittermanNoTickers(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Solve(context.Background(), Request{})
	require.Error(t, err)
}
