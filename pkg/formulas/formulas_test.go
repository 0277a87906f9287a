package formulas

import (
	"math"
	"testing"
)

func TestCalculateReturns(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		expected []float64
	}{
		{
			name:     "simple increasing prices",
			prices:   []float64{100, 110, 121},
			expected: []float64{0.10, 0.10},
		},
		{
			name:     "single price",
			prices:   []float64{100},
			expected: []float64{},
		},
		{
			name:     "empty prices",
			prices:   []float64{},
			expected: []float64{},
		},
		{
			name:     "price drop",
			prices:   []float64{100, 50},
			expected: []float64{-0.50},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateReturns(tt.prices)
			if len(result) != len(tt.expected) {
				t.Fatalf("CalculateReturns() length = %d, want %d", len(result), len(tt.expected))
			}
			for i := range result {
				if math.Abs(result[i]-tt.expected[i]) > 1e-9 {
					t.Errorf("CalculateReturns()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestAnnualizedMeanReturn(t *testing.T) {
	returns := make([]float64, 252)
	for i := range returns {
		returns[i] = 0.001
	}
	result := AnnualizedMeanReturn(returns)
	expected := 0.001 * 252
	if math.Abs(result-expected) > 1e-9 {
		t.Errorf("AnnualizedMeanReturn() = %v, want %v", result, expected)
	}
}

func TestSampleCovariance(t *testing.T) {
	returns := map[string][]float64{
		"AAPL": {0.01, -0.02, 0.03, 0.01},
		"MSFT": {0.02, -0.01, 0.02, 0.00},
	}
	tickers := []string{"AAPL", "MSFT"}

	cov, err := SampleCovariance(returns, tickers)
	if err != nil {
		t.Fatalf("SampleCovariance() error = %v", err)
	}
	if len(cov) != 2 || len(cov[0]) != 2 {
		t.Fatalf("SampleCovariance() shape = %dx%d, want 2x2", len(cov), len(cov[0]))
	}

	// Symmetry and positive diagonal.
	if math.Abs(cov[0][1]-cov[1][0]) > 1e-12 {
		t.Errorf("covariance matrix not symmetric: %v vs %v", cov[0][1], cov[1][0])
	}
	if cov[0][0] <= 0 || cov[1][1] <= 0 {
		t.Errorf("diagonal variances must be positive: %v, %v", cov[0][0], cov[1][1])
	}

	// Diagonal equals sample variance of the series.
	if math.Abs(cov[0][0]-Variance(returns["AAPL"])) > 1e-12 {
		t.Errorf("cov[0][0] = %v, want %v", cov[0][0], Variance(returns["AAPL"]))
	}
}

func TestSampleCovarianceErrors(t *testing.T) {
	_, err := SampleCovariance(map[string][]float64{}, []string{})
	if err == nil {
		t.Error("expected error for empty tickers")
	}

	_, err = SampleCovariance(map[string][]float64{"A": {0.01}}, []string{"A", "B"})
	if err == nil {
		t.Error("expected error for missing ticker")
	}

	_, err = SampleCovariance(map[string][]float64{"A": {0.01}}, []string{"A"})
	if err == nil {
		t.Error("expected error for insufficient observations")
	}

	_, err = SampleCovariance(map[string][]float64{
		"A": {0.01, 0.02, 0.03},
		"B": {0.01, 0.02},
	}, []string{"A", "B"})
	if err == nil {
		t.Error("expected error for inconsistent lengths")
	}
}

func TestLedoitWolfShrinkage(t *testing.T) {
	sample := [][]float64{
		{0.04, 0.01, 0.005},
		{0.01, 0.09, 0.012},
		{0.005, 0.012, 0.0625},
	}

	shrunk, err := LedoitWolfShrinkage(sample)
	if err != nil {
		t.Fatalf("LedoitWolfShrinkage() error = %v", err)
	}

	// Shrinkage pulls off-diagonal elements towards the constant
	// correlation target while keeping the matrix symmetric.
	for i := range shrunk {
		for j := range shrunk[i] {
			if math.Abs(shrunk[i][j]-shrunk[j][i]) > 1e-12 {
				t.Errorf("shrunk matrix not symmetric at (%d,%d)", i, j)
			}
		}
	}

	for i := range shrunk {
		if shrunk[i][i] <= 0 {
			t.Errorf("shrunk diagonal must stay positive: %v", shrunk[i][i])
		}
	}

	_, err = LedoitWolfShrinkage([][]float64{})
	if err == nil {
		t.Error("expected error for empty matrix")
	}
}

func TestCorrelationMatrixFromCovariance(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.012},
		{0.012, 0.09},
	}

	corr, err := CorrelationMatrixFromCovariance(cov)
	if err != nil {
		t.Fatalf("CorrelationMatrixFromCovariance() error = %v", err)
	}

	if math.Abs(corr[0][0]-1.0) > 1e-12 || math.Abs(corr[1][1]-1.0) > 1e-12 {
		t.Errorf("diagonal must be 1.0, got %v, %v", corr[0][0], corr[1][1])
	}

	expected := 0.012 / math.Sqrt(0.04*0.09)
	if math.Abs(corr[0][1]-expected) > 1e-12 {
		t.Errorf("corr[0][1] = %v, want %v", corr[0][1], expected)
	}

	_, err = CorrelationMatrixFromCovariance([][]float64{{0.0}})
	if err == nil {
		t.Error("expected error for zero variance on diagonal")
	}
}

func TestCorrelationToDistance(t *testing.T) {
	corr := [][]float64{
		{1.0, 0.5},
		{0.5, 1.0},
	}

	dist := CorrelationToDistance(corr)

	if math.Abs(dist[0][0]) > 1e-12 {
		t.Errorf("self distance must be 0, got %v", dist[0][0])
	}

	expected := math.Sqrt(2.0 * 0.5)
	if math.Abs(dist[0][1]-expected) > 1e-12 {
		t.Errorf("dist[0][1] = %v, want %v", dist[0][1], expected)
	}

	// Perfect negative correlation gives the maximum distance of 2.
	dist = CorrelationToDistance([][]float64{{1.0, -1.0}, {-1.0, 1.0}})
	if math.Abs(dist[0][1]-2.0) > 1e-12 {
		t.Errorf("dist for rho=-1 = %v, want 2.0", dist[0][1])
	}
}

func TestInverseVarianceWeights(t *testing.T) {
	weights := InverseVarianceWeights([]float64{0.04, 0.04})
	if math.Abs(weights[0]-0.5) > 1e-12 || math.Abs(weights[1]-0.5) > 1e-12 {
		t.Errorf("equal variances must give equal weights, got %v", weights)
	}

	// Lower variance gets the higher weight.
	weights = InverseVarianceWeights([]float64{0.01, 0.04})
	if weights[0] <= weights[1] {
		t.Errorf("lower variance must weigh more: %v", weights)
	}
	if math.Abs(weights[0]+weights[1]-1.0) > 1e-12 {
		t.Errorf("weights must sum to 1, got %v", weights[0]+weights[1])
	}

	// Degenerate variances fall back to equal weights.
	weights = InverseVarianceWeights([]float64{0.0, 0.0})
	if math.Abs(weights[0]-0.5) > 1e-12 {
		t.Errorf("zero variances must fall back to equal weights, got %v", weights)
	}
}

func TestSharpeFromAnnualized(t *testing.T) {
	got := SharpeFromAnnualized(0.10, 0.20, 0.02)
	want := (0.10 - 0.02) / 0.20
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("SharpeFromAnnualized() = %v, want %v", got, want)
	}

	if got := SharpeFromAnnualized(0.10, 0.0, 0.02); got != 0 {
		t.Errorf("zero volatility must give 0, got %v", got)
	}
}
