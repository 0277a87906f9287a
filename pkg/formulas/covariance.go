package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// SampleCovariance calculates the sample covariance matrix from returns.
// Returns a symmetric matrix where element (i,j) is the covariance between
// tickers[i] and tickers[j]. All return series must have the same length.
func SampleCovariance(returns map[string][]float64, tickers []string) ([][]float64, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers provided")
	}

	var returnLength int
	for _, ticker := range tickers {
		ret, ok := returns[ticker]
		if !ok {
			return nil, fmt.Errorf("missing returns for ticker %s", ticker)
		}
		if returnLength == 0 {
			returnLength = len(ret)
		}
		if len(ret) != returnLength {
			return nil, fmt.Errorf("inconsistent return lengths: expected %d, got %d for ticker %s", returnLength, len(ret), ticker)
		}
	}

	if returnLength < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", returnLength)
	}

	n := len(tickers)
	covMatrix := make([][]float64, n)
	for i := range covMatrix {
		covMatrix[i] = make([]float64, n)
	}

	// Sample covariance with N-1 denominator via gonum/stat.
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov := stat.Covariance(returns[tickers[i]], returns[tickers[j]], nil)
			covMatrix[i][j] = cov
			if i != j {
				covMatrix[j][i] = cov
			}
		}
	}

	return covMatrix, nil
}

// LedoitWolfShrinkage applies Ledoit-Wolf shrinkage to a sample covariance matrix.
// The shrinkage estimator shrinks the sample covariance matrix towards a structured
// estimator (constant correlation model) to improve estimation quality, especially
// with limited data.
//
// Reference: Ledoit, O., & Wolf, M. (2004). "A well-conditioned estimator for large-dimensional covariance matrices"
func LedoitWolfShrinkage(sampleCov [][]float64) ([][]float64, error) {
	n := len(sampleCov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}

	// Shrinkage target: constant correlation model built from the average
	// variance and average off-diagonal covariance.
	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sampleCov[i][i]
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sampleCov[i][j]
			}
		}
	}
	avgVar /= float64(n)
	if n > 1 {
		avgCov /= float64(n * (n - 1))
	}

	target := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				target.Set(i, j, avgVar)
			} else if avgVar > 0 {
				target.Set(i, j, avgCov)
			}
		}
	}

	// Shrinkage intensity. Full Ledoit-Wolf estimates this from the data;
	// here a simplified estimator is used with a 20% default.
	shrinkage := 0.2

	if n > 2 && avgVar > 0 {
		var sumSqDiff float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				diff := sampleCov[i][j] - target.At(i, j)
				sumSqDiff += diff * diff
			}
		}
		meanSqDiff := sumSqDiff / float64(n*n)

		var sumSqSample, meanSample float64
		count := n * n
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				val := sampleCov[i][j]
				meanSample += val
				sumSqSample += val * val
			}
		}
		meanSample /= float64(count)
		varSample := sumSqSample/float64(count) - meanSample*meanSample

		if varSample > 0 && meanSqDiff > 0 {
			shrinkage = math.Min(0.5, math.Max(0.0, varSample/(varSample+meanSqDiff)))
		}
	}

	// Σ_shrunk = (1-δ) * Σ_sample + δ * Σ_target
	shrunk := make([][]float64, n)
	for i := 0; i < n; i++ {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			shrunk[i][j] = (1-shrinkage)*sampleCov[i][j] + shrinkage*target.At(i, j)
		}
	}

	return shrunk, nil
}

