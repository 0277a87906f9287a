package optimization

import (
	"math"

	"github.com/mcportfolio/mcportfolio/pkg/formulas"
)

// Performance summarizes a weighted portfolio against annualized inputs.
type Performance struct {
	ExpectedReturn float64 `json:"expected_return"`
	Risk           float64 `json:"risk"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
}

// Evaluate computes expected return, volatility and Sharpe ratio for a
// set of ticker weights. Mu and Sigma are annualized and ordered like tickers.
func Evaluate(weights map[string]float64, tickers []string, mu []float64, sigma [][]float64, riskFreeRate float64) Performance {
	n := len(tickers)

	w := make([]float64, n)
	for i, ticker := range tickers {
		w[i] = weights[ticker]
	}

	var ret, variance float64
	for i := 0; i < n; i++ {
		ret += mu[i] * w[i]
		for j := 0; j < n; j++ {
			variance += w[i] * w[j] * sigma[i][j]
		}
	}

	risk := math.Sqrt(math.Max(variance, 0))

	return Performance{
		ExpectedReturn: ret,
		Risk:           risk,
		SharpeRatio:    formulas.SharpeFromAnnualized(ret, risk, riskFreeRate),
	}
}

// RoundWeights zeroes near-zero weights and rounds the rest, mirroring the
// cleaned weight maps the tools return.
func RoundWeights(weights map[string]float64, cutoff float64) map[string]float64 {
	cleaned := make(map[string]float64, len(weights))
	var sum float64
	for ticker, w := range weights {
		if math.Abs(w) < cutoff {
			w = 0
		}
		cleaned[ticker] = w
		sum += w
	}

	if sum > 0 {
		for ticker := range cleaned {
			cleaned[ticker] = math.Round(cleaned[ticker]/sum*1e5) / 1e5
		}
	}

	return cleaned
}
