package marketdata

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/mcportfolio/mcportfolio/pkg/formulas"
)

// Indicators holds the technical snapshot attached to retrieval responses.
type Indicators struct {
	RSI14        *float64 `json:"rsi_14,omitempty"`
	ROC20        *float64 `json:"roc_20,omitempty"`
	SMA50        *float64 `json:"sma_50,omitempty"`
	Volatility1Y float64  `json:"annualized_volatility"`
	Sharpe       *float64 `json:"sharpe_ratio,omitempty"`
}

// ComputeIndicators derives a technical snapshot from a chronological
// close series. Indicators that need more history than available are nil.
func ComputeIndicators(closes []float64) Indicators {
	ind := Indicators{}

	if len(closes) >= 15 {
		rsi := talib.Rsi(closes, 14)
		if v := lastValid(rsi); v != nil {
			ind.RSI14 = v
		}
	}

	if len(closes) >= 21 {
		roc := talib.Roc(closes, 20)
		if v := lastValid(roc); v != nil {
			ind.ROC20 = v
		}
	}

	if len(closes) >= 50 {
		sma := talib.Sma(closes, 50)
		if v := lastValid(sma); v != nil {
			ind.SMA50 = v
		}
	}

	returns := formulas.CalculateReturns(closes)
	ind.Volatility1Y = formulas.AnnualizedVolatility(returns)

	// Raw annualized Sharpe over the window, zero risk-free rate.
	ind.Sharpe = formulas.CalculateSharpeRatio(returns, 0, formulas.TradingDaysPerYear)

	return ind
}

func lastValid(values []float64) *float64 {
	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) && values[i] != 0 {
			v := values[i]
			return &v
		}
	}
	return nil
}
