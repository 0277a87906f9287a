// Package marketdata retrieves and stores historical price data and derives
// the return statistics the portfolio solvers consume.
package marketdata

// DailyPrice represents a daily OHLCV price point
type DailyPrice struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume *int64  `json:"volume,omitempty"`
}

// Dataset holds aligned price history and derived statistics for a ticker set.
// MeanReturns and CovMatrix are annualized (daily figures scaled by 252).
type Dataset struct {
	Tickers     []string             `json:"tickers" msgpack:"tickers"`
	Prices      map[string][]float64 `json:"prices" msgpack:"prices"`
	Returns     map[string][]float64 `json:"returns" msgpack:"returns"`
	MeanReturns map[string]float64   `json:"mean_returns" msgpack:"mean_returns"`
	CovMatrix   [][]float64          `json:"cov_matrix" msgpack:"cov_matrix"`
	StartDate   string               `json:"start_date" msgpack:"start_date"`
	EndDate     string               `json:"end_date" msgpack:"end_date"`
	NumDays     int                  `json:"num_days" msgpack:"num_days"`
	Note        string               `json:"note,omitempty" msgpack:"note,omitempty"`
}

// MeanVector returns the annualized mean returns ordered like Tickers.
func (d *Dataset) MeanVector() []float64 {
	mu := make([]float64, len(d.Tickers))
	for i, t := range d.Tickers {
		mu[i] = d.MeanReturns[t]
	}
	return mu
}
