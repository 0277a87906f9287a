package marketdata

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// SampleNote is attached to datasets built from generated data.
const SampleNote = "Using sample data for demonstration - market data sources unavailable"

// SampleSource generates deterministic random-walk price series. It is the
// last resort in the source chain so the solvers stay usable offline.
type SampleSource struct {
	log zerolog.Logger
}

// NewSampleSource creates a deterministic sample price source.
func NewSampleSource(log zerolog.Logger) *SampleSource {
	return &SampleSource{
		log: log.With().Str("source", "sample").Logger(),
	}
}

// Name returns the source identifier.
func (s *SampleSource) Name() string {
	return "sample"
}

// FetchDaily generates `days` bars for a ticker. The seed is derived from
// the ticker so repeated calls return identical series.
func (s *SampleSource) FetchDaily(ctx context.Context, ticker string, days int) ([]DailyPrice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.log.Info().Str("ticker", ticker).Int("days", days).Msg("Generating sample price data")

	var seed int64 = 42
	for _, c := range ticker {
		seed = seed*31 + int64(c)
	}
	if seed < 0 {
		seed = -seed
	}
	rng := rand.New(rand.NewSource(seed))

	// Starting price and volatility vary with the ticker seed.
	startPrice := 100.0 + float64(seed%7)*50.0
	volatility := 0.02 + float64(seed%5)*0.005

	prices := make([]DailyPrice, days)
	price := startPrice
	end := time.Now().UTC()

	for i := 0; i < days; i++ {
		if i > 0 {
			// Random walk with a small positive drift.
			ret := 0.0005 + rng.NormFloat64()*volatility
			price *= 1 + ret
		}

		date := end.AddDate(0, 0, -(days - 1 - i))
		spread := price * 0.01
		volume := int64(1_000_000 + rng.Intn(9_000_000))

		prices[i] = DailyPrice{
			Date:   date.Format("2006-01-02"),
			Open:   price - spread/2,
			High:   price + spread,
			Low:    price - spread,
			Close:  price,
			Volume: &volume,
		}
	}

	return prices, nil
}
