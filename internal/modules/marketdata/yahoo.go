package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/rs/zerolog"
)

// YahooSource fetches daily bars from the Yahoo Finance chart API.
type YahooSource struct {
	log zerolog.Logger
}

// NewYahooSource creates a Yahoo Finance price source.
func NewYahooSource(log zerolog.Logger) *YahooSource {
	return &YahooSource{
		log: log.With().Str("source", "yahoo").Logger(),
	}
}

// Name returns the source identifier.
func (s *YahooSource) Name() string {
	return "yahoo"
}

// FetchDaily retrieves up to `days` trading days of daily bars for a ticker.
func (s *YahooSource) FetchDaily(ctx context.Context, ticker string, days int) ([]DailyPrice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Trading days to calendar days, with slack for holidays.
	end := time.Now()
	start := end.AddDate(0, 0, -(days*7/5 + 10))

	params := &chart.Params{
		Symbol:   ticker,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	}

	iter := chart.Get(params)

	var prices []DailyPrice
	for iter.Next() {
		bar := iter.Bar()

		closePx := bar.AdjClose.InexactFloat64()
		if closePx <= 0 {
			closePx = bar.Close.InexactFloat64()
		}
		if closePx <= 0 {
			continue
		}

		volume := int64(bar.Volume)
		prices = append(prices, DailyPrice{
			Date:   time.Unix(int64(bar.Timestamp), 0).UTC().Format("2006-01-02"),
			Open:   bar.Open.InexactFloat64(),
			High:   bar.High.InexactFloat64(),
			Low:    bar.Low.InexactFloat64(),
			Close:  closePx,
			Volume: &volume,
		})
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("yahoo chart request failed for %s: %w", ticker, err)
	}

	if len(prices) == 0 {
		return nil, fmt.Errorf("yahoo returned no data for %s", ticker)
	}

	// Keep the most recent `days` bars.
	if len(prices) > days {
		prices = prices[len(prices)-days:]
	}

	s.log.Debug().Str("ticker", ticker).Int("bars", len(prices)).Msg("Fetched daily bars")
	return prices, nil
}
