package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// StooqSource fetches daily bars from the Stooq CSV endpoint. It is the
// fallback when Yahoo Finance is unavailable.
type StooqSource struct {
	client *resty.Client
	log    zerolog.Logger
}

// NewStooqSource creates a Stooq price source.
func NewStooqSource(log zerolog.Logger) *StooqSource {
	client := resty.New()
	client.SetBaseURL("https://stooq.com")
	client.SetTimeout(30 * time.Second)

	return &StooqSource{
		client: client,
		log:    log.With().Str("source", "stooq").Logger(),
	}
}

// Name returns the source identifier.
func (s *StooqSource) Name() string {
	return "stooq"
}

// stooqSymbol maps a plain US ticker to Stooq's naming (aapl -> aapl.us).
func stooqSymbol(ticker string) string {
	sym := strings.ToLower(ticker)
	if !strings.Contains(sym, ".") {
		sym += ".us"
	}
	return sym
}

// FetchDaily retrieves up to `days` trading days of daily bars for a ticker.
func (s *StooqSource) FetchDaily(ctx context.Context, ticker string, days int) ([]DailyPrice, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"s": stooqSymbol(ticker),
			"i": "d",
		}).
		Get("/q/d/l/")
	if err != nil {
		return nil, fmt.Errorf("stooq request failed for %s: %w", ticker, err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("stooq returned status %d for %s", resp.StatusCode(), ticker)
	}

	prices, err := parseStooqCSV(resp.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse stooq data for %s: %w", ticker, err)
	}

	if len(prices) == 0 {
		return nil, fmt.Errorf("stooq returned no data for %s", ticker)
	}

	if len(prices) > days {
		prices = prices[len(prices)-days:]
	}

	s.log.Debug().Str("ticker", ticker).Int("bars", len(prices)).Msg("Fetched daily bars")
	return prices, nil
}

// parseStooqCSV parses the Date,Open,High,Low,Close,Volume CSV body.
// Rows are returned in chronological order as served.
func parseStooqCSV(body string) ([]DailyPrice, error) {
	reader := csv.NewReader(strings.NewReader(body))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("no data rows in response")
	}

	var prices []DailyPrice
	for _, rec := range records[1:] {
		if len(rec) < 5 {
			continue
		}

		open, err1 := strconv.ParseFloat(rec[1], 64)
		high, err2 := strconv.ParseFloat(rec[2], 64)
		low, err3 := strconv.ParseFloat(rec[3], 64)
		closePx, err4 := strconv.ParseFloat(rec[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || closePx <= 0 {
			continue
		}

		p := DailyPrice{
			Date:  rec[0],
			Open:  open,
			High:  high,
			Low:   low,
			Close: closePx,
		}

		if len(rec) >= 6 {
			if vol, err := strconv.ParseFloat(rec[5], 64); err == nil {
				v := int64(vol)
				p.Volume = &v
			}
		}

		prices = append(prices, p)
	}

	return prices, nil
}
