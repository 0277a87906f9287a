package marketdata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/modules/calculations"
	"github.com/mcportfolio/mcportfolio/pkg/formulas"
)

// Source fetches daily price history for a single ticker.
type Source interface {
	Name() string
	FetchDaily(ctx context.Context, ticker string, days int) ([]DailyPrice, error)
}

// Service retrieves price history through a source chain and derives the
// aligned datasets the solvers consume. Sources are tried in order; the
// sample generator sits last so the chain never comes back empty.
type Service struct {
	store   *Store
	cache   *calculations.Cache
	sources []Source
	ttl     time.Duration
	log     zerolog.Logger
}

// NewService creates a market data service.
// cache may be nil, in which case datasets are rebuilt on every call.
func NewService(store *Store, cache *calculations.Cache, sources []Source, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		cache:   cache,
		sources: sources,
		ttl:     ttl,
		log:     log.With().Str("module", "marketdata").Logger(),
	}
}

// NormalizeTickers uppercases, trims and dedupes a ticker list,
// preserving first-seen order.
func NormalizeTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// History returns up to `days` daily prices for a ticker in chronological
// order, along with the name of the source that produced them. Stored
// history is reused while it is fresh.
func (s *Service) History(ctx context.Context, ticker string, days int) ([]DailyPrice, string, error) {
	if fetched, ok := s.store.LastFetched(ticker); ok && time.Since(fetched) < s.ttl {
		count, err := s.store.CountPrices(ticker)
		if err == nil && count >= days {
			prices, err := s.store.GetRecentPrices(ticker, days)
			if err == nil && len(prices) > 0 {
				source, _ := s.store.LatestSource(ticker)
				return prices, source, nil
			}
		}
	}

	var lastErr error
	for _, src := range s.sources {
		prices, err := src.FetchDaily(ctx, ticker, days)
		if err != nil {
			lastErr = err
			s.log.Warn().Err(err).Str("ticker", ticker).Str("source", src.Name()).Msg("Source failed, trying next")
			continue
		}

		if err := s.store.SavePrices(ticker, src.Name(), prices); err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to persist price history")
		}

		return prices, src.Name(), nil
	}

	return nil, "", fmt.Errorf("all sources failed for %s: %w", ticker, lastErr)
}

// ForceRefresh fetches fresh history for a ticker, bypassing stored data.
func (s *Service) ForceRefresh(ctx context.Context, ticker string, days int) error {
	for _, src := range s.sources {
		prices, err := src.FetchDaily(ctx, ticker, days)
		if err != nil {
			continue
		}
		return s.store.SavePrices(ticker, src.Name(), prices)
	}
	return fmt.Errorf("all sources failed for %s", ticker)
}

// Dataset builds an aligned dataset for a ticker set over a period.
// Prices are intersected on common dates, returns require at least two
// observations, and mean returns and the covariance matrix are annualized.
func (s *Service) Dataset(ctx context.Context, tickers []string, period string) (*Dataset, error) {
	tickers = NormalizeTickers(tickers)
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers provided")
	}

	days := PeriodDays(period)

	cacheKey := calculations.HashTickers(tickers) + ":" + period
	if s.cache != nil {
		var cached Dataset
		if s.cache.GetInto("dataset", cacheKey, &cached) {
			s.log.Debug().Strs("tickers", tickers).Str("period", period).Msg("Using cached dataset")
			return &cached, nil
		}
	}

	history := make(map[string][]DailyPrice, len(tickers))
	sampleUsed := false
	for _, ticker := range tickers {
		prices, source, err := s.History(ctx, ticker, days)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve data for %s: %w", ticker, err)
		}
		if len(prices) == 0 {
			return nil, fmt.Errorf("no data available for tickers: %s", ticker)
		}
		if source == "sample" {
			sampleUsed = true
		}
		history[ticker] = prices
	}

	dataset, err := buildDataset(tickers, history)
	if err != nil {
		return nil, err
	}
	if sampleUsed {
		dataset.Note = SampleNote
	}

	if s.cache != nil {
		if err := s.cache.SetFrom("dataset", cacheKey, dataset, calculations.TTLDataset); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache dataset")
		}
	}

	return dataset, nil
}

// LatestPrices returns the most recent close per ticker. Used by the
// discrete allocator, which needs spot prices rather than a full dataset.
func (s *Service) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	tickers = NormalizeTickers(tickers)
	prices := make(map[string]float64, len(tickers))

	for _, ticker := range tickers {
		history, _, err := s.History(ctx, ticker, 5)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve price for %s: %w", ticker, err)
		}
		if len(history) == 0 {
			return nil, fmt.Errorf("no price available for %s", ticker)
		}
		prices[ticker] = history[len(history)-1].Close
	}

	return prices, nil
}

// RefreshTracked re-fetches history for every stored ticker.
func (s *Service) RefreshTracked(ctx context.Context, days int) error {
	tickers, err := s.store.TrackedTickers()
	if err != nil {
		return err
	}

	var failed int
	for _, ticker := range tickers {
		if err := s.ForceRefresh(ctx, ticker, days); err != nil {
			failed++
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Refresh failed")
		}
	}

	s.log.Info().Int("tickers", len(tickers)).Int("failed", failed).Msg("Refreshed tracked tickers")
	return nil
}

// buildDataset aligns histories on common dates and derives statistics.
func buildDataset(tickers []string, history map[string][]DailyPrice) (*Dataset, error) {
	// Intersect dates across all tickers.
	dateCounts := make(map[string]int)
	closes := make(map[string]map[string]float64, len(tickers))
	for _, ticker := range tickers {
		byDate := make(map[string]float64, len(history[ticker]))
		for _, p := range history[ticker] {
			if _, dup := byDate[p.Date]; dup {
				continue
			}
			byDate[p.Date] = p.Close
			dateCounts[p.Date]++
		}
		closes[ticker] = byDate
	}

	var dates []string
	for date, count := range dateCounts {
		if count == len(tickers) {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)

	if len(dates) < 3 {
		return nil, fmt.Errorf("insufficient data points for tickers: %s. Need at least 2 days of returns, got %d", strings.Join(tickers, ", "), max(0, len(dates)-1))
	}

	prices := make(map[string][]float64, len(tickers))
	returns := make(map[string][]float64, len(tickers))
	meanReturns := make(map[string]float64, len(tickers))
	for _, ticker := range tickers {
		series := make([]float64, len(dates))
		for i, date := range dates {
			series[i] = closes[ticker][date]
		}
		prices[ticker] = series

		rets := formulas.CalculateReturns(series)
		returns[ticker] = rets
		meanReturns[ticker] = formulas.AnnualizedMeanReturn(rets)
	}

	cov, err := formulas.SampleCovariance(returns, tickers)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate covariance: %w", err)
	}

	// Annualize and validate.
	allZero := true
	for i := range cov {
		for j := range cov[i] {
			cov[i][j] *= formulas.TradingDaysPerYear
			if math.IsNaN(cov[i][j]) || math.IsInf(cov[i][j], 0) {
				return nil, fmt.Errorf("invalid covariance matrix: contains NaN values")
			}
			if cov[i][j] != 0 {
				allZero = false
			}
		}
	}
	if allZero {
		return nil, fmt.Errorf("invalid covariance matrix: all values are zero")
	}

	numReturns := len(dates) - 1
	return &Dataset{
		Tickers:     tickers,
		Prices:      prices,
		Returns:     returns,
		MeanReturns: meanReturns,
		CovMatrix:   cov,
		StartDate:   dates[1],
		EndDate:     dates[len(dates)-1],
		NumDays:     numReturns,
	}, nil
}
