package allocation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
)

// Request is the input to Solve.
type Request struct {
	Weights map[string]float64
	Budget  float64
	Prices  map[string]float64 // optional, fetched when absent
}

// Service turns continuous weights into share counts using latest prices.
type Service struct {
	data *marketdata.Service
	log  zerolog.Logger
}

// NewService creates the discrete allocation service.
func NewService(data *marketdata.Service, log zerolog.Logger) *Service {
	return &Service{
		data: data,
		log:  log.With().Str("module", "allocation").Logger(),
	}
}

// Solve allocates the budget across the weighted tickers. Prices supplied in
// the request take precedence; the rest are fetched from market data.
func (s *Service) Solve(ctx context.Context, req Request) (*Result, error) {
	if len(req.Weights) == 0 {
		return nil, fmt.Errorf("no weights provided")
	}

	prices := make(map[string]float64, len(req.Weights))
	missing := make([]string, 0)
	for ticker := range req.Weights {
		if p, ok := req.Prices[ticker]; ok && p > 0 {
			prices[ticker] = p
		} else {
			missing = append(missing, ticker)
		}
	}

	if len(missing) > 0 {
		fetched, err := s.data.LatestPrices(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch latest prices: %w", err)
		}
		// LatestPrices keys by normalized ticker.
		for _, ticker := range missing {
			if p, ok := fetched[strings.ToUpper(strings.TrimSpace(ticker))]; ok {
				prices[ticker] = p
			}
		}
	}

	return Allocate(req.Weights, prices, req.Budget)
}
