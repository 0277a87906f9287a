package marketdata

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcportfolio/mcportfolio/internal/database"
)

// stubSource serves canned price series and records call counts.
type stubSource struct {
	name   string
	series map[string][]DailyPrice
	err    error
	calls  int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchDaily(ctx context.Context, ticker string, days int) ([]DailyPrice, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	prices, ok := s.series[ticker]
	if !ok {
		return nil, fmt.Errorf("unknown ticker %s", ticker)
	}
	if len(prices) > days {
		prices = prices[len(prices)-days:]
	}
	return prices, nil
}

func makeSeries(start float64, dailyStep float64, days int) []DailyPrice {
	end := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	prices := make([]DailyPrice, days)
	px := start
	for i := 0; i < days; i++ {
		date := end.AddDate(0, 0, -(days - 1 - i))
		prices[i] = DailyPrice{
			Date:  date.Format("2006-01-02"),
			Open:  px,
			High:  px * 1.01,
			Low:   px * 0.99,
			Close: px,
		}
		// Drift plus a deterministic wobble so returns have variance.
		px *= 1 + dailyStep + 0.004*math.Sin(float64(i))
	}
	return prices
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    "file:marketdata_test_" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileStandard,
		Name:    "prices",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func newTestService(t *testing.T, sources ...Source) (*Service, *Store) {
	t.Helper()
	store := newTestStore(t)
	svc := NewService(store, nil, sources, time.Hour, zerolog.Nop())
	return svc, store
}

func TestStoreSaveAndGetPrices(t *testing.T) {
	store := newTestStore(t)

	series := makeSeries(100, 0.01, 10)
	require.NoError(t, store.SavePrices("AAPL", "yahoo", series))

	prices, err := store.GetRecentPrices("AAPL", 5)
	require.NoError(t, err)
	require.Len(t, prices, 5)

	// Chronological order, ending at the most recent date.
	assert.Equal(t, series[len(series)-1].Date, prices[len(prices)-1].Date)
	assert.True(t, prices[0].Date < prices[4].Date)

	latest, err := store.LatestClose("AAPL")
	require.NoError(t, err)
	assert.InDelta(t, series[len(series)-1].Close, latest, 1e-9)

	source, err := store.LatestSource("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "yahoo", source)

	tickers, err := store.TrackedTickers()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, tickers)
}

func TestStoreUpsertOverwrites(t *testing.T) {
	store := newTestStore(t)

	series := makeSeries(100, 0.01, 3)
	require.NoError(t, store.SavePrices("AAPL", "yahoo", series))

	series[2].Close = 999
	require.NoError(t, store.SavePrices("AAPL", "stooq", series))

	count, err := store.CountPrices("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	latest, err := store.LatestClose("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 999.0, latest)
}

func TestHistoryFallsBackAcrossSources(t *testing.T) {
	broken := &stubSource{name: "yahoo", err: fmt.Errorf("unreachable")}
	working := &stubSource{name: "stooq", series: map[string][]DailyPrice{
		"AAPL": makeSeries(100, 0.01, 30),
	}}

	svc, _ := newTestService(t, broken, working)

	prices, source, err := svc.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	assert.Equal(t, "stooq", source)
	assert.Len(t, prices, 30)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, working.calls)
}

func TestHistoryUsesFreshStore(t *testing.T) {
	src := &stubSource{name: "yahoo", series: map[string][]DailyPrice{
		"AAPL": makeSeries(100, 0.01, 30),
	}}

	svc, _ := newTestService(t, src)

	_, _, err := svc.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)

	_, source, err := svc.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)

	assert.Equal(t, "yahoo", source)
	assert.Equal(t, 1, src.calls, "fresh history must be served from the store")
}

func TestDatasetStatistics(t *testing.T) {
	src := &stubSource{name: "yahoo", series: map[string][]DailyPrice{
		"AAPL": makeSeries(100, 0.01, 60),
		"MSFT": makeSeries(200, 0.005, 60),
	}}

	svc, _ := newTestService(t, src)

	ds, err := svc.Dataset(context.Background(), []string{"aapl", "MSFT", "AAPL"}, "1mo")
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, ds.Tickers)
	assert.Equal(t, len(ds.Returns["AAPL"]), ds.NumDays)
	assert.GreaterOrEqual(t, ds.NumDays, 2)
	assert.Empty(t, ds.Note)

	// 1% daily drift annualizes to roughly 252%.
	assert.InDelta(t, 0.01*252, ds.MeanReturns["AAPL"], 0.5)

	require.Len(t, ds.CovMatrix, 2)
	require.Len(t, ds.CovMatrix[0], 2)
	assert.InDelta(t, ds.CovMatrix[0][1], ds.CovMatrix[1][0], 1e-12)
}

func TestDatasetInsufficientData(t *testing.T) {
	src := &stubSource{name: "yahoo", series: map[string][]DailyPrice{
		"AAPL": makeSeries(100, 0.01, 2),
	}}

	svc, _ := newTestService(t, src)

	_, err := svc.Dataset(context.Background(), []string{"AAPL"}, "1y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient data points")
}

func TestDatasetNoTickers(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Dataset(context.Background(), []string{"  ", ""}, "1y")
	require.Error(t, err)
}

func TestDatasetSampleNote(t *testing.T) {
	svc, _ := newTestService(t, NewSampleSource(zerolog.Nop()))

	ds, err := svc.Dataset(context.Background(), []string{"AAPL", "MSFT"}, "1mo")
	require.NoError(t, err)
	assert.Equal(t, SampleNote, ds.Note)
}

func TestLatestPrices(t *testing.T) {
	src := &stubSource{name: "yahoo", series: map[string][]DailyPrice{
		"AAPL": makeSeries(100, 0.01, 10),
	}}

	svc, _ := newTestService(t, src)

	prices, err := svc.LatestPrices(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Greater(t, prices["AAPL"], 100.0)
}

func TestSampleSourceDeterministic(t *testing.T) {
	src := NewSampleSource(zerolog.Nop())

	a, err := src.FetchDaily(context.Background(), "AAPL", 50)
	require.NoError(t, err)
	b, err := src.FetchDaily(context.Background(), "AAPL", 50)
	require.NoError(t, err)

	require.Len(t, a, 50)
	assert.Equal(t, a, b, "sample series must be reproducible")

	c, err := src.FetchDaily(context.Background(), "MSFT", 50)
	require.NoError(t, err)
	assert.NotEqual(t, a[49].Close, c[49].Close, "different tickers get different series")
}

func TestPeriodDays(t *testing.T) {
	assert.Equal(t, 252, PeriodDays("1y"))
	assert.Equal(t, 22, PeriodDays("1mo"))
	assert.Equal(t, 252, PeriodDays("bogus"))
}

func TestParseStooqCSV(t *testing.T) {
	body := "Date,Open,High,Low,Close,Volume\n" +
		"2026-08-21,100.0,102.0,99.0,101.5,1200000\n" +
		"2026-08-22,101.5,103.0,101.0,102.0,900000\n" +
		"2026-08-23,N/D,N/D,N/D,N/D,N/D\n"

	prices, err := parseStooqCSV(body)
	require.NoError(t, err)
	require.Len(t, prices, 2, "unparseable rows are skipped")

	assert.Equal(t, "2026-08-21", prices[0].Date)
	assert.Equal(t, 101.5, prices[0].Close)
	require.NotNil(t, prices[0].Volume)
	assert.Equal(t, int64(1200000), *prices[0].Volume)
}

func TestComputeIndicators(t *testing.T) {
	series := makeSeries(100, 0.01, 120)
	closes := make([]float64, len(series))
	for i, p := range series {
		closes[i] = p.Close
	}

	ind := ComputeIndicators(closes)
	require.NotNil(t, ind.RSI14)
	assert.Greater(t, *ind.RSI14, 50.0, "steady uptrend keeps RSI high")
	require.NotNil(t, ind.SMA50)
	assert.Greater(t, ind.Volatility1Y, 0.0)
	require.NotNil(t, ind.Sharpe)
	assert.Greater(t, *ind.Sharpe, 0.0, "steady uptrend has positive Sharpe")

	short := ComputeIndicators(closes[:5])
	assert.Nil(t, short.RSI14)

	flat := ComputeIndicators(closes[:2])
	assert.Nil(t, flat.Sharpe, "a single return has no Sharpe")
}
