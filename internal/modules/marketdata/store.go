package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_prices (
	ticker     TEXT NOT NULL,
	date       INTEGER NOT NULL,
	open       REAL NOT NULL,
	high       REAL NOT NULL,
	low        REAL NOT NULL,
	close      REAL NOT NULL,
	volume     INTEGER,
	source     TEXT NOT NULL,
	fetched_at INTEGER NOT NULL,
	PRIMARY KEY (ticker, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);
`

// Store provides access to the daily price history database.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates the price store and applies its schema.
func NewStore(db *database.DB, log zerolog.Logger) (*Store, error) {
	if err := db.Migrate(schema); err != nil {
		return nil, fmt.Errorf("failed to migrate price schema: %w", err)
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "price_store").Logger(),
	}, nil
}

// SavePrices upserts a batch of daily prices for a ticker.
func (s *Store) SavePrices(ticker, source string, prices []DailyPrice) error {
	if len(prices) == 0 {
		return nil
	}

	fetchedAt := time.Now().Unix()

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO daily_prices (ticker, date, open, high, low, close, volume, source, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ticker, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				source = excluded.source,
				fetched_at = excluded.fetched_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			t, err := time.Parse("2006-01-02", p.Date)
			if err != nil {
				s.log.Warn().Str("ticker", ticker).Str("date", p.Date).Msg("Skipping price row with bad date")
				continue
			}

			var volume interface{}
			if p.Volume != nil {
				volume = *p.Volume
			}

			if _, err := stmt.Exec(ticker, t.Unix(), p.Open, p.High, p.Low, p.Close, volume, source, fetchedAt); err != nil {
				return fmt.Errorf("failed to upsert price for %s on %s: %w", ticker, p.Date, err)
			}
		}

		return nil
	})
}

// GetRecentPrices fetches the most recent `limit` daily prices for a ticker,
// returned in chronological order.
func (s *Store) GetRecentPrices(ticker string, limit int) ([]DailyPrice, error) {
	rows, err := s.db.Query(`
		SELECT date, open, high, low, close, volume
		FROM daily_prices
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT ?
	`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var volume sql.NullInt64
		var dateUnix int64

		if err := rows.Scan(&dateUnix, &p.Open, &p.High, &p.Low, &p.Close, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}

		p.Date = time.Unix(dateUnix, 0).UTC().Format("2006-01-02")
		if volume.Valid {
			p.Volume = &volume.Int64
		}

		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	// Reverse to chronological order.
	for i, j := 0, len(prices)-1; i < j; i, j = i+1, j-1 {
		prices[i], prices[j] = prices[j], prices[i]
	}

	return prices, nil
}

// LatestClose returns the most recent close for a ticker.
func (s *Store) LatestClose(ticker string) (float64, error) {
	var closePx float64
	err := s.db.QueryRow(`
		SELECT close FROM daily_prices
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT 1
	`, ticker).Scan(&closePx)
	if err != nil {
		return 0, fmt.Errorf("no price history for %s: %w", ticker, err)
	}
	return closePx, nil
}

// LatestSource returns the source that produced the most recent row.
func (s *Store) LatestSource(ticker string) (string, error) {
	var source string
	err := s.db.QueryRow(`
		SELECT source FROM daily_prices
		WHERE ticker = ?
		ORDER BY date DESC
		LIMIT 1
	`, ticker).Scan(&source)
	if err != nil {
		return "", fmt.Errorf("no price history for %s: %w", ticker, err)
	}
	return source, nil
}

// LastFetched returns when a ticker's history was last refreshed.
func (s *Store) LastFetched(ticker string) (time.Time, bool) {
	var fetchedAt int64
	err := s.db.QueryRow(`
		SELECT MAX(fetched_at) FROM daily_prices WHERE ticker = ?
	`, ticker).Scan(&fetchedAt)
	if err != nil || fetchedAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(fetchedAt, 0), true
}

// CountPrices returns how many rows are stored for a ticker.
func (s *Store) CountPrices(ticker string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM daily_prices WHERE ticker = ?`, ticker).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count prices for %s: %w", ticker, err)
	}
	return count, nil
}

// TrackedTickers returns every ticker with stored history.
func (s *Store) TrackedTickers() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT ticker FROM daily_prices ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}

	return tickers, rows.Err()
}

// PruneOlderThan removes rows older than the given number of calendar days.
func (s *Store) PruneOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()

	res, err := s.db.Exec(`DELETE FROM daily_prices WHERE date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune old prices: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info().Int64("pruned", n).Int("days", days).Msg("Pruned old price history")
	}
	return n, nil
}
