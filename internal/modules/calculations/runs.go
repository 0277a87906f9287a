package calculations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcportfolio/mcportfolio/internal/database"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS tool_runs (
	id          TEXT PRIMARY KEY,
	tool        TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	ok          INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tool_runs_tool ON tool_runs(tool, created_at);
`

// RunLog records every tool invocation for later inspection.
type RunLog struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRunLog creates the run log and applies its schema.
func NewRunLog(db *database.DB, log zerolog.Logger) (*RunLog, error) {
	if err := db.Migrate(runsSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate tool_runs schema: %w", err)
	}

	return &RunLog{
		db:  db,
		log: log.With().Str("module", "runs").Logger(),
	}, nil
}

// Record stores one tool invocation and returns its run id.
func (r *RunLog) Record(ctx context.Context, tool string, duration time.Duration, ok bool) string {
	id := uuid.NewString()

	okVal := 0
	if ok {
		okVal = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tool_runs (id, tool, duration_ms, ok, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, tool, duration.Milliseconds(), okVal, time.Now().Unix(),
	)
	if err != nil {
		r.log.Warn().Err(err).Str("tool", tool).Msg("Failed to record tool run")
	}
	return id
}

// RunStats summarizes recorded invocations of one tool.
type RunStats struct {
	Tool      string  `json:"tool"`
	Count     int64   `json:"count"`
	Failures  int64   `json:"failures"`
	AvgMillis float64 `json:"avg_ms"`
}

// Stats aggregates per-tool run counts, failures and average duration.
func (r *RunLog) Stats(ctx context.Context) ([]RunStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tool, COUNT(*), SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), AVG(duration_ms)
		 FROM tool_runs GROUP BY tool ORDER BY tool`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool run stats: %w", err)
	}
	defer rows.Close()

	var out []RunStats
	for rows.Next() {
		var s RunStats
		if err := rows.Scan(&s.Tool, &s.Count, &s.Failures, &s.AvgMillis); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneRunsBefore deletes run records older than the cutoff.
func (r *RunLog) PruneRunsBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM tool_runs WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune tool runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
