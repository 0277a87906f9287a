package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mcportfolio/mcportfolio/internal/database"
	"github.com/mcportfolio/mcportfolio/internal/modules/calculations"
	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
)

// SystemHandlers handles system monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	pricesDB    *database.DB
	cacheDB     *database.DB
	store       *marketdata.Store
	runs        *calculations.RunLog
}

// NewSystemHandlers creates system monitoring handlers.
func NewSystemHandlers(log zerolog.Logger, pricesDB, cacheDB *database.DB, store *marketdata.Store, runs *calculations.RunLog) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system").Logger(),
		startupTime: time.Now(),
		pricesDB:    pricesDB,
		cacheDB:     cacheDB,
		store:       store,
		runs:        runs,
	}
}

// HandleSystemStatus reports process and storage health.
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := h.systemUsage()

	databases := map[string]string{}
	for name, db := range map[string]*database.DB{"prices": h.pricesDB, "cache": h.cacheDB} {
		if db == nil {
			continue
		}
		if err := db.HealthCheck(r.Context()); err != nil {
			databases[name] = "unhealthy: " + err.Error()
		} else {
			databases[name] = "healthy"
		}
	}

	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuAvg,
		"ram_percent":    ramPercent,
		"databases":      databases,
	}

	if h.store != nil {
		if tickers, err := h.store.TrackedTickers(); err == nil {
			status["tracked_tickers"] = len(tickers)
		}
	}

	writeJSON(h.log, w, http.StatusOK, status)
}

// HandleRunStats reports per-tool invocation statistics.
// GET /api/system/runs
func (h *SystemHandlers) HandleRunStats(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(h.log, w, http.StatusOK, []interface{}{})
		return
	}

	stats, err := h.runs.Stats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load run stats")
		http.Error(w, "failed to load run stats", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []calculations.RunStats{}
	}

	writeJSON(h.log, w, http.StatusOK, stats)
}

// systemUsage samples CPU over a short window and reads memory stats.
func (h *SystemHandlers) systemUsage() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func writeJSON(log zerolog.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
