// Package main is the entry point for the mcportfolio tool server.
// It exposes the portfolio construction tools over a JSON-RPC 2.0
// interface on either stdio or HTTP, depending on MCP_TRANSPORT.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcportfolio/mcportfolio/internal/config"
	"github.com/mcportfolio/mcportfolio/internal/database"
	"github.com/mcportfolio/mcportfolio/internal/mcp"
	"github.com/mcportfolio/mcportfolio/internal/modules/allocation"
	"github.com/mcportfolio/mcportfolio/internal/modules/blacklitterman"
	"github.com/mcportfolio/mcportfolio/internal/modules/calculations"
	"github.com/mcportfolio/mcportfolio/internal/modules/convex"
	"github.com/mcportfolio/mcportfolio/internal/modules/hierarchical"
	"github.com/mcportfolio/mcportfolio/internal/modules/marketdata"
	"github.com/mcportfolio/mcportfolio/internal/modules/optimization"
	"github.com/mcportfolio/mcportfolio/internal/scheduler"
	"github.com/mcportfolio/mcportfolio/internal/server"
	"github.com/mcportfolio/mcportfolio/internal/tools"
	"github.com/mcportfolio/mcportfolio/pkg/logger"
)

const (
	serverName = "mcportfolio"

	// refreshDays is the trading-day window the scheduled refresh keeps warm.
	// Two years of daily bars cover the default dataset period for every tool.
	refreshDays = 504

	// retentionDays bounds how much price and run history maintenance keeps.
	retentionDays = 365 * 3

	refreshSchedule     = "0 30 2 * * *" // daily at 02:30
	maintenanceSchedule = "0 0 * * * *"  // hourly
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// main wires the application together:
//  1. Load configuration from environment variables (.env supported)
//  2. Initialize structured logging (stderr when serving on stdio)
//  3. Open the prices and cache databases
//  4. Build the market data service with its source chain
//  5. Build the solver services and the tool registry
//  6. Start scheduled refresh and maintenance jobs
//  7. Serve JSON-RPC on stdio or HTTP until interrupted
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
			Out:    os.Stderr,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// On the stdio transport stdout carries the JSON-RPC stream, so logs
	// must go to stderr or they would corrupt the protocol.
	logOut := os.Stdout
	if cfg.Transport == config.TransportStdio {
		logOut = os.Stderr
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
		Out:    logOut,
	})
	logger.SetGlobalLogger(log)

	version := getEnv("VERSION", "dev")
	log.Info().Str("version", version).Str("transport", cfg.Transport).Msg("Starting mcportfolio")

	pricesDB, err := database.New(database.Config{
		Path:    cfg.PricesDBPath(),
		Profile: database.ProfileStandard,
		Name:    "prices",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open prices database")
	}
	defer pricesDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    cfg.CacheDBPath(),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	store, err := marketdata.NewStore(pricesDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price store")
	}

	cache, err := calculations.New(cacheDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize calculations cache")
	}

	runs, err := calculations.NewRunLog(cacheDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize run log")
	}

	// Sources are tried in order. The sample source sits last so the
	// server keeps answering when both remote providers are unreachable.
	sources := []marketdata.Source{
		marketdata.NewYahooSource(log),
		marketdata.NewStooqSource(log),
		marketdata.NewSampleSource(log),
	}

	dataTTL := time.Duration(cfg.DataTTLHours) * time.Hour
	dataSvc := marketdata.NewService(store, cache, sources, dataTTL, log)

	registry := tools.NewRegistry(tools.Services{
		MarketData:     dataSvc,
		Optimization:   optimization.NewService(dataSvc, cache, cfg.RiskFreeRate, log),
		BlackLitterman: blacklitterman.NewService(dataSvc, cache, log),
		Hierarchical:   hierarchical.NewService(dataSvc, cache, log),
		Allocation:     allocation.NewService(dataSvc, log),
		Convex:         convex.NewService(log),
		Runs:           runs,
		Version:        version,
	}, log)

	mcpServer := mcp.NewServer(registry, serverName, version, log)

	sched := scheduler.New(log)
	if err := sched.AddJob(refreshSchedule, marketdata.NewRefreshJob(dataSvc, refreshDays, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule refresh job")
	}
	maintenance := marketdata.NewMaintenanceJob(store, cache, runs, []*database.DB{pricesDB, cacheDB}, retentionDays, log)
	if err := sched.AddJob(maintenanceSchedule, maintenance); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule maintenance job")
	}
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Transport {
	case config.TransportStdio:
		log.Info().Msg("Serving JSON-RPC on stdio")
		if err := mcpServer.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("Stdio transport failed")
		}

	case config.TransportHTTP:
		srv := server.New(server.Config{
			Log:      log,
			Port:     cfg.Port,
			DevMode:  cfg.DevMode,
			Version:  version,
			MCP:      mcpServer,
			PricesDB: pricesDB,
			CacheDB:  cacheDB,
			Store:    store,
			Runs:     runs,
		})

		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("Failed to start server")
			}
		}()
		log.Info().Int("port", cfg.Port).Msg("Server started successfully")

		<-ctx.Done()

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}

	log.Info().Msg("Server stopped")
}
