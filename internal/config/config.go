// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Transport selects how the tool server accepts requests.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for all databases (always absolute)
	Port         int
	Transport    string // "stdio" or "http"
	LogLevel     string
	DevMode      bool
	RiskFreeRate float64 // Default annual risk-free rate for Sharpe calculations
	DataTTLHours int     // Hours before cached price history is considered stale
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Data directory: env var, else ./data, always absolute and created.
	dataDir := getEnv("MCPORTFOLIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		Port:         getEnvAsInt("GO_PORT", 8000),
		Transport:    getEnv("MCP_TRANSPORT", TransportStdio),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		RiskFreeRate: getEnvAsFloat("RISK_FREE_RATE", 0.04),
		DataTTLHours: getEnvAsInt("DATA_TTL_HOURS", 24),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("invalid MCP_TRANSPORT %q: must be %q or %q", c.Transport, TransportStdio, TransportHTTP)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT %d", c.Port)
	}

	if c.RiskFreeRate < -1 || c.RiskFreeRate > 1 {
		return fmt.Errorf("invalid RISK_FREE_RATE %v: expected a decimal rate", c.RiskFreeRate)
	}

	return nil
}

// PricesDBPath returns the path of the price history database
func (c *Config) PricesDBPath() string {
	return filepath.Join(c.DataDir, "prices.db")
}

// CacheDBPath returns the path of the calculations cache database
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
