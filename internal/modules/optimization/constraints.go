package optimization

import (
	"strconv"
	"strings"
)

// SectorConstraint caps the combined weight of a group of tickers.
type SectorConstraint struct {
	SectorMapper map[string]string  // ticker -> sector
	SectorLower  map[string]float64 // sector -> minimum combined weight
	SectorUpper  map[string]float64 // sector -> maximum combined weight
}

// Constraints holds the parsed constraint set for an optimization run.
type Constraints struct {
	MinWeight     float64
	MaxWeight     float64
	MaxVolatility *float64
	Sectors       []SectorConstraint
	Ignored       []string // constraint strings that could not be interpreted
}

// DefaultMaxWeight caps single positions when no constraint is given.
const DefaultMaxWeight = 0.5

// defaultSectors maps well-known US tickers to sector buckets for
// `sector_<name> <limit>` constraints.
var defaultSectors = map[string][]string{
	"tech":   {"AAPL", "MSFT", "NVDA", "GOOGL", "META"},
	"fin":    {"JPM", "V", "BAC", "GS", "AXP"},
	"health": {"JNJ", "UNH", "PFE", "MRK", "ABBV"},
	"cons":   {"MCD", "PG", "KO", "WMT", "SBUX"},
	"energy": {"XOM", "CVX"},
}

// ParseConstraints interprets the constraint strings accepted by
// solve_portfolio:
//
//	max_weight 0.3
//	min_weight 0.05
//	sector_tech 0.4
//	max_volatility 0.25
//
// Strings that cannot be interpreted are collected in Ignored and echoed
// back to the caller rather than silently dropped.
func ParseConstraints(items []string) Constraints {
	c := Constraints{
		MinWeight: 0,
		MaxWeight: DefaultMaxWeight,
	}

	sectorLimits := make(map[string]float64)

	for _, raw := range items {
		fields := strings.Fields(strings.TrimSpace(raw))
		if len(fields) != 2 {
			c.Ignored = append(c.Ignored, raw)
			continue
		}

		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			c.Ignored = append(c.Ignored, raw)
			continue
		}

		key := strings.ToLower(fields[0])
		switch {
		case key == "max_weight":
			c.MaxWeight = value
		case key == "min_weight":
			c.MinWeight = value
		case key == "max_volatility":
			v := value
			c.MaxVolatility = &v
		case strings.HasPrefix(key, "sector_"):
			sector := strings.TrimPrefix(key, "sector_")
			if _, known := defaultSectors[sector]; known {
				sectorLimits[sector] = value
			} else {
				c.Ignored = append(c.Ignored, raw)
			}
		default:
			c.Ignored = append(c.Ignored, raw)
		}
	}

	if len(sectorLimits) > 0 {
		c.Sectors = append(c.Sectors, buildSectorConstraint(sectorLimits))
	}

	return c
}

// buildSectorConstraint maps the built-in sector groups into a single
// SectorConstraint with upper limits.
func buildSectorConstraint(limits map[string]float64) SectorConstraint {
	sc := SectorConstraint{
		SectorMapper: make(map[string]string),
		SectorLower:  make(map[string]float64),
		SectorUpper:  make(map[string]float64),
	}

	for sector, limit := range limits {
		for _, ticker := range defaultSectors[sector] {
			sc.SectorMapper[ticker] = sector
		}
		sc.SectorUpper[sector] = limit
	}

	return sc
}

// Bounds expands the scalar weight bounds into per-ticker maps.
func (c Constraints) Bounds(tickers []string) (map[string]float64, map[string]float64) {
	minW := make(map[string]float64, len(tickers))
	maxW := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		minW[t] = c.MinWeight
		maxW[t] = c.MaxWeight
	}
	return minW, maxW
}
