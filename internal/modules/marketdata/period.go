package marketdata

// periodDays maps a retrieval period to the number of trading days it covers.
var periodDays = map[string]int{
	"1d":  1,
	"5d":  5,
	"1mo": 22,
	"3mo": 66,
	"6mo": 132,
	"1y":  252,
	"2y":  504,
	"5y":  1260,
	"10y": 2520,
	"ytd": 200,
	"max": 2520,
}

// DefaultPeriod is used when a tool call omits the period.
const DefaultPeriod = "1y"

// PeriodDays returns the trading-day count for a period, defaulting to one
// year for unknown values.
func PeriodDays(period string) int {
	if days, ok := periodDays[period]; ok {
		return days
	}
	return periodDays[DefaultPeriod]
}

// ValidPeriods lists the accepted period strings for tool schemas.
func ValidPeriods() []string {
	return []string{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd", "max"}
}
