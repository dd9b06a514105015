package engine

import (
	"time"

	"github.com/companywatch/companywatch/internal/config"
)

// dayHours returns the UTC clock time as decimal hours.
func dayHours(t time.Time) float64 {
	t = t.UTC()
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}

func tradingDay(m config.Market, t time.Time) bool {
	wd := int(t.UTC().Weekday())
	for _, d := range m.Days {
		if d == wd {
			return true
		}
	}
	return false
}

// IsMarketOpen reports whether the primary session is live at t.
func IsMarketOpen(m config.Market, t time.Time) bool {
	if !tradingDay(m, t) {
		return false
	}
	h := dayHours(t)
	return h >= m.OpenUTC && h < m.CloseUTC
}

// InPremarketWindow reports whether t falls inside the pre-market
// due-diligence window on a trading day.
func InPremarketWindow(m config.Market, p config.Premarket, t time.Time) bool {
	if !p.Enabled || !tradingDay(m, t) {
		return false
	}
	h := dayHours(t)
	return h >= m.OpenUTC-p.WindowHoursBeforeOpen && h < m.OpenUTC
}

// MinutesSinceOpen returns the whole minutes since today's open, or
// -1 before the bell and on non-trading days.
func MinutesSinceOpen(m config.Market, t time.Time) int {
	if !tradingDay(m, t) {
		return -1
	}
	delta := dayHours(t) - m.OpenUTC
	if delta < 0 {
		return -1
	}
	return int(delta * 60)
}
