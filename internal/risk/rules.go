// Package risk holds the pure threshold rules the surveillance
// cascade evaluates. Each rule returns whether it fired and a
// human-readable reason for the decision log.
package risk

import (
	"fmt"

	"github.com/companywatch/companywatch/internal/config"
	"github.com/companywatch/companywatch/internal/store"
)

// PnL returns the percentage profit/loss for a position entered at
// entry and marked at price. SHORT inverts the sign.
func PnL(entry, price float64, direction string) float64 {
	if entry == 0 {
		return 0
	}
	if direction == store.DirectionShort {
		return (entry - price) / entry * 100
	}
	return (price - entry) / entry * 100
}

// HardStop fires when the loss reaches the hard stop, inclusive.
func HardStop(currentPnL float64, t config.Thresholds) (bool, string) {
	if currentPnL <= t.LossStopHardPct {
		return true, fmt.Sprintf("HARD STOP: P&L at %.1f%% exceeds hard stop of %.1f%%",
			currentPnL, t.LossStopHardPct)
	}
	return false, ""
}

// ProfitProtect fires once the peak watermark has reached the
// profit-take level and the position has since retraced by at least
// the drawdown threshold.
func ProfitProtect(currentPnL, peakPnL float64, t config.Thresholds) (bool, string) {
	if peakPnL < t.ProfitTakePct {
		return false, ""
	}
	drawdown := peakPnL - currentPnL
	if drawdown >= t.DrawdownFromPeakPct {
		return true, fmt.Sprintf("PROFIT PROTECT: Peak P&L was %.1f%%, now %.1f%% (drawdown %.1f%%)",
			peakPnL, currentPnL, drawdown)
	}
	return false, ""
}

// StrongProfitTake fires at the strong profit level unless the latest
// report is confident enough to let the gain ride.
func StrongProfitTake(currentPnL, reportConfidence float64, t config.Thresholds) (bool, string) {
	if currentPnL >= t.ProfitTakeStrongPct && reportConfidence < t.RideConfidenceMin {
		return true, fmt.Sprintf("PROFIT TAKE: P&L at %.1f%% with report confidence only %.0f%%",
			currentPnL, reportConfidence)
	}
	return false, ""
}

// MarketCrash fires when the macro proxy is down past the crash
// threshold while long. Shorts benefit from a crash and are left
// alone.
func MarketCrash(macroChangePct float64, direction string, t config.Thresholds) (bool, string) {
	if macroChangePct <= t.MarketCrashPct && direction == store.DirectionLong {
		return true, fmt.Sprintf("MARKET CRASH OVERRIDE: index down %.1f%%, protecting long position",
			macroChangePct)
	}
	return false, ""
}

// HorseBolted fires when price has moved against the held direction
// by at least the override threshold since the report landed. The
// thesis is presumed invalidated by a move the report could not have
// known about.
func HorseBolted(reportPrice, price float64, direction string, t config.Thresholds) (bool, string) {
	if reportPrice == 0 {
		return false, ""
	}
	move := (price - reportPrice) / reportPrice * 100
	if direction == store.DirectionLong && move <= -t.OverridePriceMovePct {
		return true, fmt.Sprintf("HORSE BOLTED: Price down %.1f%% since report, thesis may be invalidated", move)
	}
	if direction == store.DirectionShort && move >= t.OverridePriceMovePct {
		return true, fmt.Sprintf("HORSE BOLTED: Price up %.1f%% since report, short thesis may be wrong", move)
	}
	return false, ""
}

// SoftStop reports whether the loss has reached the advisor-assisted
// soft stop level.
func SoftStop(currentPnL float64, t config.Thresholds) bool {
	return currentPnL <= t.LossStopPct
}
