package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/companywatch/companywatch/internal/config"
	"github.com/companywatch/companywatch/internal/store"
)

var thresholds = config.Default("ACME").Thresholds

func TestPnLLongAndShortMirror(t *testing.T) {
	assert.InDelta(t, 10, PnL(100, 110, store.DirectionLong), 1e-9)
	assert.InDelta(t, -10, PnL(100, 110, store.DirectionShort), 1e-9)
	assert.InDelta(t, -5, PnL(200, 190, store.DirectionLong), 1e-9)
	assert.InDelta(t, 5, PnL(200, 190, store.DirectionShort), 1e-9)
}

func TestPnLRoundTripIsZero(t *testing.T) {
	// Entering and exiting at the same price must net to exactly zero.
	assert.Zero(t, PnL(123.45, 123.45, store.DirectionLong))
	assert.Zero(t, PnL(123.45, 123.45, store.DirectionShort))
}

func TestPnLZeroEntryIsZeroNotNaN(t *testing.T) {
	assert.Zero(t, PnL(0, 50, store.DirectionLong))
}

func TestHardStopInclusiveBoundary(t *testing.T) {
	fired, _ := HardStop(-14.99, thresholds)
	assert.False(t, fired)
	fired, reason := HardStop(-15, thresholds)
	assert.True(t, fired)
	assert.Contains(t, reason, "HARD STOP")
	fired, _ = HardStop(-22, thresholds)
	assert.True(t, fired)
}

func TestProfitProtectNeedsArmedPeak(t *testing.T) {
	// Peak never reached the profit-take level: drawdown alone is not enough.
	fired, _ := ProfitProtect(2, 10, thresholds)
	assert.False(t, fired)

	// Armed peak, insufficient retrace.
	fired, _ = ProfitProtect(14, 16, thresholds)
	assert.False(t, fired)

	// Armed peak, retrace at the threshold.
	fired, reason := ProfitProtect(11, 16, thresholds)
	assert.True(t, fired)
	assert.Contains(t, reason, "PROFIT PROTECT")
}

func TestStrongProfitTakeRespectsConviction(t *testing.T) {
	fired, _ := StrongProfitTake(26, 80, thresholds)
	assert.False(t, fired, "high conviction lets the winner ride")
	fired, _ = StrongProfitTake(26, 60, thresholds)
	assert.True(t, fired)
	fired, _ = StrongProfitTake(20, 60, thresholds)
	assert.False(t, fired, "below the strong level nothing fires")
}

func TestMarketCrashOnlyProtectsLongs(t *testing.T) {
	fired, _ := MarketCrash(-3.2, store.DirectionLong, thresholds)
	assert.True(t, fired)
	fired, _ = MarketCrash(-3.2, store.DirectionShort, thresholds)
	assert.False(t, fired)
	fired, _ = MarketCrash(-2.1, store.DirectionLong, thresholds)
	assert.False(t, fired)
}

func TestHorseBoltedIsDirectionAware(t *testing.T) {
	// Long hurt by a drop since the report.
	fired, _ := HorseBolted(100, 91, store.DirectionLong, thresholds)
	assert.True(t, fired)
	// The same drop helps a short.
	fired, _ = HorseBolted(100, 91, store.DirectionShort, thresholds)
	assert.False(t, fired)
	// Short hurt by a rally.
	fired, _ = HorseBolted(100, 109, store.DirectionShort, thresholds)
	assert.True(t, fired)
	// No reference price: never fires.
	fired, _ = HorseBolted(0, 109, store.DirectionLong, thresholds)
	assert.False(t, fired)
}

func TestSoftStopBoundary(t *testing.T) {
	assert.False(t, SoftStop(-9.9, thresholds))
	assert.True(t, SoftStop(-10, thresholds))
}
