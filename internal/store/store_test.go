package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companywatch/companywatch/internal/report"
	"github.com/companywatch/companywatch/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "watch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureOpenCreatesFlatRowOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p1, err := s.EnsureOpen(ctx, "ACME", now)
	require.NoError(t, err)
	assert.Equal(t, store.StateFlat, p1.State)
	assert.Equal(t, "FADE", p1.CurrentStance)
	assert.False(t, p1.Held())

	p2, err := s.EnsureOpen(ctx, "ACME", now)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
}

func TestOpenPositionSupersedesPriorOpenRow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.EnsureOpen(ctx, "ACME", now)
	require.NoError(t, err)

	pos, err := s.OpenPosition(ctx, store.OpenParams{
		Ticker: "ACME", Direction: store.DirectionLong, Price: 100,
		Reason: "entry", ReportID: "r1",
		Confidence: 80, ReportConfidence: 80, HouseConfidence: 80, Now: now,
	})
	require.NoError(t, err)
	assert.True(t, pos.Held())
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, 100.0, pos.PeakPrice)
	assert.Equal(t, 100.0, pos.TroughPrice)
	assert.Equal(t, "BUY", pos.CurrentStance)

	// Never more than one open row, whatever came before.
	n, err := s.OpenRowCount(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClosePositionRequiresHeld(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.ClosePosition(ctx, store.CloseParams{Ticker: "ACME", Price: 90, Now: now})
	assert.ErrorIs(t, err, store.ErrNoOpenPosition)

	// A FLAT tracking row is still not closable.
	_, err = s.EnsureOpen(ctx, "ACME", now)
	require.NoError(t, err)
	_, err = s.ClosePosition(ctx, store.CloseParams{Ticker: "ACME", Price: 90, Now: now})
	assert.ErrorIs(t, err, store.ErrNoOpenPosition)
}

func TestCloseRecordsExitAndRealisedPnL(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.OpenPosition(ctx, store.OpenParams{
		Ticker: "ACME", Direction: store.DirectionLong, Price: 100, Now: now,
	})
	require.NoError(t, err)

	closed, err := s.ClosePosition(ctx, store.CloseParams{
		Ticker: "ACME", Price: 112, Reason: "profit take", RealisedPnLPct: 12, Now: now,
	})
	require.NoError(t, err)
	assert.Equal(t, store.StateFlat, closed.State)
	assert.Equal(t, 112.0, closed.ExitPrice)
	assert.Equal(t, "FADE", closed.CurrentStance)
	assert.Equal(t, 12.0, closed.RealisedPnLPct)
	require.NotNil(t, closed.ClosedAt)

	open, err := s.GetOpenPosition(ctx, "ACME")
	require.NoError(t, err)
	assert.Nil(t, open)

	trades, err := s.ClosedPositions(ctx, "ACME", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestWatermarksOnlyRatchet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pos, err := s.OpenPosition(ctx, store.OpenParams{
		Ticker: "ACME", Direction: store.DirectionLong, Price: 100, Now: now,
	})
	require.NoError(t, err)

	for _, price := range []float64{105, 95, 118, 110} {
		require.NoError(t, s.UpdateWatermarks(ctx, pos.ID, price))
	}
	pos, err = s.GetOpenPosition(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 118.0, pos.PeakPrice)
	assert.Equal(t, 95.0, pos.TroughPrice)
}

func TestDuckFlagLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pos, err := s.OpenPosition(ctx, store.OpenParams{
		Ticker: "ACME", Direction: store.DirectionLong, Price: 100, Now: now,
	})
	require.NoError(t, err)

	require.NoError(t, s.FlagDuck(ctx, pos.ID, "storm at the open"))
	require.NoError(t, s.RecordDuckExit(ctx, pos.ID, 97.5, now))

	pos, err = s.GetOpenPosition(ctx, "ACME")
	require.NoError(t, err)
	assert.True(t, pos.IsDucking)
	assert.Equal(t, "storm at the open", pos.DuckReason)
	assert.Equal(t, 97.5, pos.DuckExitPrice)
}

func TestDecisionLogRoundTripAndIdempotencyGate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	seen, err := s.HasDecisionForReport(ctx, "ACME", "r1")
	require.NoError(t, err)
	assert.False(t, seen)

	d := &store.Decision{
		Ticker: "ACME", Type: store.DecisionEntry, Trigger: store.TriggerReport,
		ReportID: "r1", OldStance: "FADE", NewStance: "BUY",
		Confidence: 80, ReportConfidence: 75, HouseConfidence: 80,
		Reason: "strong call", PriceAtDecision: 100,
	}
	require.NoError(t, s.AppendDecision(ctx, d))
	assert.NotEmpty(t, d.ID, "id is filled in on append")

	seen, err = s.HasDecisionForReport(ctx, "ACME", "r1")
	require.NoError(t, err)
	assert.True(t, seen)

	ds, err := s.RecentDecisions(ctx, "ACME", 10)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "r1", ds[0].ReportID)
	assert.Equal(t, 80.0, ds[0].HouseConfidence)
	assert.False(t, ds[0].IsOverride)
}

func TestUpsertReportIgnoresDuplicates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	r := report.Report{
		ID: "r1", Ticker: "ACME", Stance: "BUY", Confidence: 80,
		PublishedAt: time.Now().UTC(),
	}
	inserted, err := s.UpsertReport(ctx, r)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.UpsertReport(ctx, r)
	require.NoError(t, err)
	assert.False(t, inserted)

	latest, err := s.LatestReport(ctx, "ACME")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r1", latest.ID)
}

func TestRecentReportsNewestFirstWithLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		_, err := s.UpsertReport(ctx, report.Report{
			ID: []string{"r1", "r2", "r3", "r4"}[i], Ticker: "ACME",
			Stance: "BUY", Confidence: 60 + float64(i),
			PublishedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	reps, err := s.RecentReports(ctx, "ACME", 3)
	require.NoError(t, err)
	require.Len(t, reps, 3)
	assert.Equal(t, "r4", reps[0].ID)
	assert.Equal(t, "r3", reps[1].ID)
	assert.Equal(t, "r2", reps[2].ID)
}

func TestPassivePositionOpensOnceOnly(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p, err := s.EnsurePassivePosition(ctx, "ACME", 100, now)
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.EntryPrice)

	// The benchmark never re-enters at a new price.
	p, err = s.EnsurePassivePosition(ctx, "ACME", 250, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.EntryPrice)
}

func TestSnapshotDedupWindow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	written, err := s.AppendSnapshot(ctx, store.Snapshot{
		Ticker: "ACME", Timestamp: base, Price: 100,
	}, 50*time.Minute)
	require.NoError(t, err)
	assert.True(t, written)

	// 10 minutes later: suppressed.
	written, err = s.AppendSnapshot(ctx, store.Snapshot{
		Ticker: "ACME", Timestamp: base.Add(10 * time.Minute), Price: 101,
	}, 50*time.Minute)
	require.NoError(t, err)
	assert.False(t, written)

	// Past the window: recorded.
	written, err = s.AppendSnapshot(ctx, store.Snapshot{
		Ticker: "ACME", Timestamp: base.Add(51 * time.Minute), Price: 102,
	}, 50*time.Minute)
	require.NoError(t, err)
	assert.True(t, written)

	latest, err := s.LatestSnapshot(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 102.0, latest.Price)
}

func TestFirstSnapshotSince(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, price := range []float64{100, 104, 108} {
		_, err := s.AppendSnapshot(ctx, store.Snapshot{
			Ticker: "ACME", Timestamp: base.Add(time.Duration(i) * time.Hour), Price: price,
		}, 0)
		require.NoError(t, err)
	}

	sn, err := s.FirstSnapshotSince(ctx, "ACME", base.Add(30*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, sn)
	assert.Equal(t, 104.0, sn.Price)

	sn, err = s.FirstSnapshotSince(ctx, "ACME", base.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, sn)
}

func TestDailySummaryUpsertReplaces(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	pnl := 3.5
	require.NoError(t, s.UpsertDailySummary(ctx, store.DailySummary{
		Ticker: "ACME", Date: "2026-08-27", ClosePrice: 100, ActivePnLPct: &pnl,
	}))
	pnl2 := 4.2
	require.NoError(t, s.UpsertDailySummary(ctx, store.DailySummary{
		Ticker: "ACME", Date: "2026-08-27", ClosePrice: 101, ActivePnLPct: &pnl2,
	}))

	days, err := s.DailySummaries(ctx, "ACME", 10)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 101.0, days[0].ClosePrice)
	require.NotNil(t, days[0].ActivePnLPct)
	assert.Equal(t, 4.2, *days[0].ActivePnLPct)
}
