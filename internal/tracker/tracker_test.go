package tracker_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companywatch/companywatch/internal/config"
	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/store"
	"github.com/companywatch/companywatch/internal/tracker"
)

func newTracker(t *testing.T) (*tracker.Tracker, *store.Store, *marketdata.Mock) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "watch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.Default("ACME")
	cfg.SnapshotDedupeMinutes = 1 // keep tests out of the dedup window's way
	md := marketdata.NewMock()
	return tracker.New(cfg, s, md), s, md
}

func TestFirstTrackSeedsPassiveBenchmark(t *testing.T) {
	trk, s, md := newTracker(t)
	ctx := context.Background()

	md.SetQuote("ACME", marketdata.Quote{Price: 100, ChangePct: 1.2})
	require.NoError(t, trk.Track(ctx, "ACME"))

	passive, err := s.GetPassivePosition(ctx, "ACME")
	require.NoError(t, err)
	require.NotNil(t, passive)
	assert.Equal(t, 100.0, passive.EntryPrice)

	sn, err := s.LatestSnapshot(ctx, "ACME")
	require.NoError(t, err)
	require.NotNil(t, sn)
	assert.Equal(t, 100.0, sn.Price)
	assert.Equal(t, store.StateFlat, sn.ActiveState)
	require.NotNil(t, sn.PassivePnLPct)
	assert.Zero(t, *sn.PassivePnLPct)
}

func TestTrackComputesBothLines(t *testing.T) {
	_, s, md := newTracker(t)
	trk := trackerAt(t, s, md, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	md.SetQuote("ACME", marketdata.Quote{Price: 100})
	require.NoError(t, trk.Track(ctx, "ACME"))

	_, err := s.OpenPosition(ctx, store.OpenParams{
		Ticker: "ACME", Direction: store.DirectionLong, Price: 100, Now: now,
	})
	require.NoError(t, err)

	md.SetQuote("ACME", marketdata.Quote{Price: 110})
	require.NoError(t, trk.Track(ctx, "ACME"))

	sn, err := s.LatestSnapshot(ctx, "ACME")
	require.NoError(t, err)
	require.NotNil(t, sn.ActivePnLPct)
	assert.InDelta(t, 10, *sn.ActivePnLPct, 1e-9)
	require.NotNil(t, sn.PassivePnLPct)
	assert.InDelta(t, 10, *sn.PassivePnLPct, 1e-9)
	assert.Equal(t, store.StateHeld, sn.ActiveState)

	pos, err := s.GetOpenPosition(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 110.0, pos.PeakPrice, "watermark ratcheted by the sample")
}

func TestTrackSuppressesSamplesInsideDedupWindow(t *testing.T) {
	trk, s, md := newTracker(t) // 1-minute window
	ctx := context.Background()

	md.SetQuote("ACME", marketdata.Quote{Price: 100})
	require.NoError(t, trk.Track(ctx, "ACME"))
	md.SetQuote("ACME", marketdata.Quote{Price: 101})
	require.NoError(t, trk.Track(ctx, "ACME"))

	sn, err := s.LatestSnapshot(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 100.0, sn.Price, "back-to-back sample is suppressed")
}

func trackerAt(t *testing.T, s *store.Store, md *marketdata.Mock, dedupeMinutes int) *tracker.Tracker {
	t.Helper()
	cfg := config.Default("ACME")
	cfg.SnapshotDedupeMinutes = dedupeMinutes
	return tracker.New(cfg, s, md)
}

func TestTrackSkipsTickOnQuoteFailure(t *testing.T) {
	trk, s, md := newTracker(t)
	ctx := context.Background()

	md.SetError(marketdata.ErrDataUnavailable)
	require.NoError(t, trk.Track(ctx, "ACME"), "a dead feed is a skipped tick, not an error")

	sn, err := s.LatestSnapshot(ctx, "ACME")
	require.NoError(t, err)
	assert.Nil(t, sn)
}

func TestRollUpDayBuildsOHLCAndAlpha(t *testing.T) {
	trk, s, md := newTracker(t)
	_ = md
	ctx := context.Background()
	day := time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC)

	active1, passive1 := 2.0, 1.0
	active2, passive2 := 5.0, 2.5
	for i, sn := range []store.Snapshot{
		{Price: 100, ActivePnLPct: &active1, PassivePnLPct: &passive1, ActiveState: store.StateHeld},
		{Price: 96},
		{Price: 104, ActivePnLPct: &active2, PassivePnLPct: &passive2, ActiveState: store.StateHeld},
	} {
		sn.Ticker = "ACME"
		sn.Timestamp = day.Add(time.Duration(i) * time.Hour)
		_, err := s.AppendSnapshot(ctx, sn, 0)
		require.NoError(t, err)
	}

	require.NoError(t, trk.RollUpDay(ctx, "ACME", day))

	days, err := s.DailySummaries(ctx, "ACME", 10)
	require.NoError(t, err)
	require.Len(t, days, 1)
	d := days[0]
	assert.Equal(t, "2026-08-27", d.Date)
	assert.Equal(t, 100.0, d.OpenPrice)
	assert.Equal(t, 104.0, d.ClosePrice)
	assert.Equal(t, 104.0, d.HighPrice)
	assert.Equal(t, 96.0, d.LowPrice)
	assert.True(t, d.ActivePositionHeld)
	require.NotNil(t, d.AlphaPct)
	assert.InDelta(t, 2.5, *d.AlphaPct, 1e-9)
}

func TestRollUpDayWithNoSnapshotsIsNoOp(t *testing.T) {
	trk, s, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, trk.RollUpDay(ctx, "ACME", time.Now().UTC()))
	days, err := s.DailySummaries(ctx, "ACME", 10)
	require.NoError(t, err)
	assert.Empty(t, days)
}
