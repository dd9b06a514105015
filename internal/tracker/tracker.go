// Package tracker maintains the two P&L lines: it samples prices,
// opens the passive benchmark on the first observation, ratchets the
// active position's watermarks, and rolls each day up into the
// summary table.
package tracker

import (
	"context"
	"time"

	"github.com/companywatch/companywatch/internal/config"
	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/observ"
	"github.com/companywatch/companywatch/internal/risk"
	"github.com/companywatch/companywatch/internal/store"
)

type Tracker struct {
	cfg config.Root
	st  *store.Store
	md  marketdata.Source
	now func() time.Time
}

func New(cfg config.Root, st *store.Store, md marketdata.Source) *Tracker {
	return &Tracker{cfg: cfg, st: st, md: md, now: func() time.Time { return time.Now().UTC() }}
}

// Track samples one price and records a snapshot with both lines'
// P&L. Samples inside the dedup window of the previous one are
// dropped. A failed quote skips the tick.
func (t *Tracker) Track(ctx context.Context, ticker string) error {
	quote, err := t.md.GetQuote(ctx, ticker)
	if err != nil {
		observ.Error("track_skipped_no_price", err, map[string]any{"ticker": ticker})
		return nil
	}
	now := t.now()

	// First observation ever seeds the buy-and-hold benchmark.
	passive, err := t.st.EnsurePassivePosition(ctx, ticker, quote.Price, now)
	if err != nil {
		return err
	}

	pos, err := t.st.GetOpenPosition(ctx, ticker)
	if err != nil {
		return err
	}

	snap := store.Snapshot{
		Ticker:    ticker,
		Timestamp: now,
		Price:     quote.Price,
		Open:      quote.Open,
		High:      quote.High,
		Low:       quote.Low,
		Volume:    quote.Volume,
		ChangePct: quote.ChangePct,
	}
	if pos.Held() {
		pnl := risk.PnL(pos.EntryPrice, quote.Price, pos.Direction)
		snap.ActivePnLPct = &pnl
		snap.ActiveState = store.StateHeld
	} else {
		snap.ActiveState = store.StateFlat
	}
	if passive != nil && passive.EntryPrice > 0 {
		ppnl := (quote.Price - passive.EntryPrice) / passive.EntryPrice * 100
		snap.PassivePnLPct = &ppnl
		observ.SetGauge("passive_pnl_pct", ppnl, map[string]string{"ticker": ticker})
	}

	written, err := t.st.AppendSnapshot(ctx, snap, time.Duration(t.cfg.SnapshotDedupeMinutes)*time.Minute)
	if err != nil {
		return err
	}
	if !written {
		observ.Log("snapshot_suppressed", map[string]any{"ticker": ticker})
		return nil
	}
	observ.IncCounter("snapshots_total", map[string]string{"ticker": ticker})

	if pos.Held() {
		if err := t.st.UpdateWatermarks(ctx, pos.ID, quote.Price); err != nil {
			return err
		}
	}

	observ.Log("price_tracked", map[string]any{
		"ticker": ticker, "price": quote.Price, "change_pct": quote.ChangePct,
	})
	return nil
}

// RollUpDay recomputes the daily summary row for the given UTC day
// from its snapshots. Days with no observations are left alone.
func (t *Tracker) RollUpDay(ctx context.Context, ticker string, day time.Time) error {
	date := day.UTC().Format("2006-01-02")
	snaps, err := t.st.SnapshotsOnDate(ctx, ticker, date)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return nil
	}

	first, last := snaps[0], snaps[len(snaps)-1]
	d := store.DailySummary{
		Ticker:     ticker,
		Date:       date,
		OpenPrice:  first.Price,
		ClosePrice: last.Price,
		HighPrice:  first.Price,
		LowPrice:   first.Price,
	}
	for _, sn := range snaps {
		if sn.Price > d.HighPrice {
			d.HighPrice = sn.Price
		}
		if sn.Price < d.LowPrice {
			d.LowPrice = sn.Price
		}
	}

	d.ActivePnLPct = last.ActivePnLPct
	d.PassivePnLPct = last.PassivePnLPct
	d.ActivePositionHeld = last.ActiveState == store.StateHeld
	if last.ActivePnLPct != nil && last.PassivePnLPct != nil {
		alpha := *last.ActivePnLPct - *last.PassivePnLPct
		d.AlphaPct = &alpha
	}

	if pos, perr := t.st.GetOpenPosition(ctx, ticker); perr == nil && pos != nil {
		d.ActiveStance = pos.CurrentStance
	}
	if stance, conf, ok, rerr := t.st.ReportOnDate(ctx, ticker, date); rerr == nil && ok {
		d.ReportReceived = true
		d.ReportStance = stance
		d.ReportConfidence = conf
	}

	return t.st.UpsertDailySummary(ctx, d)
}
