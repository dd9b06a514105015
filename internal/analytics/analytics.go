// Package analytics answers whether the active line beat buy-and-hold.
// Everything derives from the store; nothing here mutates state.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/companywatch/companywatch/internal/risk"
	"github.com/companywatch/companywatch/internal/store"
)

type Analytics struct {
	st *store.Store
}

func New(st *store.Store) *Analytics {
	return &Analytics{st: st}
}

// Summary compares the active line against buy-and-hold.
type Summary struct {
	Ticker      string    `json:"ticker"`
	GeneratedAt time.Time `json:"generated_at"`

	ActiveRealisedPnLPct   float64  `json:"active_realised_pnl_pct"`
	ActiveUnrealisedPnLPct *float64 `json:"active_unrealised_pnl_pct"`
	ActiveTotalPnLPct      float64  `json:"active_total_pnl_pct"`
	PassivePnLPct          *float64 `json:"passive_pnl_pct"`
	AlphaPct               *float64 `json:"alpha_pct"`

	PositionHeld  bool    `json:"position_held"`
	CurrentStance string  `json:"current_stance"`
	LatestPrice   float64 `json:"latest_price"`
	DaysTracked   int     `json:"days_tracked"`

	Trades         TradeStats     `json:"trades"`
	DecisionCounts map[string]int `json:"decision_counts"`
	Overrides      OverrideStats  `json:"overrides"`
}

// TradeStats describes the closed trades on the active line.
type TradeStats struct {
	Closed        int     `json:"closed"`
	Winners       int     `json:"winners"`
	WinRatePct    float64 `json:"win_rate_pct"`
	AvgTradePct   float64 `json:"avg_trade_pct"`
	AvgWinPct     float64 `json:"avg_win_pct"`
	AvgLossPct    float64 `json:"avg_loss_pct"`
	BestTradePct  float64 `json:"best_trade_pct"`
	WorstTradePct float64 `json:"worst_trade_pct"`
	AvgHoldHours  float64 `json:"avg_hold_hours"`
}

// OverrideStats measures how often the house disagreed with the
// report, and how that split across categories.
type OverrideStats struct {
	ReportDecisions int            `json:"report_decisions"`
	Overrides       int            `json:"overrides"`
	OverrideRatePct float64        `json:"override_rate_pct"`
	ByCategory      map[string]int `json:"by_category"`
}

// Compute builds the full performance summary.
func (a *Analytics) Compute(ctx context.Context, ticker string) (*Summary, error) {
	s := &Summary{
		Ticker:         ticker,
		GeneratedAt:    time.Now().UTC(),
		DecisionCounts: map[string]int{},
	}

	closed, err := a.st.ClosedPositions(ctx, ticker, 1000)
	if err != nil {
		return nil, err
	}
	s.Trades = tradeStats(closed)
	for _, p := range closed {
		s.ActiveRealisedPnLPct += p.RealisedPnLPct
	}

	pos, err := a.st.GetOpenPosition(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if pos != nil {
		s.CurrentStance = pos.CurrentStance
		s.PositionHeld = pos.Held()
	}

	latest, err := a.st.LatestSnapshot(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		s.LatestPrice = latest.Price
		s.PassivePnLPct = latest.PassivePnLPct
		if pos.Held() {
			u := risk.PnL(pos.EntryPrice, latest.Price, pos.Direction)
			s.ActiveUnrealisedPnLPct = &u
		}
	}

	s.ActiveTotalPnLPct = s.ActiveRealisedPnLPct
	if s.ActiveUnrealisedPnLPct != nil {
		s.ActiveTotalPnLPct += *s.ActiveUnrealisedPnLPct
	}
	if s.PassivePnLPct != nil {
		alpha := s.ActiveTotalPnLPct - *s.PassivePnLPct
		s.AlphaPct = &alpha
	}

	decisions, err := a.st.RecentDecisions(ctx, ticker, 10000)
	if err != nil {
		return nil, err
	}
	for _, d := range decisions {
		s.DecisionCounts[d.Type]++
	}
	s.Overrides = overrideStats(decisions)

	days, err := a.st.DailySummaries(ctx, ticker, 10000)
	if err != nil {
		return nil, err
	}
	s.DaysTracked = len(days)
	return s, nil
}

func tradeStats(closed []*store.Position) TradeStats {
	var t TradeStats
	var total, winSum, lossSum, holdHours float64
	var losers int
	for i, p := range closed {
		pnl := p.RealisedPnLPct
		t.Closed++
		total += pnl
		if pnl > 0 {
			t.Winners++
			winSum += pnl
		} else {
			losers++
			lossSum += pnl
		}
		if i == 0 || pnl > t.BestTradePct {
			t.BestTradePct = pnl
		}
		if i == 0 || pnl < t.WorstTradePct {
			t.WorstTradePct = pnl
		}
		if !p.EntryTime.IsZero() && !p.ExitTime.IsZero() {
			holdHours += p.ExitTime.Sub(p.EntryTime).Hours()
		}
	}
	if t.Closed > 0 {
		t.WinRatePct = float64(t.Winners) / float64(t.Closed) * 100
		t.AvgTradePct = total / float64(t.Closed)
		t.AvgHoldHours = holdHours / float64(t.Closed)
	}
	if t.Winners > 0 {
		t.AvgWinPct = winSum / float64(t.Winners)
	}
	if losers > 0 {
		t.AvgLossPct = lossSum / float64(losers)
	}
	return t
}

func overrideStats(decisions []*store.Decision) OverrideStats {
	o := OverrideStats{ByCategory: map[string]int{}}
	for _, d := range decisions {
		if d.Trigger == store.TriggerReport {
			o.ReportDecisions++
		}
		if d.IsOverride {
			o.Overrides++
			cat := d.OverrideCategory
			if cat == "" {
				cat = "house_disagreement"
			}
			o.ByCategory[cat]++
		}
	}
	if o.ReportDecisions > 0 {
		o.OverrideRatePct = float64(o.Overrides) / float64(o.ReportDecisions) * 100
	}
	return o
}

// Briefing renders the summary as a short human-readable block for
// logs and the daily report.
func (a *Analytics) Briefing(ctx context.Context, ticker string) (string, error) {
	s, err := a.Compute(ctx, ticker)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s — active %+.2f%% realised", s.Ticker, s.ActiveRealisedPnLPct)
	if s.ActiveUnrealisedPnLPct != nil {
		fmt.Fprintf(&b, ", %+.2f%% open", *s.ActiveUnrealisedPnLPct)
	}
	if s.PassivePnLPct != nil {
		fmt.Fprintf(&b, " | passive %+.2f%%", *s.PassivePnLPct)
	}
	if s.AlphaPct != nil {
		fmt.Fprintf(&b, " | alpha %+.2f%%", *s.AlphaPct)
	}
	fmt.Fprintf(&b, "\ntrades: %d closed, %.0f%% winners", s.Trades.Closed, s.Trades.WinRatePct)
	if s.Trades.Closed > 0 {
		fmt.Fprintf(&b, " (best %+.2f%%, worst %+.2f%%)", s.Trades.BestTradePct, s.Trades.WorstTradePct)
	}
	if s.PositionHeld {
		fmt.Fprintf(&b, "\ncurrently holding, stance %s at $%.2f", s.CurrentStance, s.LatestPrice)
	} else {
		fmt.Fprintf(&b, "\ncurrently flat, stance %s", s.CurrentStance)
	}
	if s.Overrides.ReportDecisions > 0 {
		fmt.Fprintf(&b, "\nhouse overrode the report %d of %d times (%.0f%%)",
			s.Overrides.Overrides, s.Overrides.ReportDecisions, s.Overrides.OverrideRatePct)
	}
	return b.String(), nil
}
