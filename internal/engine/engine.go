// Package engine is the trading state machine. It turns reports,
// price samples, surveillance ticks, and the pre-market window into
// position transitions with a complete audit trail.
//
// All decision-mutating operations for a ticker run under one mutex:
// each reads the single open position row and writes it back, so two
// interleaved cycles would race. Collaborator failures (no quote, no
// advisor opinion) abstain for the cycle and never corrupt state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/companywatch/companywatch/internal/advisor"
	"github.com/companywatch/companywatch/internal/config"
	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/observ"
	"github.com/companywatch/companywatch/internal/report"
	"github.com/companywatch/companywatch/internal/risk"
	"github.com/companywatch/companywatch/internal/store"
)

type Engine struct {
	cfg config.Root
	st  *store.Store
	md  marketdata.Source
	adv advisor.Advisor // nil when no advisor is configured

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func New(cfg config.Root, st *store.Store, md marketdata.Source, adv advisor.Advisor) *Engine {
	return &Engine{
		cfg:   cfg,
		st:    st,
		md:    md,
		adv:   adv,
		locks: map[string]*sync.Mutex{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// tickerLock returns the mutex serializing all decisions for a
// ticker. Different tickers proceed in parallel.
func (e *Engine) tickerLock(ticker string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[ticker]
	if !ok {
		l = &sync.Mutex{}
		e.locks[ticker] = l
	}
	return l
}

// ProcessReport handles the primary daily signal. Reprocessing a
// report that already produced a decision is a no-op; a missing quote
// aborts the cycle without touching state so the caller can retry.
func (e *Engine) ProcessReport(ctx context.Context, rep report.Report) error {
	rep.Stance = report.NormalizeStance(rep.Stance)
	rep.Confidence = report.ClampConfidence(rep.Confidence)

	l := e.tickerLock(rep.Ticker)
	l.Lock()
	defer l.Unlock()

	if _, err := e.st.UpsertReport(ctx, rep); err != nil {
		return err
	}
	seen, err := e.st.HasDecisionForReport(ctx, rep.Ticker, rep.ID)
	if err != nil {
		return err
	}
	if seen {
		observ.Log("report_already_processed", map[string]any{"ticker": rep.Ticker, "report_id": rep.ID})
		return nil
	}

	quote, err := e.md.GetQuote(ctx, rep.Ticker)
	if err != nil {
		observ.Error("report_cycle_aborted_no_price", err, map[string]any{"ticker": rep.Ticker, "report_id": rep.ID})
		return fmt.Errorf("process report %s: %w", rep.ID, err)
	}
	price := quote.Price

	pos, err := e.st.EnsureOpen(ctx, rep.Ticker, e.now())
	if err != nil {
		return err
	}

	// Dual confidence: start from the report, let the house revise.
	finalStance := rep.Stance
	houseConf := rep.Confidence
	finalReason := rep.Rationale
	if finalReason == "" {
		finalReason = "Report recommendation"
	}
	override := false

	if e.adv != nil {
		assessment, aerr := e.adv.AssessReport(ctx, rep, quote, pos)
		switch {
		case aerr != nil:
			observ.Error("advisor_degraded", aerr, map[string]any{"ticker": rep.Ticker, "call": "assess_report"})
		case assessment != nil:
			houseConf = e.houseConfidence(rep.Confidence, assessment)
			if assessment.Decision != rep.Stance &&
				(assessment.ConfidenceLevel == advisor.LevelHigh ||
					math.Abs(houseConf-rep.Confidence) >= 20) {
				override = true
				finalStance = assessment.Decision
				finalReason = "House Override: " + assessment.Reason
				observ.IncCounter("house_overrides_total", map[string]string{"ticker": rep.Ticker})
			}
		}
	}
	finalConf := houseConf

	observ.Log("dual_confidence", map[string]any{
		"ticker": rep.Ticker, "report_confidence": rep.Confidence,
		"house_confidence": houseConf, "final_stance": finalStance, "override": override,
	})

	dual := dualConfidence{
		stanceConf: finalConf,
		reportConf: rep.Confidence,
		houseConf:  houseConf,
		override:   override,
	}

	switch {
	case !pos.Held():
		act := e.cfg.Thresholds.ConfidenceAct
		switch {
		case finalStance == report.StanceBuy && finalConf >= act:
			err = e.enter(ctx, rep.Ticker, store.DirectionLong, price, finalReason, rep.ID, store.TriggerReport, dual)
		case finalStance == report.StanceSell && finalConf >= act:
			err = e.enter(ctx, rep.Ticker, store.DirectionShort, price, finalReason, rep.ID, store.TriggerReport, dual)
		default:
			err = e.updateStance(ctx, pos, finalStance, finalReason, rep.ID, store.TriggerReport, price, dual)
		}

	default: // HELD
		opts := exitOpts{override: override}
		if override {
			opts.overrideCategory = "house_disagreement"
		}
		switch {
		case finalStance == report.StanceSell && pos.Direction == store.DirectionLong:
			err = e.exit(ctx, pos, price, finalReason, rep.ID, store.TriggerReport, opts)
		case finalStance == report.StanceBuy && pos.Direction == store.DirectionShort:
			err = e.exit(ctx, pos, price, finalReason, rep.ID, store.TriggerReport, opts)
		case finalStance == report.StanceFade:
			err = e.exit(ctx, pos, price, "FADE: "+finalReason, rep.ID, store.TriggerReport, opts)
		default:
			err = e.updateStance(ctx, pos, finalStance, finalReason, rep.ID, store.TriggerReport, price, dual)
		}
	}
	if err != nil {
		return err
	}

	if override {
		if open, oerr := e.st.GetOpenPosition(ctx, rep.Ticker); oerr == nil && open != nil {
			if merr := e.st.MarkOverridden(ctx, open.ID, finalReason, e.now()); merr != nil {
				observ.Error("mark_overridden_failed", merr, map[string]any{"ticker": rep.Ticker})
			}
		}
	}
	return nil
}

// houseConfidence applies the advisor's revision to the report's
// number. An explicit percentage replaces it outright; otherwise the
// qualitative level amplifies or dampens.
func (e *Engine) houseConfidence(reportConf float64, a *advisor.ReportAssessment) float64 {
	if a.HouseConfidencePct != nil {
		return *a.HouseConfidencePct
	}
	switch a.ConfidenceLevel {
	case advisor.LevelHigh:
		return math.Max(reportConf+15, 80)
	case advisor.LevelLow:
		return math.Min(reportConf-20, 35)
	default:
		return reportConf
	}
}

type dualConfidence struct {
	stanceConf float64
	reportConf float64
	houseConf  float64
	override   bool
}

type exitOpts struct {
	decisionType     string // defaults to EXIT
	override         bool
	overrideCategory string
	macro            *marketdata.Quote
}

// enter opens a HELD position, closing (reversing) any open one
// first. A reversal produces two decision rows.
func (e *Engine) enter(ctx context.Context, ticker, direction string, price float64, reason, reportID, trigger string, dual dualConfidence) error {
	now := e.now()

	if open, err := e.st.GetOpenPosition(ctx, ticker); err != nil {
		return err
	} else if open.Held() {
		if err := e.exit(ctx, open, price, "Reversing: "+reason, reportID, trigger, exitOpts{}); err != nil {
			return err
		}
	}

	pos, err := e.st.OpenPosition(ctx, store.OpenParams{
		Ticker:           ticker,
		Direction:        direction,
		Price:            price,
		Reason:           reason,
		ReportID:         reportID,
		Confidence:       dual.stanceConf,
		ReportConfidence: dual.reportConf,
		HouseConfidence:  dual.houseConf,
		Now:              now,
	})
	if err != nil {
		return err
	}

	if err := e.st.AppendDecision(ctx, &store.Decision{
		Ticker:           ticker,
		Timestamp:        now,
		Type:             store.DecisionEntry,
		Trigger:          trigger,
		ReportID:         reportID,
		OldStance:        report.StanceFade,
		NewStance:        pos.CurrentStance,
		Confidence:       dual.stanceConf,
		ReportConfidence: dual.reportConf,
		HouseConfidence:  dual.houseConf,
		Reason:           reason,
		PriceAtDecision:  price,
		IsOverride:       dual.override,
	}); err != nil {
		return err
	}

	observ.IncCounter("positions_opened_total", map[string]string{"ticker": ticker, "direction": direction})
	observ.Log("position_entered", map[string]any{
		"ticker": ticker, "direction": direction, "price": price, "reason": reason,
	})
	return nil
}

// exit closes the open HELD position and records the realised P&L.
func (e *Engine) exit(ctx context.Context, pos *store.Position, price float64, reason, reportID, trigger string, opts exitOpts) error {
	now := e.now()
	pnl := risk.PnL(pos.EntryPrice, price, pos.Direction)

	closed, err := e.st.ClosePosition(ctx, store.CloseParams{
		Ticker:         pos.Ticker,
		Price:          price,
		Reason:         reason,
		ReportID:       reportID,
		RealisedPnLPct: pnl,
		Now:            now,
	})
	if err != nil {
		if errors.Is(err, store.ErrNoOpenPosition) {
			// Race or double-exit; loud log, no crash.
			observ.Error("exit_without_position", err, map[string]any{"ticker": pos.Ticker, "reason": reason})
			return nil
		}
		return err
	}

	decisionType := opts.decisionType
	if decisionType == "" {
		decisionType = store.DecisionExit
	}
	d := &store.Decision{
		Ticker:           pos.Ticker,
		Timestamp:        now,
		Type:             decisionType,
		Trigger:          trigger,
		ReportID:         reportID,
		OldStance:        pos.CurrentStance,
		NewStance:        report.StanceFade,
		Reason:           reason,
		PriceAtDecision:  price,
		IsOverride:       opts.override,
		OverrideCategory: opts.overrideCategory,
	}
	if opts.macro != nil {
		d.MacroPrice = opts.macro.Price
		d.MacroChangePct = opts.macro.ChangePct
	}
	if err := e.st.AppendDecision(ctx, d); err != nil {
		return err
	}

	observ.IncCounter("positions_closed_total", map[string]string{"ticker": pos.Ticker})
	observ.Log("position_exited", map[string]any{
		"ticker": pos.Ticker, "direction": closed.Direction, "price": price,
		"realised_pnl_pct": closed.RealisedPnLPct, "reason": reason,
	})
	return nil
}

// updateStance records a stance change without trading.
func (e *Engine) updateStance(ctx context.Context, pos *store.Position, stance, reason, reportID, trigger string, price float64, dual dualConfidence) error {
	now := e.now()
	if err := e.st.UpdateStance(ctx, pos.ID, stance, dual.stanceConf, dual.reportConf, dual.houseConf, reportID, now); err != nil {
		return err
	}
	override := dual.override
	category := ""
	if override {
		category = "house_disagreement"
	}
	return e.st.AppendDecision(ctx, &store.Decision{
		Ticker:           pos.Ticker,
		Timestamp:        now,
		Type:             store.DecisionStanceUpdate,
		Trigger:          trigger,
		ReportID:         reportID,
		OldStance:        pos.CurrentStance,
		NewStance:        stance,
		Confidence:       dual.stanceConf,
		ReportConfidence: dual.reportConf,
		HouseConfidence:  dual.houseConf,
		Reason:           reason,
		PriceAtDecision:  price,
		IsOverride:       override,
		OverrideCategory: category,
	})
}
