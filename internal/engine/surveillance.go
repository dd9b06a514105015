package engine

import (
	"context"
	"math"

	"github.com/companywatch/companywatch/internal/advisor"
	"github.com/companywatch/companywatch/internal/observ"
	"github.com/companywatch/companywatch/internal/risk"
	"github.com/companywatch/companywatch/internal/store"
)

// Surveillance runs the autonomous intraday cascade over the held
// position. Checks run in fixed priority order and the first that
// fires acts; when nothing fires the tick leaves no trace in the
// decision log. A missing quote or macro quote skips the cycle (or
// the single check) rather than guessing.
func (e *Engine) Surveillance(ctx context.Context, ticker string) error {
	l := e.tickerLock(ticker)
	l.Lock()
	defer l.Unlock()

	pos, err := e.st.GetOpenPosition(ctx, ticker)
	if err != nil {
		return err
	}
	if !pos.Held() {
		return nil
	}

	quote, err := e.md.GetQuote(ctx, ticker)
	if err != nil {
		observ.Error("surveillance_skipped_no_price", err, map[string]any{"ticker": ticker})
		return nil
	}
	price := quote.Price

	// Keep the watermarks fresh before reading them back.
	if err := e.st.UpdateWatermarks(ctx, pos.ID, price); err != nil {
		return err
	}
	peak := math.Max(pos.PeakPrice, price)

	currentPnL := risk.PnL(pos.EntryPrice, price, pos.Direction)
	peakPnL := risk.PnL(pos.EntryPrice, peak, pos.Direction)
	if pos.Direction == store.DirectionShort {
		// For a short the favorable extreme is the trough.
		trough := math.Min(pos.TroughPrice, price)
		peakPnL = risk.PnL(pos.EntryPrice, trough, pos.Direction)
	}

	latest, err := e.st.LatestReport(ctx, ticker)
	if err != nil {
		return err
	}
	reportConf := 50.0
	if latest != nil {
		reportConf = latest.Confidence
	}
	t := e.cfg.Thresholds

	observ.SetGauge("position_pnl_pct", currentPnL, map[string]string{"ticker": ticker})

	// 1. Hard stop.
	if fired, reason := risk.HardStop(currentPnL, t); fired {
		return e.autonomousExit(ctx, pos, price, reason, "hard_stop", exitOpts{})
	}

	// 2. Profit protection (drawdown from peak).
	if fired, reason := risk.ProfitProtect(currentPnL, peakPnL, t); fired {
		return e.autonomousExit(ctx, pos, price, reason, "profit_protect", exitOpts{})
	}

	// 3. Strong profit take, unless the report says let it ride.
	if fired, reason := risk.StrongProfitTake(currentPnL, reportConf, t); fired {
		return e.autonomousExit(ctx, pos, price, reason, "profit_take", exitOpts{})
	}

	// 4. Market crash. Macro unavailable means this check abstains.
	if macro, merr := e.md.GetMacroQuote(ctx); merr != nil {
		observ.Error("macro_check_skipped", merr, map[string]any{"ticker": ticker})
	} else if fired, reason := risk.MarketCrash(macro.ChangePct, pos.Direction, t); fired {
		if err := e.autonomousExit(ctx, pos, price, reason, "market_crash", exitOpts{
			override:         true,
			overrideCategory: "market_crash",
			macro:            macro,
		}); err != nil {
			return err
		}
		return e.st.AppendDecision(ctx, &store.Decision{
			Ticker:           ticker,
			Timestamp:        e.now(),
			Type:             store.DecisionOverride,
			Trigger:          store.TriggerAutonomous,
			OldStance:        pos.CurrentStance,
			NewStance:        "FADE",
			Reason:           reason,
			PriceAtDecision:  price,
			MacroPrice:       macro.Price,
			MacroChangePct:   macro.ChangePct,
			IsOverride:       true,
			OverrideCategory: "market_crash",
		})
	}

	// 5. Horse bolted: adverse move since the report landed.
	if latest != nil {
		if first, ferr := e.st.FirstSnapshotSince(ctx, ticker, latest.PublishedAt); ferr == nil && first != nil {
			if fired, reason := risk.HorseBolted(first.Price, price, pos.Direction, t); fired {
				return e.autonomousExit(ctx, pos, price, reason, "horse_bolted", exitOpts{
					override:         true,
					overrideCategory: "horse_bolted",
				})
			}
		}
	}

	// 6. Soft stop: the advisor decides whether the thesis is broken.
	if risk.SoftStop(currentPnL, t) && e.adv != nil {
		action, aerr := e.adv.LossCheck(ctx, pos, quote, latest)
		switch {
		case aerr != nil:
			observ.Error("advisor_degraded", aerr, map[string]any{"ticker": ticker, "call": "loss_check"})
		case action != nil && action.Action == advisor.ActionExit:
			return e.autonomousExit(ctx, pos, price, "AI STOP: "+action.Reason, "soft_stop", exitOpts{})
		case action != nil:
			observ.Log("soft_stop_held", map[string]any{"ticker": ticker, "pnl_pct": currentPnL, "reason": action.Reason})
		}
	}

	// 7. Open-ended advisor surveillance.
	if e.adv != nil {
		action, aerr := e.adv.SurveillanceCheck(ctx, pos, quote, latest)
		switch {
		case aerr != nil:
			observ.Error("advisor_degraded", aerr, map[string]any{"ticker": ticker, "call": "surveillance"})
		case action == nil:
		case action.Action == advisor.ActionExit:
			return e.autonomousExit(ctx, pos, price, "AI DD EXIT: "+action.Reason, "advisor_exit", exitOpts{})
		case action.Action == advisor.ActionReverse:
			return e.reverse(ctx, pos, price, action.Reason)
		}
	}

	return nil
}

func (e *Engine) autonomousExit(ctx context.Context, pos *store.Position, price float64, reason, rule string, opts exitOpts) error {
	observ.IncCounter("surveillance_exits_total", map[string]string{"ticker": pos.Ticker, "rule": rule})
	return e.exit(ctx, pos, price, reason, "", store.TriggerAutonomous, opts)
}

// reverse closes the held position and opens the opposite side at the
// same price in one pass. The advisor's REVERSE verdict is taken at
// face value; both legs land in the decision log.
func (e *Engine) reverse(ctx context.Context, pos *store.Position, price float64, reason string) error {
	opposite := store.DirectionShort
	if pos.Direction == store.DirectionShort {
		opposite = store.DirectionLong
	}
	if err := e.autonomousExit(ctx, pos, price, "AI DD REVERSE: "+reason, "advisor_reverse", exitOpts{}); err != nil {
		return err
	}
	dual := dualConfidence{
		stanceConf: pos.StanceConfidence,
		reportConf: pos.ReportConfidence,
		houseConf:  pos.HouseConfidence,
	}
	return e.enter(ctx, pos.Ticker, opposite, price, "AI REVERSE: "+reason, "", store.TriggerAutonomous, dual)
}
