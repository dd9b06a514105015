package engine

import (
	"context"

	"github.com/companywatch/companywatch/internal/advisor"
	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/observ"
	"github.com/companywatch/companywatch/internal/report"
	"github.com/companywatch/companywatch/internal/store"
)

// PremarketCheck runs the before-the-bell due diligence. It may arm
// the duck-and-cover flag for the open, or exit immediately on an
// urgent advisor verdict. No advisor means no pre-market opinion.
func (e *Engine) PremarketCheck(ctx context.Context, ticker string) error {
	if e.adv == nil {
		return nil
	}
	l := e.tickerLock(ticker)
	l.Lock()
	defer l.Unlock()

	pos, err := e.st.GetOpenPosition(ctx, ticker)
	if err != nil {
		return err
	}
	latest, err := e.st.LatestReport(ctx, ticker)
	if err != nil {
		return err
	}
	if !pos.Held() && latest == nil {
		return nil
	}

	quote, qerr := e.md.GetQuote(ctx, ticker)
	if qerr != nil {
		// The advisor can still opine on overnight news without a
		// price, but an urgent exit needs one.
		observ.Error("premarket_no_price", qerr, map[string]any{"ticker": ticker})
		quote = nil
	}

	verdict, aerr := e.adv.PremarketCheck(ctx, pos, quote, latest)
	if aerr != nil {
		observ.Error("advisor_degraded", aerr, map[string]any{"ticker": ticker, "call": "premarket"})
		return nil
	}
	if verdict == nil {
		return nil
	}

	observ.Log("premarket_verdict", map[string]any{
		"ticker": ticker, "action": verdict.Action,
		"urgency": verdict.Urgency, "duck": verdict.DuckAndCover,
	})

	if verdict.DuckAndCover && pos.Held() && e.cfg.DuckCover.Enabled {
		if err := e.st.FlagDuck(ctx, pos.ID, verdict.Reason); err != nil {
			return err
		}
		observ.IncCounter("duck_flags_total", map[string]string{"ticker": ticker})
		if err := e.st.AppendDecision(ctx, &store.Decision{
			Ticker:          ticker,
			Timestamp:       e.now(),
			Type:            store.DecisionPremarketDuck,
			Trigger:         store.TriggerPremarket,
			OldStance:       pos.CurrentStance,
			NewStance:       "DUCK",
			Reason:          verdict.Reason,
			PriceAtDecision: priceOrZero(quote),
		}); err != nil {
			return err
		}
	}

	if verdict.Action == advisor.ActionExit && verdict.Urgency == advisor.LevelHigh && pos.Held() {
		if quote == nil {
			observ.Log("premarket_exit_deferred", map[string]any{"ticker": ticker, "reason": "no price"})
			return nil
		}
		return e.exit(ctx, pos, quote.Price, "PRE-MARKET URGENT EXIT: "+verdict.Reason, "",
			store.TriggerPremarket, exitOpts{decisionType: store.DecisionPremarketExit})
	}
	return nil
}

// DuckSell is phase one of duck-and-cover: sell the armed position
// just after the bell. The sell price is kept on the position row so
// the rebuy can be judged against it.
func (e *Engine) DuckSell(ctx context.Context, ticker string) error {
	if !e.cfg.DuckCover.Enabled {
		return nil
	}
	l := e.tickerLock(ticker)
	l.Lock()
	defer l.Unlock()

	pos, err := e.st.GetOpenPosition(ctx, ticker)
	if err != nil {
		return err
	}
	if !pos.Held() || !pos.IsDucking {
		return nil
	}

	quote, err := e.md.GetQuote(ctx, ticker)
	if err != nil {
		observ.Error("duck_sell_skipped_no_price", err, map[string]any{"ticker": ticker})
		return nil
	}

	if err := e.st.RecordDuckExit(ctx, pos.ID, quote.Price, e.now()); err != nil {
		return err
	}
	reason := pos.DuckReason
	if reason == "" {
		reason = "storm expected at the open"
	}
	observ.IncCounter("duck_sells_total", map[string]string{"ticker": ticker})
	return e.exit(ctx, pos, quote.Price, "DUCK-AND-COVER SELL: "+reason, "",
		store.TriggerAutonomous, exitOpts{})
}

// DuckRebuy is phase two: once the panic window has passed, re-enter
// if the latest report is still convinced and the advisor (when
// available) does not veto. An unavailable advisor does not block the
// re-entry; the report confidence gate still applies.
func (e *Engine) DuckRebuy(ctx context.Context, ticker string) error {
	if !e.cfg.DuckCover.Enabled {
		return nil
	}
	l := e.tickerLock(ticker)
	l.Lock()
	defer l.Unlock()

	pos, err := e.st.GetOpenPosition(ctx, ticker)
	if err != nil {
		return err
	}
	if pos.Held() {
		return nil
	}

	latest, err := e.st.LatestReport(ctx, ticker)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil
	}
	if latest.Confidence < e.cfg.DuckCover.MinConfidence {
		observ.Log("duck_rebuy_stay_out", map[string]any{
			"ticker": ticker, "report_confidence": latest.Confidence,
			"min_confidence": e.cfg.DuckCover.MinConfidence,
		})
		return nil
	}

	quote, err := e.md.GetQuote(ctx, ticker)
	if err != nil {
		observ.Error("duck_rebuy_skipped_no_price", err, map[string]any{"ticker": ticker})
		return nil
	}

	houseConf := latest.Confidence
	if e.adv != nil {
		verdict, aerr := e.adv.RebuyCheck(ctx, *latest, quote)
		switch {
		case aerr != nil:
			observ.Error("advisor_degraded", aerr, map[string]any{"ticker": ticker, "call": "rebuy"})
		case verdict != nil && verdict.Action == advisor.ActionStayOut:
			observ.Log("duck_rebuy_stay_out", map[string]any{"ticker": ticker, "reason": verdict.Reason})
			return nil
		case verdict != nil && verdict.HouseConfidencePct != nil:
			houseConf = *verdict.HouseConfidencePct
		}
	}
	if houseConf < e.cfg.Thresholds.ConfidenceAct {
		observ.Log("duck_rebuy_stay_out", map[string]any{"ticker": ticker, "house_confidence": houseConf})
		return nil
	}

	direction := store.DirectionLong
	if latest.Stance == report.StanceSell {
		direction = store.DirectionShort
	}
	dual := dualConfidence{
		stanceConf: houseConf,
		reportConf: latest.Confidence,
		houseConf:  houseConf,
	}
	observ.IncCounter("duck_rebuys_total", map[string]string{"ticker": ticker})
	return e.enter(ctx, ticker, direction, quote.Price,
		"DUCK REBUY: storm passed, re-entering", latest.ID, store.TriggerAutonomous, dual)
}

func priceOrZero(q *marketdata.Quote) float64 {
	if q == nil {
		return 0
	}
	return q.Price
}
