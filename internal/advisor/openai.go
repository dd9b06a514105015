package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/observ"
	"github.com/companywatch/companywatch/internal/report"
	"github.com/companywatch/companywatch/internal/risk"
	"github.com/companywatch/companywatch/internal/store"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

const systemPrompt = `You are a senior portfolio manager at a systematic hedge fund.
You receive a daily intelligence report on a single stock: a directional call
(BUY/SELL/HOLD/FADE) with a confidence percentage, distilled from broad news
analysis. The report is your starting point, not your conclusion.

You think like a trader, not an analyst:
- Has the horse already bolted? (price moved before we could act)
- Is the market crashing? (macro overwhelms the micro thesis)
- Should we take profits? (a good trade is not a hold-forever)
- Is this a move that reverses within the hour? (duck and cover)

Your confidence is independent of the report's. You may agree, amplify,
dampen, or override it entirely. HOLD is a valid answer when you have no
edge. Always respond with the exact JSON shape requested and nothing else.`

// OpenAI implements Advisor over the chat-completions API in JSON
// mode. Unparseable or off-shape replies degrade to abstention.
type OpenAI struct {
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	intel      *IntelProvider
}

type OpenAIConfig struct {
	APIKey         string
	Model          string
	TimeoutSeconds int
	MaxTokens      int
	Intel          *IntelProvider // optional market-context briefing
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &OpenAI{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		intel:      cfg.Intel,
	}, nil
}

// contextBlock prefixes every prompt with the gathered market
// context, so the model reasons from observed data.
func (o *OpenAI) contextBlock(ctx context.Context, ticker string) string {
	if o.intel == nil || ticker == "" {
		return ""
	}
	return o.intel.Gather(ctx, ticker).Briefing()
}

func (o *OpenAI) AssessReport(ctx context.Context, rep report.Report, quote *marketdata.Quote, pos *store.Position) (*ReportAssessment, error) {
	prompt := o.contextBlock(ctx, rep.Ticker) + fmt.Sprintf(`DAILY REPORT ASSESSMENT — %s

Report stance: %s
Report confidence: %.0f%%
Report rationale: %s

%s
Current price: $%.2f (day change %+.2f%%)

Make your own call. Your house confidence may be higher or lower than the
report's, or flip the direction entirely.

Respond in JSON:
{"decision": "BUY|SELL|HOLD|FADE", "confidence": "HIGH|MEDIUM|LOW",
 "house_confidence_pct": 0-100, "reason": "...",
 "agrees_with_report": true/false, "override_reason": "..."}`,
		rep.Ticker, rep.Stance, rep.Confidence, rep.Rationale,
		positionBlock(pos, quote), quotePrice(quote), quoteChange(quote))

	var out ReportAssessment
	if err := o.call(ctx, "assess_report", prompt, &out); err != nil {
		return nil, err
	}
	dec, ok := oneOf(out.Decision, report.StanceBuy, report.StanceSell, report.StanceHold, report.StanceFade)
	if !ok {
		observ.Log("advisor_bad_shape", map[string]any{"call": "assess_report", "decision": out.Decision})
		return nil, nil
	}
	out.Decision = dec
	out.ConfidenceLevel = normLevel(out.ConfidenceLevel)
	if out.HouseConfidencePct != nil {
		v := report.ClampConfidence(*out.HouseConfidencePct)
		out.HouseConfidencePct = &v
	}
	return &out, nil
}

func (o *OpenAI) SurveillanceCheck(ctx context.Context, pos *store.Position, quote *marketdata.Quote, latest *report.Report) (*SurveillanceAction, error) {
	if !pos.Held() {
		return nil, nil
	}
	prompt := o.contextBlock(ctx, pos.Ticker) + fmt.Sprintf(`INTRADAY SURVEILLANCE — %s

%s
%s
Has anything changed that the last report could not have known? Only
recommend EXIT or REVERSE if genuinely warranted; a good trader does not
churn, and does not sit on a broken thesis either.

Respond in JSON:
{"action": "HOLD|EXIT|REVERSE", "reason": "...", "urgency": "HIGH|MEDIUM|LOW"}`,
		pos.Ticker, positionBlock(pos, quote), reportBlock(latest))

	var out SurveillanceAction
	if err := o.call(ctx, "surveillance", prompt, &out); err != nil {
		return nil, err
	}
	act, ok := oneOf(out.Action, ActionHold, ActionExit, ActionReverse)
	if !ok {
		return nil, nil
	}
	out.Action = act
	out.Urgency = normLevel(out.Urgency)
	return &out, nil
}

func (o *OpenAI) LossCheck(ctx context.Context, pos *store.Position, quote *marketdata.Quote, latest *report.Report) (*LossAction, error) {
	prompt := o.contextBlock(ctx, pos.Ticker) + fmt.Sprintf(`STOP-LOSS ASSESSMENT — %s

The position is in the red.
%s
%s
Is the thesis BROKEN, or is this volatility? A valid thesis can recover; a
broken one will not. Do not hold out of hope, do not cut out of fear.

Respond in JSON: {"action": "HOLD|EXIT", "reason": "..."}`,
		pos.Ticker, positionBlock(pos, quote), reportBlock(latest))

	var out LossAction
	if err := o.call(ctx, "loss_check", prompt, &out); err != nil {
		return nil, err
	}
	act, ok := oneOf(out.Action, ActionHold, ActionExit)
	if !ok {
		return nil, nil
	}
	out.Action = act
	return &out, nil
}

func (o *OpenAI) PremarketCheck(ctx context.Context, pos *store.Position, quote *marketdata.Quote, latest *report.Report) (*PremarketAction, error) {
	prompt := o.contextBlock(ctx, tickerOf(pos, latest)) + fmt.Sprintf(`PRE-MARKET BRIEFING — %s

The primary market opens soon.
%s
%s
If the thesis is still valid long-term but something will temporarily floor
the stock at the open, recommend DUCK: sell at the bell, re-enter once the
panic exhausts itself. Only recommend DUCK if the thesis survives the storm.

Respond in JSON:
{"action": "HOLD|EXIT|DUCK", "urgency": "HIGH|MEDIUM|LOW",
 "duck_and_cover": true/false, "reason": "..."}`,
		tickerOf(pos, latest), positionBlock(pos, quote), reportBlock(latest))

	var out PremarketAction
	if err := o.call(ctx, "premarket", prompt, &out); err != nil {
		return nil, err
	}
	act, ok := oneOf(out.Action, ActionHold, ActionExit, ActionDuck)
	if !ok {
		return nil, nil
	}
	out.Action = act
	out.Urgency = normLevel(out.Urgency)
	return &out, nil
}

func (o *OpenAI) RebuyCheck(ctx context.Context, rep report.Report, quote *marketdata.Quote) (*RebuyAction, error) {
	prompt := o.contextBlock(ctx, rep.Ticker) + fmt.Sprintf(`DUCK-AND-COVER REBUY ASSESSMENT — %s

We sold at the open to avoid a storm. The original thesis: %s %.0f%% — %s
Current price: $%.2f (day change %+.2f%%)

If the storm has passed and the thesis holds, REBUY. If the situation is
worse than expected, STAY_OUT.

Respond in JSON:
{"action": "REBUY|STAY_OUT", "house_confidence_pct": 0-100, "reason": "..."}`,
		rep.Ticker, rep.Stance, rep.Confidence, rep.Rationale,
		quotePrice(quote), quoteChange(quote))

	var out RebuyAction
	if err := o.call(ctx, "rebuy", prompt, &out); err != nil {
		return nil, err
	}
	act, ok := oneOf(out.Action, ActionRebuy, ActionStayOut)
	if !ok {
		return nil, nil
	}
	out.Action = act
	if out.HouseConfidencePct != nil {
		v := report.ClampConfidence(*out.HouseConfidencePct)
		out.HouseConfidencePct = &v
	}
	return &out, nil
}

func (o *OpenAI) call(ctx context.Context, kind, prompt string, out any) error {
	body, _ := json.Marshal(map[string]any{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"max_tokens":      o.maxTokens,
		"temperature":     0.3,
		"response_format": map[string]string{"type": "json_object"},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		observ.IncCounter("advisor_errors_total", map[string]string{"call": kind})
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		observ.IncCounter("advisor_errors_total", map[string]string{"call": kind})
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Choices) == 0 {
		return fmt.Errorf("%w: bad envelope", ErrUnavailable)
	}
	if err := json.Unmarshal([]byte(envelope.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("%w: non-JSON reply", ErrUnavailable)
	}
	observ.IncCounter("advisor_calls_total", map[string]string{"call": kind})
	return nil
}

func positionBlock(pos *store.Position, quote *marketdata.Quote) string {
	if pos == nil || !pos.Held() {
		return "Current book: FLAT\n"
	}
	pnl := 0.0
	if quote != nil {
		pnl = risk.PnL(pos.EntryPrice, quote.Price, pos.Direction)
	}
	return fmt.Sprintf("Current book: %s from $%.2f, P&L %+.2f%%, peak $%.2f\n",
		pos.Direction, pos.EntryPrice, pnl, pos.PeakPrice)
}

func reportBlock(latest *report.Report) string {
	if latest == nil {
		return "Last report: none on file\n"
	}
	return fmt.Sprintf("Last report: %s %.0f%% (%s) — %s\n",
		latest.Stance, latest.Confidence,
		latest.PublishedAt.UTC().Format("2006-01-02 15:04"), latest.Rationale)
}

func quotePrice(q *marketdata.Quote) float64 {
	if q == nil {
		return 0
	}
	return q.Price
}

func quoteChange(q *marketdata.Quote) float64 {
	if q == nil {
		return 0
	}
	return q.ChangePct
}

func tickerOf(pos *store.Position, latest *report.Report) string {
	if pos != nil {
		return pos.Ticker
	}
	if latest != nil {
		return latest.Ticker
	}
	return ""
}
