// Package advisor is the optional LLM collaborator. Every call may
// abstain (nil result, nil error); any failure is normalized to
// ErrUnavailable and treated by callers as an abstention, never as a
// fatal error.
package advisor

import (
	"context"
	"errors"
	"strings"

	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/report"
	"github.com/companywatch/companywatch/internal/store"
)

// ErrUnavailable means the advisor could not produce an opinion this
// cycle (timeout, transport error, unparseable reply).
var ErrUnavailable = errors.New("advisor: unavailable")

// Qualitative confidence levels.
const (
	LevelHigh   = "HIGH"
	LevelMedium = "MEDIUM"
	LevelLow    = "LOW"
)

// Actions across the call shapes.
const (
	ActionHold    = "HOLD"
	ActionExit    = "EXIT"
	ActionReverse = "REVERSE"
	ActionDuck    = "DUCK"
	ActionRebuy   = "REBUY"
	ActionStayOut = "STAY_OUT"
)

// ReportAssessment is the house's independent read of a report. A
// present HouseConfidencePct replaces the engine's house confidence
// outright.
type ReportAssessment struct {
	Decision           string   `json:"decision"` // BUY|SELL|HOLD|FADE
	ConfidenceLevel    string   `json:"confidence"`
	HouseConfidencePct *float64 `json:"house_confidence_pct"`
	Reason             string   `json:"reason"`
	AgreesWithReport   bool     `json:"agrees_with_report"`
	OverrideReason     string   `json:"override_reason"`
}

// SurveillanceAction is the intraday check verdict.
type SurveillanceAction struct {
	Action  string `json:"action"` // HOLD|EXIT|REVERSE
	Reason  string `json:"reason"`
	Urgency string `json:"urgency"`
}

// LossAction answers "is the thesis broken" at a soft stop.
type LossAction struct {
	Action string `json:"action"` // HOLD|EXIT
	Reason string `json:"reason"`
}

// PremarketAction is the before-the-bell verdict.
type PremarketAction struct {
	Action       string `json:"action"` // HOLD|EXIT|DUCK
	Urgency      string `json:"urgency"`
	DuckAndCover bool   `json:"duck_and_cover"`
	Reason       string `json:"reason"`
}

// RebuyAction decides re-entry after a duck-and-cover sell.
type RebuyAction struct {
	Action             string   `json:"action"` // REBUY|STAY_OUT
	HouseConfidencePct *float64 `json:"house_confidence_pct"`
	Reason             string   `json:"reason"`
}

// Advisor is the assessment contract. Implementations must bound
// every call with a hard timeout.
type Advisor interface {
	AssessReport(ctx context.Context, rep report.Report, quote *marketdata.Quote, pos *store.Position) (*ReportAssessment, error)
	SurveillanceCheck(ctx context.Context, pos *store.Position, quote *marketdata.Quote, latest *report.Report) (*SurveillanceAction, error)
	LossCheck(ctx context.Context, pos *store.Position, quote *marketdata.Quote, latest *report.Report) (*LossAction, error)
	PremarketCheck(ctx context.Context, pos *store.Position, quote *marketdata.Quote, latest *report.Report) (*PremarketAction, error)
	RebuyCheck(ctx context.Context, rep report.Report, quote *marketdata.Quote) (*RebuyAction, error)
}

func normLevel(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case LevelHigh:
		return LevelHigh
	case LevelLow:
		return LevelLow
	default:
		return LevelMedium
	}
}

func oneOf(s string, allowed ...string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, a := range allowed {
		if s == a {
			return s, true
		}
	}
	return "", false
}
