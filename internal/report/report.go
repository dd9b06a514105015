// Package report defines the structured report contract. Fetching and
// free-text parsing belong to the upstream report source; the engine
// only ever sees these records.
package report

import (
	"context"
	"strings"
	"time"
)

// Stances an external report (or the house) can take.
const (
	StanceBuy  = "BUY"
	StanceSell = "SELL"
	StanceHold = "HOLD"
	StanceFade = "FADE"
)

// Report is one structured research report.
type Report struct {
	ID          string    `json:"id"`
	Ticker      string    `json:"ticker"`
	Stance      string    `json:"stance"`
	Confidence  float64   `json:"confidence"` // 0-100
	Rationale   string    `json:"rationale"`
	PublishedAt time.Time `json:"published_at"`
}

// Source supplies newly published reports. Implementations own
// dedup of already-delivered reports; Poll returns only unseen ones.
type Source interface {
	Poll(ctx context.Context) ([]Report, error)
}

// NormalizeStance maps free-form stance text onto the closed stance
// set. Unrecognized values degrade to HOLD rather than failing the
// processing cycle.
func NormalizeStance(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case StanceBuy:
		return StanceBuy
	case StanceSell:
		return StanceSell
	case StanceFade:
		return StanceFade
	case StanceHold:
		return StanceHold
	default:
		return StanceHold
	}
}

// ImpliedStance derives the stance a bare confidence number implies:
// above the watch threshold the call is HOLD, at or below it FADE.
func ImpliedStance(confidence, watchThreshold float64) string {
	if confidence > watchThreshold {
		return StanceHold
	}
	return StanceFade
}

// ClampConfidence bounds a confidence value to [0,100].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
