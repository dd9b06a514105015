// Package marketdata is the interface boundary to the price-quote
// collaborator. The engine abstains rather than fabricate when a
// quote is unavailable.
package marketdata

import (
	"context"
	"errors"
	"time"
)

// ErrDataUnavailable means no usable quote this cycle; callers skip
// the check and retry on the next tick.
var ErrDataUnavailable = errors.New("marketdata: data unavailable")

// Quote is a normalized snapshot of one ticker.
type Quote struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    float64   `json:"volume"`
	ChangePct float64   `json:"change_pct"`
	Timestamp time.Time `json:"timestamp"`
}

// Source supplies quotes for the watched ticker and the macro index
// proxy. Implementations must bound every call with a hard timeout.
type Source interface {
	GetQuote(ctx context.Context, ticker string) (*Quote, error)
	GetMacroQuote(ctx context.Context) (*Quote, error)
}
