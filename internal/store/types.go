package store

import "time"

// Position states.
const (
	StateFlat = "FLAT"
	StateHeld = "HELD"
)

// Position directions.
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Decision types recorded in the audit log.
const (
	DecisionEntry         = "ENTRY"
	DecisionExit          = "EXIT"
	DecisionStanceUpdate  = "STANCE_UPDATE"
	DecisionOverride      = "OVERRIDE"
	DecisionPremarketDuck = "PREMARKET_DUCK"
	DecisionPremarketExit = "PREMARKET_EXIT"
)

// What prompted a decision.
const (
	TriggerReport     = "report"
	TriggerAutonomous = "autonomous"
	TriggerPremarket  = "premarket"
)

// Position is one buy/sell cycle on the active line. At most one row
// per ticker has ClosedAt == nil.
type Position struct {
	ID        int64
	Ticker    string
	State     string
	Direction string

	EntryPrice    float64
	EntryTime     time.Time
	EntryReason   string
	EntryReportID string

	ExitPrice    float64
	ExitTime     time.Time
	ExitReason   string
	ExitReportID string

	CurrentStance    string
	StanceConfidence float64
	ReportConfidence float64
	HouseConfidence  float64
	StanceUpdatedAt  time.Time
	StanceReportID   string

	IsDucking     bool
	DuckExitPrice float64
	DuckExitTime  time.Time
	DuckReason    string

	WasOverridden  bool
	OverrideReason string
	OverrideTime   time.Time

	RealisedPnLPct float64
	PeakPrice      float64
	TroughPrice    float64

	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Held reports whether the position is currently open in the market.
func (p *Position) Held() bool {
	return p != nil && p.State == StateHeld && p.ClosedAt == nil
}

// PassivePosition is the buy-and-hold benchmark: opened at the first
// price observation, never traded again.
type PassivePosition struct {
	ID         int64
	Ticker     string
	EntryPrice float64
	EntryTime  time.Time
	IsActive   bool
}

// Decision is one immutable audit-log row.
type Decision struct {
	ID        string
	Ticker    string
	Timestamp time.Time
	Type      string
	Trigger   string
	ReportID  string

	OldStance        string
	NewStance        string
	Confidence       float64
	ReportConfidence float64
	HouseConfidence  float64
	Reason           string

	PriceAtDecision float64
	MacroPrice      float64
	MacroChangePct  float64

	IsOverride       bool
	OverrideCategory string
}

// Snapshot is one price observation with both lines' P&L computed at
// sample time.
type Snapshot struct {
	ID        int64
	Ticker    string
	Timestamp time.Time
	Price     float64
	Open      float64
	High      float64
	Low       float64
	Volume    float64
	ChangePct float64

	ActivePnLPct  *float64
	PassivePnLPct *float64
	ActiveState   string
}

// DailySummary is one row per trading day for charting and the
// dashboard export.
type DailySummary struct {
	Ticker string
	Date   string // YYYY-MM-DD

	OpenPrice  float64
	ClosePrice float64
	HighPrice  float64
	LowPrice   float64

	ActiveStance       string
	ActivePnLPct       *float64
	ActivePositionHeld bool
	PassivePnLPct      *float64
	AlphaPct           *float64

	ReportReceived   bool
	ReportStance     string
	ReportConfidence float64
}
