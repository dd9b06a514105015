package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Thresholds are the decision engine's numeric knobs. All values are
// percent unless noted. Loss thresholds are negative.
type Thresholds struct {
	ConfidenceAct        float64 `yaml:"confidence_act"`         // >= this to BUY or SELL
	ConfidenceWatch      float64 `yaml:"confidence_watch"`       // above this implies HOLD, at or below implies FADE
	ProfitTakePct        float64 `yaml:"profit_take_pct"`        // peak P&L that arms profit protection
	ProfitTakeStrongPct  float64 `yaml:"profit_take_strong_pct"` // take profit here unless report conviction is high
	LossStopPct          float64 `yaml:"loss_stop_pct"`          // soft stop, advisor consulted
	LossStopHardPct      float64 `yaml:"loss_stop_hard_pct"`     // unconditional stop
	DrawdownFromPeakPct  float64 `yaml:"drawdown_from_peak_pct"` // retrace from peak that fires profit protection
	OverridePriceMovePct float64 `yaml:"override_price_move_pct"`
	MarketCrashPct       float64 `yaml:"market_crash_pct"` // macro index change that overrides a long
	RideConfidenceMin    float64 `yaml:"ride_confidence_min"`
}

type DuckCover struct {
	Enabled               bool    `yaml:"enabled"`
	SellMinutesAfterOpen  int     `yaml:"sell_minutes_after_open"`
	RebuyMinutesAfterOpen int     `yaml:"rebuy_minutes_after_open"`
	MinConfidence         float64 `yaml:"min_confidence"` // report confidence floor for re-entry
}

type Premarket struct {
	Enabled              bool    `yaml:"enabled"`
	WindowHoursBeforeOpen float64 `yaml:"window_hours_before_open"`
}

// Market describes the primary session in UTC decimal hours.
type Market struct {
	OpenUTC  float64 `yaml:"open_utc"`  // 14.5 = 14:30
	CloseUTC float64 `yaml:"close_utc"` // 21.0
	Days     []int   `yaml:"days"`      // time.Weekday values, Mon-Fri by default
}

type Intervals struct {
	ScanSeconds         int `yaml:"scan_seconds"`
	TrackSeconds        int `yaml:"track_seconds"`
	SurveillanceSeconds int `yaml:"surveillance_seconds"`
	ExportSeconds       int `yaml:"export_seconds"`
}

type AlphaVantage struct {
	APIKey             string `yaml:"-"` // env only, never in the file
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

type Advisor struct {
	Enabled        bool   `yaml:"enabled"`
	APIKey         string `yaml:"-"` // env only
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxTokens      int    `yaml:"max_tokens"`
}

type Root struct {
	Ticker       string       `yaml:"ticker"`
	Company      string       `yaml:"company"`
	MacroTicker  string       `yaml:"macro_ticker"`
	DBPath       string       `yaml:"db_path"`
	ReportDir    string       `yaml:"report_dir"`   // file-backed report source
	SummaryPath  string       `yaml:"summary_path"` // dashboard JSON export
	SnapshotDedupeMinutes int `yaml:"snapshot_dedupe_minutes"`
	Thresholds   Thresholds   `yaml:"thresholds"`
	DuckCover    DuckCover    `yaml:"duck_cover"`
	Premarket    Premarket    `yaml:"premarket"`
	Market       Market       `yaml:"market"`
	Intervals    Intervals    `yaml:"intervals"`
	AlphaVantage AlphaVantage `yaml:"alphavantage"`
	Advisor      Advisor      `yaml:"advisor"`
}

// Load reads the YAML config and fills defaults. Secrets come from the
// environment; a .env next to the process is honored if present.
func Load(path string) (Root, error) {
	_ = godotenv.Load()

	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()

	c.AlphaVantage.APIKey = os.Getenv("ALPHA_VANTAGE_KEY")
	c.Advisor.APIKey = os.Getenv("OPENAI_API_KEY")
	if c.Advisor.APIKey == "" {
		c.Advisor.Enabled = false
	}

	if c.Ticker == "" {
		return c, fmt.Errorf("config: ticker is required")
	}
	return c, nil
}

// Default returns the built-in configuration for tests and dry runs.
func Default(ticker string) Root {
	c := Root{Ticker: ticker}
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.MacroTicker == "" {
		c.MacroTicker = "SPY"
	}
	if c.DBPath == "" {
		c.DBPath = "data/companywatch.db"
	}
	if c.SummaryPath == "" {
		c.SummaryPath = "data/summary.json"
	}
	if c.SnapshotDedupeMinutes == 0 {
		c.SnapshotDedupeMinutes = 50
	}

	t := &c.Thresholds
	if t.ConfidenceAct == 0 {
		t.ConfidenceAct = 65
	}
	if t.ConfidenceWatch == 0 {
		t.ConfidenceWatch = 45
	}
	if t.ProfitTakePct == 0 {
		t.ProfitTakePct = 15
	}
	if t.ProfitTakeStrongPct == 0 {
		t.ProfitTakeStrongPct = 25
	}
	if t.LossStopPct == 0 {
		t.LossStopPct = -10
	}
	if t.LossStopHardPct == 0 {
		t.LossStopHardPct = -15
	}
	if t.DrawdownFromPeakPct == 0 {
		t.DrawdownFromPeakPct = 5
	}
	if t.OverridePriceMovePct == 0 {
		t.OverridePriceMovePct = 8
	}
	if t.MarketCrashPct == 0 {
		t.MarketCrashPct = -3
	}
	if t.RideConfidenceMin == 0 {
		t.RideConfidenceMin = 75
	}

	if c.DuckCover.SellMinutesAfterOpen == 0 {
		c.DuckCover.SellMinutesAfterOpen = 5
	}
	if c.DuckCover.RebuyMinutesAfterOpen == 0 {
		c.DuckCover.RebuyMinutesAfterOpen = 60
	}
	if c.DuckCover.MinConfidence == 0 {
		c.DuckCover.MinConfidence = 70
	}

	if c.Premarket.WindowHoursBeforeOpen == 0 {
		c.Premarket.WindowHoursBeforeOpen = 2
	}

	if c.Market.OpenUTC == 0 {
		c.Market.OpenUTC = 14.5
	}
	if c.Market.CloseUTC == 0 {
		c.Market.CloseUTC = 21.0
	}
	if len(c.Market.Days) == 0 {
		c.Market.Days = []int{1, 2, 3, 4, 5} // Mon-Fri
	}

	iv := &c.Intervals
	if iv.ScanSeconds == 0 {
		iv.ScanSeconds = 30 * 60
	}
	if iv.TrackSeconds == 0 {
		iv.TrackSeconds = 60 * 60
	}
	if iv.SurveillanceSeconds == 0 {
		iv.SurveillanceSeconds = 2 * 60 * 60
	}
	if iv.ExportSeconds == 0 {
		iv.ExportSeconds = 6 * 60 * 60
	}

	av := &c.AlphaVantage
	if av.RateLimitPerMinute == 0 {
		av.RateLimitPerMinute = 5 // free tier
	}
	if av.CacheTTLSeconds == 0 {
		av.CacheTTLSeconds = 60
	}
	if av.TimeoutSeconds == 0 {
		av.TimeoutSeconds = 15
	}

	ad := &c.Advisor
	if ad.Model == "" {
		ad.Model = "gpt-4o-mini"
	}
	if ad.TimeoutSeconds == 0 {
		ad.TimeoutSeconds = 60
	}
	if ad.MaxTokens == 0 {
		ad.MaxTokens = 1024
	}
}
