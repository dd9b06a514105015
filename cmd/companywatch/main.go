package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/companywatch/companywatch/internal/advisor"
	"github.com/companywatch/companywatch/internal/analytics"
	"github.com/companywatch/companywatch/internal/config"
	"github.com/companywatch/companywatch/internal/engine"
	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/observ"
	"github.com/companywatch/companywatch/internal/report"
	"github.com/companywatch/companywatch/internal/store"
	"github.com/companywatch/companywatch/internal/tracker"
)

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to YAML config")
		once        = flag.Bool("once", false, "run one full cycle and exit")
		metricsAddr = flag.String("metrics-addr", "", "optional addr for /metrics and /healthz (e.g. :9090)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.Error("config_load_failed", err, nil)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		observ.Error("store_open_failed", err, map[string]any{"path": cfg.DBPath})
		os.Exit(1)
	}
	defer st.Close()

	md, err := marketdata.NewAlphaVantage(marketdata.AlphaVantageConfig{
		APIKey:             cfg.AlphaVantage.APIKey,
		MacroTicker:        cfg.MacroTicker,
		RateLimitPerMinute: cfg.AlphaVantage.RateLimitPerMinute,
		CacheTTLSeconds:    cfg.AlphaVantage.CacheTTLSeconds,
		TimeoutSeconds:     cfg.AlphaVantage.TimeoutSeconds,
	})
	if err != nil {
		observ.Error("marketdata_init_failed", err, nil)
		os.Exit(1)
	}

	var adv advisor.Advisor
	if cfg.Advisor.Enabled {
		oa, err := advisor.NewOpenAI(advisor.OpenAIConfig{
			APIKey:         cfg.Advisor.APIKey,
			Model:          cfg.Advisor.Model,
			TimeoutSeconds: cfg.Advisor.TimeoutSeconds,
			MaxTokens:      cfg.Advisor.MaxTokens,
			Intel:          advisor.NewIntelProvider(md, st),
		})
		if err != nil {
			observ.Error("advisor_init_failed", err, nil)
			os.Exit(1)
		}
		adv = oa
	} else {
		observ.Log("advisor_disabled", map[string]any{"reason": "no API key or disabled in config"})
	}

	eng := engine.New(cfg, st, md, adv)
	trk := tracker.New(cfg, st, md)
	ana := analytics.New(st)
	var src report.Source
	if cfg.ReportDir != "" {
		src = report.NewFileSource(cfg.ReportDir, cfg.Thresholds.ConfidenceWatch)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/healthz", observ.Health())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				observ.Error("metrics_server_failed", err, map[string]any{"addr": *metricsAddr})
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := &daemon{cfg: cfg, eng: eng, trk: trk, ana: ana, src: src}
	observ.Log("starting", map[string]any{
		"ticker": cfg.Ticker, "company": cfg.Company,
		"advisor": adv != nil, "once": *once,
	})

	if *once {
		d.scan(ctx)
		d.track(ctx)
		d.surveil(ctx)
		d.export(ctx)
		return
	}
	d.run(ctx)
	observ.Log("stopped", nil)
}

// daemon drives the periodic cycles. Each cycle is independent; an
// error in one tick is logged and the loop moves on.
type daemon struct {
	cfg config.Root
	eng *engine.Engine
	trk *tracker.Tracker
	ana *analytics.Analytics
	src report.Source

	premarketDone string // YYYY-MM-DD of the last pre-market check
	duckSellDone  string
	duckRebuyDone string
}

func (d *daemon) run(ctx context.Context) {
	iv := d.cfg.Intervals
	scan := time.NewTicker(time.Duration(iv.ScanSeconds) * time.Second)
	track := time.NewTicker(time.Duration(iv.TrackSeconds) * time.Second)
	surveil := time.NewTicker(time.Duration(iv.SurveillanceSeconds) * time.Second)
	export := time.NewTicker(time.Duration(iv.ExportSeconds) * time.Second)
	phase := time.NewTicker(time.Minute)
	defer scan.Stop()
	defer track.Stop()
	defer surveil.Stop()
	defer export.Stop()
	defer phase.Stop()

	d.scan(ctx)
	d.track(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-scan.C:
			d.scan(ctx)
		case <-track.C:
			d.track(ctx)
		case <-surveil.C:
			d.surveil(ctx)
		case <-export.C:
			d.export(ctx)
		case <-phase.C:
			d.phases(ctx)
		}
	}
}

// scan polls the report source and feeds new reports to the engine.
func (d *daemon) scan(ctx context.Context) {
	if d.src == nil {
		return
	}
	reports, err := d.src.Poll(ctx)
	if err != nil {
		observ.Error("report_poll_failed", err, nil)
		return
	}
	for _, r := range reports {
		if r.Ticker == "" {
			r.Ticker = d.cfg.Ticker
		}
		if r.Ticker != d.cfg.Ticker {
			observ.Log("report_ignored_other_ticker", map[string]any{"ticker": r.Ticker, "report_id": r.ID})
			continue
		}
		if err := d.eng.ProcessReport(ctx, r); err != nil {
			observ.Error("report_cycle_failed", err, map[string]any{"report_id": r.ID})
		}
	}
}

func (d *daemon) track(ctx context.Context) {
	if err := d.trk.Track(ctx, d.cfg.Ticker); err != nil {
		observ.Error("track_failed", err, map[string]any{"ticker": d.cfg.Ticker})
	}
}

func (d *daemon) surveil(ctx context.Context) {
	now := time.Now().UTC()
	if !engine.IsMarketOpen(d.cfg.Market, now) {
		return
	}
	if err := d.eng.Surveillance(ctx, d.cfg.Ticker); err != nil {
		observ.Error("surveillance_failed", err, map[string]any{"ticker": d.cfg.Ticker})
	}
}

func (d *daemon) export(ctx context.Context) {
	if err := d.trk.RollUpDay(ctx, d.cfg.Ticker, time.Now().UTC()); err != nil {
		observ.Error("daily_rollup_failed", err, map[string]any{"ticker": d.cfg.Ticker})
	}
	if err := d.ana.WriteSummary(ctx, d.cfg.Ticker, d.cfg.SummaryPath); err != nil {
		observ.Error("summary_export_failed", err, map[string]any{"ticker": d.cfg.Ticker})
	}
	if briefing, err := d.ana.Briefing(ctx, d.cfg.Ticker); err == nil {
		observ.Log("briefing", map[string]any{"text": briefing})
	}
}

// phases runs the once-a-day scheduled moves: the pre-market check
// before the bell and the two duck-and-cover legs after it.
func (d *daemon) phases(ctx context.Context) {
	now := time.Now().UTC()
	day := now.Format("2006-01-02")

	if d.premarketDone != day && engine.InPremarketWindow(d.cfg.Market, d.cfg.Premarket, now) {
		d.premarketDone = day
		if err := d.eng.PremarketCheck(ctx, d.cfg.Ticker); err != nil {
			observ.Error("premarket_failed", err, map[string]any{"ticker": d.cfg.Ticker})
		}
	}

	if !d.cfg.DuckCover.Enabled {
		return
	}
	mins := engine.MinutesSinceOpen(d.cfg.Market, now)
	if mins < 0 {
		return
	}
	if d.duckSellDone != day && mins >= d.cfg.DuckCover.SellMinutesAfterOpen {
		d.duckSellDone = day
		if err := d.eng.DuckSell(ctx, d.cfg.Ticker); err != nil {
			observ.Error("duck_sell_failed", err, map[string]any{"ticker": d.cfg.Ticker})
		}
	}
	if d.duckRebuyDone != day && mins >= d.cfg.DuckCover.RebuyMinutesAfterOpen {
		d.duckRebuyDone = day
		if err := d.eng.DuckRebuy(ctx, d.cfg.Ticker); err != nil {
			observ.Error("duck_rebuy_failed", err, map[string]any{"ticker": d.cfg.Ticker})
		}
	}
}
