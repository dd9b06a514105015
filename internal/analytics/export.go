package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/companywatch/companywatch/internal/observ"
	"github.com/companywatch/companywatch/internal/store"
)

// Export is the dashboard JSON payload: the headline summary plus
// chartable daily history and the recent audit trail.
type Export struct {
	Summary   *Summary              `json:"summary"`
	Daily     []*store.DailySummary `json:"daily"`
	Decisions []*store.Decision     `json:"recent_decisions"`
}

// WriteSummary writes the dashboard export atomically: temp file in
// the same directory, then rename. A crashed writer never leaves a
// half-written file behind for the dashboard to choke on.
func (a *Analytics) WriteSummary(ctx context.Context, ticker, path string) error {
	s, err := a.Compute(ctx, ticker)
	if err != nil {
		return err
	}
	daily, err := a.st.DailySummaries(ctx, ticker, 90)
	if err != nil {
		return err
	}
	decisions, err := a.st.RecentDecisions(ctx, ticker, 50)
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(Export{Summary: s, Daily: daily, Decisions: decisions}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("summary dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".summary-*.json")
	if err != nil {
		return fmt.Errorf("summary temp: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close summary: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish summary: %w", err)
	}

	observ.IncCounter("summary_exports_total", map[string]string{"ticker": ticker})
	observ.Log("summary_exported", map[string]any{"ticker": ticker, "path": path, "bytes": len(payload)})
	return nil
}
