package advisor_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companywatch/companywatch/internal/advisor"
	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/report"
	"github.com/companywatch/companywatch/internal/store"
)

func intelHarness(t *testing.T) (*advisor.IntelProvider, *marketdata.Mock, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "watch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	md := marketdata.NewMock()
	return advisor.NewIntelProvider(md, st), md, st
}

func TestGatherBriefingIncludesMacroAndReportTrail(t *testing.T) {
	p, md, st := intelHarness(t)
	ctx := context.Background()

	md.SetMacro(marketdata.Quote{Ticker: "SPY", Price: 500, ChangePct: -1.2})
	published := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	_, err := st.UpsertReport(ctx, report.Report{
		ID: "r1", Ticker: "ACME", Stance: report.StanceBuy, Confidence: 80,
		Rationale: "pipeline readout ahead", PublishedAt: published,
	})
	require.NoError(t, err)
	_, err = st.UpsertReport(ctx, report.Report{
		ID: "r2", Ticker: "ACME", Stance: report.StanceHold, Confidence: 55,
		Rationale: "waiting on guidance", PublishedAt: published.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	briefing := p.Gather(ctx, "ACME").Briefing()
	assert.Contains(t, briefing, "MARKET CONTEXT")
	assert.Contains(t, briefing, "SPY")
	assert.Contains(t, briefing, "-1.20%")
	// Newest report first.
	holdIdx := strings.Index(briefing, "2026-08-28: HOLD 55%")
	buyIdx := strings.Index(briefing, "2026-08-27: BUY 80%")
	require.GreaterOrEqual(t, holdIdx, 0)
	require.GreaterOrEqual(t, buyIdx, 0)
	assert.Less(t, holdIdx, buyIdx)
}

func TestGatherToleratesDeadMarketDataFeed(t *testing.T) {
	p, md, st := intelHarness(t)
	ctx := context.Background()

	md.SetError(marketdata.ErrDataUnavailable)
	_, err := st.UpsertReport(ctx, report.Report{
		ID: "r1", Ticker: "ACME", Stance: report.StanceBuy, Confidence: 80,
		PublishedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	in := p.Gather(ctx, "ACME")
	assert.Nil(t, in.Macro, "macro quote is simply absent when the feed is down")
	require.Len(t, in.Reports, 1)
	assert.Contains(t, in.Briefing(), "BUY 80%")
}

func TestEmptyIntelRendersNothing(t *testing.T) {
	assert.Empty(t, advisor.Intel{}.Briefing())
}
