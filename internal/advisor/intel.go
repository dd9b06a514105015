package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/observ"
	"github.com/companywatch/companywatch/internal/report"
	"github.com/companywatch/companywatch/internal/store"
)

// Intel is the market context assembled for the advisor before a
// call: the macro picture and the recent report trail. It grounds
// the model in observed data instead of its own guesses.
type Intel struct {
	Macro   *marketdata.Quote
	Reports []*report.Report
}

// IntelProvider gathers Intel from the live collaborators. Every
// lookup is best effort; a piece that cannot be fetched is simply
// absent from the briefing.
type IntelProvider struct {
	md marketdata.Source
	st *store.Store
}

func NewIntelProvider(md marketdata.Source, st *store.Store) *IntelProvider {
	return &IntelProvider{md: md, st: st}
}

const intelReportTrail = 5

func (p *IntelProvider) Gather(ctx context.Context, ticker string) Intel {
	var in Intel
	if macro, err := p.md.GetMacroQuote(ctx); err == nil {
		in.Macro = macro
	} else {
		observ.Error("intel_macro_unavailable", err, map[string]any{"ticker": ticker})
	}
	if reps, err := p.st.RecentReports(ctx, ticker, intelReportTrail); err == nil {
		in.Reports = reps
	} else {
		observ.Error("intel_reports_unavailable", err, map[string]any{"ticker": ticker})
	}
	return in
}

// Briefing renders the intel as a prompt block, or "" when there is
// nothing to say.
func (in Intel) Briefing() string {
	if in.Macro == nil && len(in.Reports) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("MARKET CONTEXT\n")
	if in.Macro != nil {
		fmt.Fprintf(&b, "Macro index %s: $%.2f (day change %+.2f%%)\n",
			in.Macro.Ticker, in.Macro.Price, in.Macro.ChangePct)
	}
	if len(in.Reports) > 0 {
		b.WriteString("Recent reports, newest first:\n")
		for _, r := range in.Reports {
			fmt.Fprintf(&b, "- %s: %s %.0f%% (%s)\n",
				r.PublishedAt.UTC().Format("2006-01-02"), r.Stance, r.Confidence, r.Rationale)
		}
	}
	b.WriteString("\n")
	return b.String()
}
