package advisor

import (
	"context"

	"github.com/companywatch/companywatch/internal/marketdata"
	"github.com/companywatch/companywatch/internal/report"
	"github.com/companywatch/companywatch/internal/store"
)

// Mock is a scriptable Advisor for tests. Nil fields abstain.
type Mock struct {
	Assessment   *ReportAssessment
	Surveillance *SurveillanceAction
	Loss         *LossAction
	Premarket    *PremarketAction
	Rebuy        *RebuyAction
	Err          error
}

func (m *Mock) AssessReport(context.Context, report.Report, *marketdata.Quote, *store.Position) (*ReportAssessment, error) {
	return m.Assessment, m.Err
}

func (m *Mock) SurveillanceCheck(context.Context, *store.Position, *marketdata.Quote, *report.Report) (*SurveillanceAction, error) {
	return m.Surveillance, m.Err
}

func (m *Mock) LossCheck(context.Context, *store.Position, *marketdata.Quote, *report.Report) (*LossAction, error) {
	return m.Loss, m.Err
}

func (m *Mock) PremarketCheck(context.Context, *store.Position, *marketdata.Quote, *report.Report) (*PremarketAction, error) {
	return m.Premarket, m.Err
}

func (m *Mock) RebuyCheck(context.Context, report.Report, *marketdata.Quote) (*RebuyAction, error) {
	return m.Rebuy, m.Err
}
