package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/companywatch/companywatch/internal/report"
)

// AppendDecision writes one immutable audit-log row. The ID and
// timestamp are filled in when absent.
func (s *Store) AppendDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_log
		 (id, ticker, timestamp, decision_type, trigger_kind, report_id,
		  old_stance, new_stance, confidence, report_confidence, house_confidence,
		  reason, price_at_decision, macro_price, macro_change_pct,
		  is_override, override_category)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Ticker, fmtTime(d.Timestamp), d.Type, d.Trigger, nullStr(d.ReportID),
		d.OldStance, d.NewStance, d.Confidence, d.ReportConfidence, d.HouseConfidence,
		d.Reason, nullFloat(d.PriceAtDecision), nullFloat(d.MacroPrice), d.MacroChangePct,
		boolInt(d.IsOverride), nullStr(d.OverrideCategory))
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// HasDecisionForReport reports whether any decision already references
// the report. This is the idempotency gate for report reprocessing.
func (s *Store) HasDecisionForReport(ctx context.Context, ticker, reportID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decision_log WHERE ticker=? AND report_id=?`,
		ticker, reportID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check report decisions: %w", err)
	}
	return n > 0, nil
}

// RecentDecisions returns the newest audit rows first.
func (s *Store) RecentDecisions(ctx context.Context, ticker string, limit int) ([]*Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticker, timestamp, decision_type, trigger_kind, report_id,
		        old_stance, new_stance, confidence, report_confidence, house_confidence,
		        reason, price_at_decision, macro_price, macro_change_pct,
		        is_override, override_category
		 FROM decision_log WHERE ticker=? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("recent decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		var d Decision
		var ts string
		var reportID, oldStance, newStance, reason, overrideCat sql.NullString
		var conf, reportConf, houseConf, price, macroPrice, macroChange sql.NullFloat64
		var isOverride int
		if err := rows.Scan(&d.ID, &d.Ticker, &ts, &d.Type, &d.Trigger, &reportID,
			&oldStance, &newStance, &conf, &reportConf, &houseConf,
			&reason, &price, &macroPrice, &macroChange,
			&isOverride, &overrideCat); err != nil {
			return nil, err
		}
		d.Timestamp = parseTime(ts)
		d.ReportID = reportID.String
		d.OldStance = oldStance.String
		d.NewStance = newStance.String
		d.Confidence = conf.Float64
		d.ReportConfidence = reportConf.Float64
		d.HouseConfidence = houseConf.Float64
		d.Reason = reason.String
		d.PriceAtDecision = price.Float64
		d.MacroPrice = macroPrice.Float64
		d.MacroChangePct = macroChange.Float64
		d.IsOverride = isOverride != 0
		d.OverrideCategory = overrideCat.String
		out = append(out, &d)
	}
	return out, rows.Err()
}

// UpsertReport stores an ingested report. Returns false when the
// report id was already present (duplicate delivery).
func (s *Store) UpsertReport(ctx context.Context, r report.Report) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reports (id, ticker, stance, confidence, rationale, published_at, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Ticker, r.Stance, r.Confidence, r.Rationale,
		fmtTime(r.PublishedAt), fmtTime(time.Now().UTC()))
	if err != nil {
		return false, fmt.Errorf("upsert report: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LatestReport returns the most recently published report, or nil.
func (s *Store) LatestReport(ctx context.Context, ticker string) (*report.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ticker, stance, confidence, rationale, published_at
		 FROM reports WHERE ticker=? ORDER BY published_at DESC LIMIT 1`, ticker)
	var r report.Report
	var rationale sql.NullString
	var published string
	err := row.Scan(&r.ID, &r.Ticker, &r.Stance, &r.Confidence, &rationale, &published)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest report: %w", err)
	}
	r.Rationale = rationale.String
	r.PublishedAt = parseTime(published)
	return &r, nil
}

// RecentReports returns the most recently published reports first.
func (s *Store) RecentReports(ctx context.Context, ticker string, limit int) ([]*report.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticker, stance, confidence, rationale, published_at
		 FROM reports WHERE ticker=? ORDER BY published_at DESC LIMIT ?`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("recent reports: %w", err)
	}
	defer rows.Close()
	var out []*report.Report
	for rows.Next() {
		var r report.Report
		var rationale sql.NullString
		var published string
		if err := rows.Scan(&r.ID, &r.Ticker, &r.Stance, &r.Confidence, &rationale, &published); err != nil {
			return nil, err
		}
		r.Rationale = rationale.String
		r.PublishedAt = parseTime(published)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}
