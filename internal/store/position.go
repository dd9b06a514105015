package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const positionCols = `id, ticker, state, direction,
	entry_price, entry_time, entry_reason, entry_report_id,
	exit_price, exit_time, exit_reason, exit_report_id,
	current_stance, stance_confidence, report_confidence, house_confidence,
	stance_updated_at, stance_report_id,
	is_ducking, duck_exit_price, duck_exit_time, duck_reason,
	was_overridden, override_reason, override_time,
	realised_pnl_pct, peak_price, trough_price,
	created_at, closed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(r rowScanner) (*Position, error) {
	var p Position
	var direction, entryTime, entryReason, entryReportID sql.NullString
	var exitTime, exitReason, exitReportID sql.NullString
	var stanceUpdatedAt, stanceReportID sql.NullString
	var duckExitTime, duckReason, overrideReason, overrideTime sql.NullString
	var closedAt sql.NullString
	var entryPrice, exitPrice, duckExitPrice, realised, peak, trough sql.NullFloat64
	var isDucking, wasOverridden int
	var createdAt string

	err := r.Scan(
		&p.ID, &p.Ticker, &p.State, &direction,
		&entryPrice, &entryTime, &entryReason, &entryReportID,
		&exitPrice, &exitTime, &exitReason, &exitReportID,
		&p.CurrentStance, &p.StanceConfidence, &p.ReportConfidence, &p.HouseConfidence,
		&stanceUpdatedAt, &stanceReportID,
		&isDucking, &duckExitPrice, &duckExitTime, &duckReason,
		&wasOverridden, &overrideReason, &overrideTime,
		&realised, &peak, &trough,
		&createdAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Direction = direction.String
	p.EntryPrice = entryPrice.Float64
	p.EntryTime = parseTime(entryTime.String)
	p.EntryReason = entryReason.String
	p.EntryReportID = entryReportID.String
	p.ExitPrice = exitPrice.Float64
	p.ExitTime = parseTime(exitTime.String)
	p.ExitReason = exitReason.String
	p.ExitReportID = exitReportID.String
	p.StanceUpdatedAt = parseTime(stanceUpdatedAt.String)
	p.StanceReportID = stanceReportID.String
	p.IsDucking = isDucking != 0
	p.DuckExitPrice = duckExitPrice.Float64
	p.DuckExitTime = parseTime(duckExitTime.String)
	p.DuckReason = duckReason.String
	p.WasOverridden = wasOverridden != 0
	p.OverrideReason = overrideReason.String
	p.OverrideTime = parseTime(overrideTime.String)
	p.RealisedPnLPct = realised.Float64
	p.PeakPrice = peak.Float64
	p.TroughPrice = trough.Float64
	p.CreatedAt = parseTime(createdAt)
	if closedAt.Valid {
		t := parseTime(closedAt.String)
		p.ClosedAt = &t
	}
	return &p, nil
}

// GetOpenPosition returns the ticker's open position (closed_at is
// null), or nil when tracking has not started or everything closed.
func (s *Store) GetOpenPosition(ctx context.Context, ticker string) (*Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM active_positions
		 WHERE ticker=? AND closed_at IS NULL ORDER BY id DESC LIMIT 1`, ticker)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open position: %w", err)
	}
	return p, nil
}

// EnsureOpen returns the open position, creating a FLAT tracking row
// when none exists.
func (s *Store) EnsureOpen(ctx context.Context, ticker string, now time.Time) (*Position, error) {
	p, err := s.GetOpenPosition(ctx, ticker)
	if err != nil || p != nil {
		return p, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO active_positions (ticker, state, current_stance, stance_updated_at, created_at)
		 VALUES (?, ?, 'FADE', ?, ?)`,
		ticker, StateFlat, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("create flat position: %w", err)
	}
	return s.GetOpenPosition(ctx, ticker)
}

// OpenParams describes a new HELD position.
type OpenParams struct {
	Ticker           string
	Direction        string
	Price            float64
	Reason           string
	ReportID         string
	Confidence       float64
	ReportConfidence float64
	HouseConfidence  float64
	Now              time.Time
}

// OpenPosition atomically supersedes any open row and inserts the new
// HELD position. A still-HELD prior row is the engine's bug (it
// closes before reversing); the supersede here keeps the one-open-row
// invariant regardless.
func (s *Store) OpenPosition(ctx context.Context, p OpenParams) (*Position, error) {
	stance := "BUY"
	if p.Direction == DirectionShort {
		stance = "SELL"
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE active_positions SET closed_at=? WHERE ticker=? AND closed_at IS NULL`,
			fmtTime(p.Now), p.Ticker); err != nil {
			return fmt.Errorf("supersede open row: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO active_positions
			 (ticker, state, direction, entry_price, entry_time, entry_reason, entry_report_id,
			  current_stance, stance_confidence, report_confidence, house_confidence,
			  stance_updated_at, stance_report_id, peak_price, trough_price, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Ticker, StateHeld, p.Direction, p.Price, fmtTime(p.Now), p.Reason, nullStr(p.ReportID),
			stance, p.Confidence, p.ReportConfidence, p.HouseConfidence,
			fmtTime(p.Now), nullStr(p.ReportID), p.Price, p.Price, fmtTime(p.Now))
		if err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetOpenPosition(ctx, p.Ticker)
}

// CloseParams describes an exit.
type CloseParams struct {
	Ticker         string
	Price          float64
	Reason         string
	ReportID       string
	RealisedPnLPct float64
	Now            time.Time
}

// ClosePosition closes the currently-open HELD row. Returns
// ErrNoOpenPosition if nothing is held.
func (s *Store) ClosePosition(ctx context.Context, p CloseParams) (*Position, error) {
	open, err := s.GetOpenPosition(ctx, p.Ticker)
	if err != nil {
		return nil, err
	}
	if open == nil || open.State != StateHeld {
		return nil, ErrNoOpenPosition
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE active_positions SET
			state=?, exit_price=?, exit_time=?, exit_reason=?, exit_report_id=?,
			current_stance='FADE', stance_confidence=0, stance_updated_at=?,
			realised_pnl_pct=?, closed_at=?
		 WHERE id=?`,
		StateFlat, p.Price, fmtTime(p.Now), p.Reason, nullStr(p.ReportID),
		fmtTime(p.Now), p.RealisedPnLPct, fmtTime(p.Now), open.ID)
	if err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionCols+` FROM active_positions WHERE id=?`, open.ID)
	return scanPosition(row)
}

// UpdateStance records a new advisory stance on the open row without
// trading.
func (s *Store) UpdateStance(ctx context.Context, id int64, stance string, confidence, reportConf, houseConf float64, reportID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_positions SET
			current_stance=?, stance_confidence=?, report_confidence=?, house_confidence=?,
			stance_updated_at=?, stance_report_id=?
		 WHERE id=? AND closed_at IS NULL`,
		stance, confidence, reportConf, houseConf, fmtTime(now), nullStr(reportID), id)
	if err != nil {
		return fmt.Errorf("update stance: %w", err)
	}
	return nil
}

// MarkOverridden records that the house overrode the report on the
// open row.
func (s *Store) MarkOverridden(ctx context.Context, id int64, reason string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_positions SET was_overridden=1, override_reason=?, override_time=?
		 WHERE id=? AND closed_at IS NULL`,
		reason, fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("mark overridden: %w", err)
	}
	return nil
}

// FlagDuck arms the duck-and-cover flag on the open row.
func (s *Store) FlagDuck(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_positions SET is_ducking=1, duck_reason=? WHERE id=? AND closed_at IS NULL`,
		reason, id)
	if err != nil {
		return fmt.Errorf("flag duck: %w", err)
	}
	return nil
}

// RecordDuckExit stores the sell-at-open price before the exit.
func (s *Store) RecordDuckExit(ctx context.Context, id int64, price float64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_positions SET duck_exit_price=?, duck_exit_time=? WHERE id=?`,
		price, fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("record duck exit: %w", err)
	}
	return nil
}

// UpdateWatermarks ratchets the held position's peak/trough prices.
func (s *Store) UpdateWatermarks(ctx context.Context, id int64, price float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_positions SET
			peak_price = MAX(COALESCE(peak_price, ?), ?),
			trough_price = MIN(COALESCE(trough_price, ?), ?)
		 WHERE id=? AND closed_at IS NULL`,
		price, price, price, price, id)
	if err != nil {
		return fmt.Errorf("update watermarks: %w", err)
	}
	return nil
}

// ClosedPositions returns finished trades, most recent first.
func (s *Store) ClosedPositions(ctx context.Context, ticker string, limit int) ([]*Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionCols+` FROM active_positions
		 WHERE ticker=? AND closed_at IS NOT NULL AND state='FLAT' AND entry_time IS NOT NULL
		 ORDER BY closed_at DESC LIMIT ?`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("closed positions: %w", err)
	}
	defer rows.Close()
	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OpenRowCount counts rows violating the one-open-row invariant when
// above 1; exposed for tests and the health gauge.
func (s *Store) OpenRowCount(ctx context.Context, ticker string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM active_positions WHERE ticker=? AND closed_at IS NULL`, ticker).Scan(&n)
	return n, err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
