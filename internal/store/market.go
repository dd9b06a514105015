package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnsurePassivePosition opens the buy-and-hold benchmark at the given
// price if it does not exist yet. It is never updated afterwards.
func (s *Store) EnsurePassivePosition(ctx context.Context, ticker string, price float64, now time.Time) (*PassivePosition, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO passive_position (ticker, entry_price, entry_time) VALUES (?, ?, ?)`,
		ticker, price, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("ensure passive position: %w", err)
	}
	return s.GetPassivePosition(ctx, ticker)
}

// GetPassivePosition returns the benchmark position, or nil before the
// first price observation.
func (s *Store) GetPassivePosition(ctx context.Context, ticker string) (*PassivePosition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ticker, entry_price, entry_time, is_active
		 FROM passive_position WHERE ticker=? AND is_active=1`, ticker)
	var p PassivePosition
	var entryTime string
	var isActive int
	err := row.Scan(&p.ID, &p.Ticker, &p.EntryPrice, &entryTime, &isActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get passive position: %w", err)
	}
	p.EntryTime = parseTime(entryTime)
	p.IsActive = isActive != 0
	return &p, nil
}

// AppendSnapshot records one price observation. Observations inside
// the dedup window of the previous one are suppressed; returns false
// when suppressed.
func (s *Store) AppendSnapshot(ctx context.Context, snap Snapshot, dedupe time.Duration) (bool, error) {
	if dedupe > 0 {
		var n int
		cutoff := snap.Timestamp.Add(-dedupe)
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM price_snapshots WHERE ticker=? AND timestamp > ?`,
			snap.Ticker, fmtTime(cutoff)).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("snapshot dedup check: %w", err)
		}
		if n > 0 {
			return false, nil
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO price_snapshots
		 (ticker, timestamp, price, open_price, high, low, volume, change_pct,
		  active_pnl_pct, passive_pnl_pct, active_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Ticker, fmtTime(snap.Timestamp), snap.Price, snap.Open, snap.High, snap.Low,
		snap.Volume, snap.ChangePct, snap.ActivePnLPct, snap.PassivePnLPct, nullStr(snap.ActiveState))
	if err != nil {
		return false, fmt.Errorf("append snapshot: %w", err)
	}
	return true, nil
}

func scanSnapshot(r rowScanner) (*Snapshot, error) {
	var sn Snapshot
	var ts string
	var open, high, low, volume, change sql.NullFloat64
	var activePnL, passivePnL sql.NullFloat64
	var state sql.NullString
	err := r.Scan(&sn.ID, &sn.Ticker, &ts, &sn.Price, &open, &high, &low, &volume, &change,
		&activePnL, &passivePnL, &state)
	if err != nil {
		return nil, err
	}
	sn.Timestamp = parseTime(ts)
	sn.Open = open.Float64
	sn.High = high.Float64
	sn.Low = low.Float64
	sn.Volume = volume.Float64
	sn.ChangePct = change.Float64
	if activePnL.Valid {
		v := activePnL.Float64
		sn.ActivePnLPct = &v
	}
	if passivePnL.Valid {
		v := passivePnL.Float64
		sn.PassivePnLPct = &v
	}
	sn.ActiveState = state.String
	return &sn, nil
}

const snapshotCols = `id, ticker, timestamp, price, open_price, high, low, volume, change_pct,
	active_pnl_pct, passive_pnl_pct, active_state`

// LatestSnapshot returns the newest price observation, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, ticker string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM price_snapshots
		 WHERE ticker=? ORDER BY timestamp DESC LIMIT 1`, ticker)
	sn, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return sn, nil
}

// FirstSnapshotSince returns the earliest observation at or after t:
// the price the market showed when a report landed.
func (s *Store) FirstSnapshotSince(ctx context.Context, ticker string, t time.Time) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotCols+` FROM price_snapshots
		 WHERE ticker=? AND timestamp >= ? ORDER BY timestamp ASC LIMIT 1`,
		ticker, fmtTime(t))
	sn, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first snapshot since: %w", err)
	}
	return sn, nil
}

// SnapshotsOnDate returns the day's observations in time order, for
// the daily summary roll-up. date is YYYY-MM-DD in UTC.
func (s *Store) SnapshotsOnDate(ctx context.Context, ticker, date string) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotCols+` FROM price_snapshots
		 WHERE ticker=? AND substr(timestamp, 1, 10)=? ORDER BY timestamp ASC`,
		ticker, date)
	if err != nil {
		return nil, fmt.Errorf("snapshots on date: %w", err)
	}
	defer rows.Close()
	var out []*Snapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// ReportOnDate reports whether a report was published on the UTC day.
func (s *Store) ReportOnDate(ctx context.Context, ticker, date string) (string, float64, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT stance, confidence FROM reports
		 WHERE ticker=? AND substr(published_at, 1, 10)=?
		 ORDER BY published_at DESC LIMIT 1`, ticker, date)
	var stance string
	var conf float64
	err := row.Scan(&stance, &conf)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("report on date: %w", err)
	}
	return stance, conf, true, nil
}

// UpsertDailySummary replaces the day's roll-up row.
func (s *Store) UpsertDailySummary(ctx context.Context, d DailySummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO daily_summary
		 (ticker, date, open_price, close_price, high_price, low_price,
		  active_stance, active_pnl_pct, active_position_held,
		  passive_pnl_pct, alpha_pct, report_received, report_stance, report_confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Ticker, d.Date, d.OpenPrice, d.ClosePrice, d.HighPrice, d.LowPrice,
		nullStr(d.ActiveStance), d.ActivePnLPct, boolInt(d.ActivePositionHeld),
		d.PassivePnLPct, d.AlphaPct, boolInt(d.ReportReceived),
		nullStr(d.ReportStance), d.ReportConfidence)
	if err != nil {
		return fmt.Errorf("upsert daily summary: %w", err)
	}
	return nil
}

// DailySummaries returns up to limit most recent days, oldest first.
func (s *Store) DailySummaries(ctx context.Context, ticker string, limit int) ([]*DailySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, date, open_price, close_price, high_price, low_price,
		        active_stance, active_pnl_pct, active_position_held,
		        passive_pnl_pct, alpha_pct, report_received, report_stance, report_confidence
		 FROM daily_summary WHERE ticker=? ORDER BY date DESC LIMIT ?`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("daily summaries: %w", err)
	}
	defer rows.Close()
	var out []*DailySummary
	for rows.Next() {
		var d DailySummary
		var stance, reportStance sql.NullString
		var activePnL, passivePnL, alpha, reportConf sql.NullFloat64
		var held, received int
		if err := rows.Scan(&d.Ticker, &d.Date, &d.OpenPrice, &d.ClosePrice, &d.HighPrice, &d.LowPrice,
			&stance, &activePnL, &held, &passivePnL, &alpha, &received, &reportStance, &reportConf); err != nil {
			return nil, err
		}
		d.ActiveStance = stance.String
		if activePnL.Valid {
			v := activePnL.Float64
			d.ActivePnLPct = &v
		}
		if passivePnL.Valid {
			v := passivePnL.Float64
			d.PassivePnLPct = &v
		}
		if alpha.Valid {
			v := alpha.Float64
			d.AlphaPct = &v
		}
		d.ActivePositionHeld = held != 0
		d.ReportReceived = received != 0
		d.ReportStance = reportStance.String
		d.ReportConfidence = reportConf.Float64
		out = append(out, &d)
	}
	// oldest first for charting
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
