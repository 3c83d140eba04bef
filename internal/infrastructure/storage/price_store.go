package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vitos/perp_scanner/internal/domain"
)

// PriceStore holds ticks, volume snapshots and pattern events for one symbol.
type PriceStore struct {
	*sqliteDB
}

func NewPriceStore(path string) (*PriceStore, error) {
	db, err := openSQLite(path, []string{
		`CREATE TABLE IF NOT EXISTS price_ticks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			price REAL NOT NULL,
			volume_1m REAL,
			mark_price REAL,
			funding_rate REAL,
			open_interest REAL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_price_ticks_ts ON price_ticks(ts_ms);`,
		`CREATE TABLE IF NOT EXISTS volume_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			vol_1m REAL NOT NULL,
			vol_5m REAL NOT NULL,
			vol_15m REAL NOT NULL,
			vol_1h REAL NOT NULL,
			vol_4h REAL NOT NULL,
			vol_24h REAL NOT NULL,
			vol_5m_avg_1h REAL NOT NULL,
			spike_detected BOOLEAN NOT NULL DEFAULT 0,
			trend TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_volume_metrics_ts ON volume_metrics(ts_ms);`,
		`CREATE TABLE IF NOT EXISTS pattern_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			pattern_type TEXT NOT NULL,
			price_start REAL NOT NULL,
			price_end REAL NOT NULL,
			percent_move REAL NOT NULL,
			duration_seconds INTEGER NOT NULL,
			volume_spike BOOLEAN NOT NULL DEFAULT 0,
			description TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_events_ts ON pattern_events(ts_ms);`,
	})
	if err != nil {
		return nil, fmt.Errorf("open price store: %w", err)
	}
	return &PriceStore{sqliteDB: db}, nil
}

func (s *PriceStore) InsertTick(ctx context.Context, t domain.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_ticks (ts_ms, price, volume_1m, mark_price, funding_rate, open_interest) VALUES (?, ?, ?, ?, ?, ?)`,
		toMs(t.Timestamp), t.Price, nullFloat(t.Volume1m), nullFloat(t.MarkPrice), nullFloat(t.FundingRate), nullFloat(t.OpenInterest))
	return err
}

// AverageVolumeSince averages the known volume_1m of ticks newer than since; 0 when there are none.
func (s *PriceStore) AverageVolumeSince(ctx context.Context, since time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(volume_1m) FROM price_ticks WHERE ts_ms > ? AND volume_1m IS NOT NULL`, toMs(since)).Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

func (s *PriceStore) InsertVolumeMetrics(ctx context.Context, m domain.VolumeMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO volume_metrics
		(ts_ms, vol_1m, vol_5m, vol_15m, vol_1h, vol_4h, vol_24h, vol_5m_avg_1h, spike_detected, trend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toMs(m.Timestamp), m.Vol1m, m.Vol5m, m.Vol15m, m.Vol1h, m.Vol4h, m.Vol24h, m.Vol5mAvg1h, m.SpikeDetected, string(m.Trend))
	return err
}

func (s *PriceStore) LatestVolumeMetrics(ctx context.Context) (*domain.VolumeMetrics, error) {
	var (
		m     domain.VolumeMetrics
		ts    int64
		trend string
	)
	err := s.db.QueryRowContext(ctx, `SELECT ts_ms, vol_1m, vol_5m, vol_15m, vol_1h, vol_4h, vol_24h, vol_5m_avg_1h, spike_detected, trend
		FROM volume_metrics ORDER BY ts_ms DESC, id DESC LIMIT 1`).
		Scan(&ts, &m.Vol1m, &m.Vol5m, &m.Vol15m, &m.Vol1h, &m.Vol4h, &m.Vol24h, &m.Vol5mAvg1h, &m.SpikeDetected, &trend)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Timestamp = fromMs(ts)
	m.Trend = domain.VolumeTrend(trend)
	return &m, nil
}

// TicksSince returns ticks newer than since, oldest first.
func (s *PriceStore) TicksSince(ctx context.Context, since time.Time) ([]domain.PriceTick, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts_ms, price, volume_1m, mark_price, funding_rate, open_interest
		FROM price_ticks WHERE ts_ms > ? ORDER BY ts_ms ASC, id ASC`, toMs(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTicks(rows)
}

// RecentTicks returns the latest limit ticks newer than since, oldest first.
func (s *PriceStore) RecentTicks(ctx context.Context, since time.Time, limit int) ([]domain.PriceTick, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts_ms, price, volume_1m, mark_price, funding_rate, open_interest
		FROM price_ticks WHERE ts_ms > ? ORDER BY ts_ms DESC, id DESC LIMIT ?`, toMs(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ticks, err := scanTicks(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(ticks)-1; i < j; i, j = i+1, j-1 {
		ticks[i], ticks[j] = ticks[j], ticks[i]
	}
	return ticks, nil
}

func scanTicks(rows *sql.Rows) ([]domain.PriceTick, error) {
	var ticks []domain.PriceTick
	for rows.Next() {
		var (
			t                      domain.PriceTick
			ts                     int64
			vol, mark, funding, oi sql.NullFloat64
		)
		if err := rows.Scan(&ts, &t.Price, &vol, &mark, &funding, &oi); err != nil {
			return nil, err
		}
		t.Timestamp = fromMs(ts)
		t.Volume1m = floatPtr(vol)
		t.MarkPrice = floatPtr(mark)
		t.FundingRate = floatPtr(funding)
		t.OpenInterest = floatPtr(oi)
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

func (s *PriceStore) InsertPatternEvent(ctx context.Context, ev domain.PatternEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO pattern_events
		(ts_ms, pattern_type, price_start, price_end, percent_move, duration_seconds, volume_spike, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		toMs(ev.Timestamp), string(ev.Type), ev.PriceStart, ev.PriceEnd, ev.PercentMove, ev.DurationSeconds, ev.VolumeSpike, ev.Description)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *PriceStore) PatternStatsSince(ctx context.Context, since time.Time) (map[domain.PatternType]domain.PatternStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pattern_type, COUNT(*), AVG(percent_move)
		FROM pattern_events WHERE ts_ms > ? GROUP BY pattern_type`, toMs(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[domain.PatternType]domain.PatternStat)
	for rows.Next() {
		var (
			typ string
			st  domain.PatternStat
		)
		if err := rows.Scan(&typ, &st.Count, &st.AvgMovePct); err != nil {
			return nil, err
		}
		stats[domain.PatternType(typ)] = st
	}
	return stats, rows.Err()
}

// DeleteBefore prunes ticks, volume snapshots and pattern events older than cutoff.
func (s *PriceStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"price_ticks", "volume_metrics", "pattern_events"} {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE ts_ms < ?`, toMs(cutoff))
		if err != nil {
			return 0, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}
