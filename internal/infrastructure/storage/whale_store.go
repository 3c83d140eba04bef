package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/perp_scanner/internal/domain"
)

type WhaleStore struct {
	*sqliteDB
}

func NewWhaleStore(path string) (*WhaleStore, error) {
	db, err := openSQLite(path, []string{
		`CREATE TABLE IF NOT EXISTS whale_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id TEXT NOT NULL UNIQUE,
			ts_ms INTEGER NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			usd_value REAL NOT NULL,
			direction TEXT NOT NULL,
			is_buyer_maker BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_whale_trades_ts ON whale_trades(ts_ms);`,
	})
	if err != nil {
		return nil, fmt.Errorf("open whale store: %w", err)
	}
	return &WhaleStore{sqliteDB: db}, nil
}

// InsertWhale stores w unless its trade_id is already present. It reports whether a row was added.
func (s *WhaleStore) InsertWhale(ctx context.Context, w domain.WhaleTrade) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO whale_trades
		(trade_id, ts_ms, price, quantity, usd_value, direction, is_buyer_maker) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.TradeID, toMs(w.Timestamp), w.Price, w.Quantity, w.USDValue, string(w.Direction), w.IsBuyerMaker)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecentWhales returns whale trades newer than since, newest first.
func (s *WhaleStore) RecentWhales(ctx context.Context, since time.Time, limit int) ([]domain.WhaleTrade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT trade_id, ts_ms, price, quantity, usd_value, direction, is_buyer_maker
		FROM whale_trades WHERE ts_ms > ? ORDER BY ts_ms DESC, id DESC LIMIT ?`, toMs(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var whales []domain.WhaleTrade
	for rows.Next() {
		var (
			w   domain.WhaleTrade
			ts  int64
			dir string
		)
		if err := rows.Scan(&w.TradeID, &ts, &w.Price, &w.Quantity, &w.USDValue, &dir, &w.IsBuyerMaker); err != nil {
			return nil, err
		}
		w.Timestamp = fromMs(ts)
		w.Direction = domain.TradeDirection(dir)
		whales = append(whales, w)
	}
	return whales, rows.Err()
}

// WhaleTotalsSince fills counts and notional per side; sentiment is left to the caller.
func (s *WhaleStore) WhaleTotalsSince(ctx context.Context, since time.Time) (domain.WhaleSummary, error) {
	var sum domain.WhaleSummary
	rows, err := s.db.QueryContext(ctx, `SELECT direction, COUNT(*), COALESCE(SUM(usd_value), 0)
		FROM whale_trades WHERE ts_ms > ? GROUP BY direction`, toMs(since))
	if err != nil {
		return sum, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dir   string
			count int
			vol   float64
		)
		if err := rows.Scan(&dir, &count, &vol); err != nil {
			return sum, err
		}
		switch domain.TradeDirection(dir) {
		case domain.DirectionBuy:
			sum.BuyCount, sum.BuyVolumeUSD = count, vol
		case domain.DirectionSell:
			sum.SellCount, sum.SellVolumeUSD = count, vol
		}
	}
	return sum, rows.Err()
}
