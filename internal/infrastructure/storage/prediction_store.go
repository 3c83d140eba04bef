package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vitos/perp_scanner/internal/domain"
)

// PredictionStore is the decision ledger. Rows are never deleted.
type PredictionStore struct {
	*sqliteDB
}

func NewPredictionStore(path string) (*PredictionStore, error) {
	db, err := openSQLite(path, []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			recommendation TEXT NOT NULL,
			entry_price REAL NOT NULL DEFAULT 0,
			exit_price REAL NOT NULL DEFAULT 0,
			stop_price REAL NOT NULL DEFAULT 0,
			leverage INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			reasoning TEXT,
			key_factors TEXT,
			features TEXT NOT NULL,
			current_price REAL NOT NULL,
			signal_strength REAL NOT NULL DEFAULT 0,
			orderflow_direction TEXT,
			whale_sentiment TEXT,
			price_1h_later REAL,
			price_4h_later REAL,
			price_24h_later REAL,
			actual_move_1h REAL,
			actual_move_4h REAL,
			actual_move_24h REAL,
			outcome TEXT,
			was_correct BOOLEAN,
			profit_if_followed REAL,
			last_checked INTEGER,
			actual_profit_usd REAL,
			wallet_size_usd REAL,
			actual_entry_price REAL,
			actual_exit_price REAL,
			actual_leverage INTEGER,
			exit_reason TEXT,
			hold_time_hours REAL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_ts ON predictions(ts_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_outcome ON predictions(outcome);`,
	})
	if err != nil {
		return nil, fmt.Errorf("open prediction store: %w", err)
	}
	return &PredictionStore{sqliteDB: db}, nil
}

const predictionColumns = `id, ts_ms, recommendation, entry_price, exit_price, stop_price, leverage, confidence,
	reasoning, key_factors, features, price_1h_later, price_4h_later, price_24h_later,
	actual_move_1h, actual_move_4h, actual_move_24h, outcome, was_correct, profit_if_followed, last_checked,
	actual_profit_usd, wallet_size_usd, actual_entry_price, actual_exit_price, exit_reason, hold_time_hours`

const resolvedFilter = `outcome IS NOT NULL AND outcome != 'PENDING'`

func (s *PredictionStore) InsertPrediction(ctx context.Context, p *domain.Prediction) (int64, error) {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return 0, fmt.Errorf("encode features: %w", err)
	}
	factors, err := json.Marshal(p.KeyFactors)
	if err != nil {
		return 0, fmt.Errorf("encode key factors: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO predictions
		(ts_ms, recommendation, entry_price, exit_price, stop_price, leverage, confidence, reasoning, key_factors,
		 features, current_price, signal_strength, orderflow_direction, whale_sentiment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toMs(p.Timestamp), string(p.Recommendation), p.EntryPrice, p.ExitPrice, p.StopPrice, p.Leverage, p.Confidence,
		p.Reasoning, string(factors), string(features), p.Features.CurrentPrice, p.Features.SignalStrength,
		p.Features.OrderflowDirection, p.Features.WhaleSentiment)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *PredictionStore) GetPrediction(ctx context.Context, id int64) (*domain.Prediction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE id = ?`, id)
	p, err := scanPrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

// UnresolvedPredictions returns rows with no outcome yet that have a horizon due at now
// and not yet filled, or are old enough to finalize, newest first.
func (s *PredictionStore) UnresolvedPredictions(ctx context.Context, now time.Time, limit int) ([]domain.Prediction, error) {
	nowMs := toMs(now)
	return s.queryPredictions(ctx, `SELECT `+predictionColumns+` FROM predictions
		WHERE outcome IS NULL AND current_price > 0 AND (
			(ts_ms <= ? AND price_1h_later IS NULL) OR
			(ts_ms <= ? AND price_4h_later IS NULL) OR
			ts_ms <= ?)
		ORDER BY ts_ms DESC, id DESC LIMIT ?`,
		nowMs-time.Hour.Milliseconds(), nowMs-(4*time.Hour).Milliseconds(), nowMs-(24*time.Hour).Milliseconds(), limit)
}

func (s *PredictionStore) RecentPredictions(ctx context.Context, limit int) ([]domain.Prediction, error) {
	return s.queryPredictions(ctx, `SELECT `+predictionColumns+` FROM predictions
		ORDER BY ts_ms DESC, id DESC LIMIT ?`, limit)
}

func (s *PredictionStore) queryPredictions(ctx context.Context, query string, args ...any) ([]domain.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrediction(r rowScanner) (*domain.Prediction, error) {
	var (
		p                                   domain.Prediction
		ts                                  int64
		rec                                 string
		reasoning, factors, outcome, reason sql.NullString
		features                            string
		p1, p4, p24, m1, m4, m24            sql.NullFloat64
		profitIf, actualProfit, wallet      sql.NullFloat64
		actualEntry, actualExit, holdHours  sql.NullFloat64
		wasCorrect                          sql.NullBool
		lastChecked                         sql.NullInt64
	)
	err := r.Scan(&p.ID, &ts, &rec, &p.EntryPrice, &p.ExitPrice, &p.StopPrice, &p.Leverage, &p.Confidence,
		&reasoning, &factors, &features, &p1, &p4, &p24, &m1, &m4, &m24, &outcome, &wasCorrect, &profitIf, &lastChecked,
		&actualProfit, &wallet, &actualEntry, &actualExit, &reason, &holdHours)
	if err != nil {
		return nil, err
	}

	p.Timestamp = fromMs(ts)
	p.Recommendation = domain.Recommendation(rec)
	p.Reasoning = reasoning.String
	if factors.Valid && factors.String != "" {
		if err := json.Unmarshal([]byte(factors.String), &p.KeyFactors); err != nil {
			return nil, fmt.Errorf("decode key factors of prediction %d: %w", p.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return nil, fmt.Errorf("decode features of prediction %d: %w", p.ID, err)
	}

	p.Price1h, p.Price4h, p.Price24h = floatPtr(p1), floatPtr(p4), floatPtr(p24)
	p.Move1h, p.Move4h, p.Move24h = floatPtr(m1), floatPtr(m4), floatPtr(m24)
	p.Outcome = domain.Outcome(outcome.String)
	if wasCorrect.Valid {
		v := wasCorrect.Bool
		p.WasCorrect = &v
	}
	p.ProfitIfFollowed = floatPtr(profitIf)
	if lastChecked.Valid {
		t := fromMs(lastChecked.Int64)
		p.LastChecked = &t
	}
	p.ActualProfitUSD = floatPtr(actualProfit)
	p.WalletSizeUSD = floatPtr(wallet)
	p.ActualEntryPrice = floatPtr(actualEntry)
	p.ActualExitPrice = floatPtr(actualExit)
	p.ExitReason = reason.String
	p.HoldTimeHours = floatPtr(holdHours)
	return &p, nil
}

// FillHorizon sets the price and move for h only if they are still empty.
func (s *PredictionStore) FillHorizon(ctx context.Context, id int64, h domain.Horizon, price, movePct float64, checkedAt time.Time) error {
	var priceCol, moveCol string
	switch h {
	case domain.Horizon1h:
		priceCol, moveCol = "price_1h_later", "actual_move_1h"
	case domain.Horizon4h:
		priceCol, moveCol = "price_4h_later", "actual_move_4h"
	case domain.Horizon24h:
		priceCol, moveCol = "price_24h_later", "actual_move_24h"
	default:
		return fmt.Errorf("unknown horizon %dh", h)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE predictions SET %s = ?, %s = ?, last_checked = ? WHERE id = ? AND %s IS NULL`, priceCol, moveCol, priceCol),
		price, movePct, toMs(checkedAt), id)
	return err
}

// Finalize writes the 24h verdict unless an outcome is already recorded.
func (s *PredictionStore) Finalize(ctx context.Context, id int64, r domain.Resolution, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE predictions SET outcome = ?, was_correct = ?, profit_if_followed = ?, last_checked = ?
		WHERE id = ? AND outcome IS NULL`,
		string(r.Outcome), r.WasCorrect, r.ProfitIfFollowed, toMs(checkedAt), id)
	return err
}

// RecordTradeResult stores a realized close; it overrides any horizon-derived outcome.
func (s *PredictionStore) RecordTradeResult(ctx context.Context, id int64, r domain.TradeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE predictions SET
		actual_entry_price = ?, actual_exit_price = ?, exit_reason = ?, hold_time_hours = ?, wallet_size_usd = ?,
		actual_leverage = ?, actual_profit_usd = ?, profit_if_followed = ?, outcome = ?, was_correct = ?
		WHERE id = ?`,
		r.EntryPrice, r.ExitPrice, string(r.ExitReason), r.HoldHours, r.WalletSizeUSD,
		r.Leverage, r.ProfitUSD, r.ProfitIfFollowed, string(r.Outcome), r.Outcome == domain.OutcomeWin, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("prediction %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PredictionStore) OverallStats(ctx context.Context) (domain.PredictionStats, error) {
	var (
		st        domain.PredictionStats
		avgProfit sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'WIN' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'LOSS' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'CORRECT_WAIT' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'MISSED_OPPORTUNITY' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'NO_MOVE' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN was_correct = 1 THEN 1 ELSE 0 END), 0),
			AVG(profit_if_followed),
			COALESCE(SUM(actual_profit_usd), 0),
			COALESCE(SUM(CASE WHEN profit_if_followed > 0 THEN profit_if_followed ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN profit_if_followed < 0 THEN -profit_if_followed ELSE 0 END), 0)
		FROM predictions WHERE `+resolvedFilter).
		Scan(&st.Total, &st.Wins, &st.Losses, &st.CorrectWaits, &st.Missed, &st.NoMove, &st.Correct,
			&avgProfit, &st.TotalProfitUSD, &st.GrossProfit, &st.GrossLoss)
	if err != nil {
		return st, err
	}

	st.AvgProfitPct = avgProfit.Float64
	if st.Total > 0 {
		st.AccuracyPct = float64(st.Correct) / float64(st.Total) * 100
	}
	if decided := st.Wins + st.Losses; decided > 0 {
		st.WinRatePct = float64(st.Wins) / float64(decided) * 100
	}
	// 0 means undefined: no losing predictions yet.
	if st.GrossLoss > 0 {
		st.ProfitFactor = st.GrossProfit / st.GrossLoss
	}
	return st, nil
}

func (s *PredictionStore) ConditionStats(ctx context.Context) ([]domain.ConditionStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT COALESCE(orderflow_direction, ''), COALESCE(whale_sentiment, ''), COUNT(*),
			SUM(CASE WHEN outcome = 'WIN' OR was_correct = 1 THEN 1 ELSE 0 END),
			COALESCE(AVG(profit_if_followed), 0)
		FROM predictions WHERE `+resolvedFilter+`
		GROUP BY orderflow_direction, whale_sentiment
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ConditionStat
	for rows.Next() {
		var c domain.ConditionStat
		if err := rows.Scan(&c.OrderflowDirection, &c.WhaleSentiment, &c.Count, &c.Wins, &c.AvgProfitPct); err != nil {
			return nil, err
		}
		if c.Count > 0 {
			c.WinRatePct = float64(c.Wins) / float64(c.Count) * 100
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BestConditions ranks buy-class signal buckets by average profit.
func (s *PredictionStore) BestConditions(ctx context.Context, minSamples, limit int) ([]domain.ConditionBucket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT CAST(ROUND(signal_strength / 10.0) * 10 AS INTEGER) AS bucket,
			COALESCE(orderflow_direction, ''), COALESCE(whale_sentiment, ''), COUNT(*) AS n,
			SUM(CASE WHEN outcome = 'WIN' THEN 1 ELSE 0 END),
			COALESCE(AVG(profit_if_followed), 0) AS avg_profit
		FROM predictions
		WHERE `+resolvedFilter+` AND recommendation IN ('BUY_NOW', 'STRONG_BUY')
		GROUP BY bucket, orderflow_direction, whale_sentiment
		HAVING n >= ?
		ORDER BY avg_profit DESC
		LIMIT ?`, minSamples, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ConditionBucket
	for rows.Next() {
		var (
			b    domain.ConditionBucket
			wins int
		)
		if err := rows.Scan(&b.SignalBucket, &b.OrderflowDirection, &b.WhaleSentiment, &b.Count, &wins, &b.AvgProfitPct); err != nil {
			return nil, err
		}
		if b.Count > 0 {
			b.WinRatePct = float64(wins) / float64(b.Count) * 100
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
