package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

// PostgresWarehouse implements Warehouse against a Postgres table keyed
// by (market, provider, symbol, timeframe, timestamp_ms). timestamp_ms
// is stored as BIGINT, not TIMESTAMP, per spec §9's decision to
// standardize on millisecond integers and convert only at process
// boundaries — there is no conversion boundary here because the column
// itself is an integer.
//
// Expected schema:
//
//	CREATE TABLE ohlcv_bars (
//	    market      TEXT NOT NULL,
//	    provider    TEXT NOT NULL,
//	    symbol      TEXT NOT NULL,
//	    timeframe   TEXT NOT NULL,
//	    timestamp_ms BIGINT NOT NULL,
//	    open DOUBLE PRECISION NOT NULL,
//	    high DOUBLE PRECISION NOT NULL,
//	    low DOUBLE PRECISION NOT NULL,
//	    close DOUBLE PRECISION NOT NULL,
//	    volume DOUBLE PRECISION NOT NULL,
//	    PRIMARY KEY (market, provider, symbol, timeframe, timestamp_ms)
//	);
type PostgresWarehouse struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresWarehouse wraps an already-opened *sqlx.DB. timeout bounds
// every individual query.
func NewPostgresWarehouse(db *sqlx.DB, timeout time.Duration) *PostgresWarehouse {
	return &PostgresWarehouse{db: db, timeout: timeout}
}

func (w *PostgresWarehouse) RangeQuery(ctx context.Context, key Key, sinceMs, untilMs int64, limit int) ([]pluginapi.OHLCVBar, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	const query = `
		SELECT timestamp_ms, open, high, low, close, volume
		FROM ohlcv_bars
		WHERE market = $1 AND provider = $2 AND symbol = $3 AND timeframe = $4
		  AND timestamp_ms >= $5 AND timestamp_ms < $6
		ORDER BY timestamp_ms ASC
		LIMIT $7`

	rows, err := w.db.QueryxContext(ctx, query, key.Market, key.Provider, key.Symbol, key.Timeframe, sinceMs, untilMs, limit)
	if err != nil {
		return nil, fmt.Errorf("warehouse: range query: %w", err)
	}
	defer rows.Close()

	var out []pluginapi.OHLCVBar
	for rows.Next() {
		var b pluginapi.OHLCVBar
		if err := rows.Scan(&b.TimestampMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("warehouse: scan bar: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (w *PostgresWarehouse) Upsert(ctx context.Context, key Key, bars []pluginapi.OHLCVBar) error {
	if len(bars) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout*time.Duration(len(bars)/100+1))
	defer cancel()

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("warehouse: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ohlcv_bars (market, provider, symbol, timeframe, timestamp_ms, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (market, provider, symbol, timeframe, timestamp_ms)
		DO UPDATE SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		              close = EXCLUDED.close, volume = EXCLUDED.volume`)
	if err != nil {
		return fmt.Errorf("warehouse: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, key.Market, key.Provider, key.Symbol, key.Timeframe,
			b.TimestampMs, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				return fmt.Errorf("warehouse: upsert bar (pq code %s): %w", pqErr.Code, err)
			}
			return fmt.Errorf("warehouse: upsert bar: %w", err)
		}
	}

	return tx.Commit()
}

func (w *PostgresWarehouse) HasAnyInRange(ctx context.Context, key Key, sinceMs, beforeMs int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	const query = `
		SELECT EXISTS(
			SELECT 1 FROM ohlcv_bars
			WHERE market = $1 AND provider = $2 AND symbol = $3 AND timeframe = $4
			  AND timestamp_ms >= $5 AND timestamp_ms < $6
		)`

	var exists bool
	err := w.db.QueryRowxContext(ctx, query, key.Market, key.Provider, key.Symbol, key.Timeframe, sinceMs, beforeMs).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("warehouse: has_any_in_range: %w", err)
	}
	return exists, nil
}
