// Package store persists completed backtest results to ClickHouse. The
// store is optional; when disabled every call is a no-op.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/analytical-punch/trading-backend/pkg/types"
)

const tradesDDL = `
CREATE TABLE IF NOT EXISTS backtest_trades (
	backtest_id String,
	trade_id    String,
	symbol      String,
	direction   String,
	entry_price Float64,
	entry_time  DateTime64(3, 'UTC'),
	exit_price  Float64,
	exit_time   DateTime64(3, 'UTC'),
	size        Float64,
	pnl         Float64,
	pnl_pct     Float64,
	commission  Float64,
	exit_reason String,
	strategy    String
) ENGINE = MergeTree()
ORDER BY (backtest_id, exit_time)`

const equityDDL = `
CREATE TABLE IF NOT EXISTS backtest_equity (
	backtest_id String,
	ts          DateTime64(3, 'UTC'),
	value       Float64
) ENGINE = MergeTree()
ORDER BY (backtest_id, ts)`

// Store writes backtest results to ClickHouse.
type Store struct {
	logger *zap.Logger
	conn   driver.Conn
}

// Open connects to ClickHouse and ensures the result tables exist.
// Returns (nil, nil) when the store is disabled in config.
func Open(ctx context.Context, logger *zap.Logger, cfg types.StoreConfig) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	s := &Store{logger: logger, conn: conn}
	for _, ddl := range []string{tradesDDL, equityDDL} {
		if err := conn.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("clickhouse migrate: %w", err)
		}
	}
	logger.Info("clickhouse store connected", zap.String("addr", cfg.Addr))
	return s, nil
}

// SaveResult persists the trades and equity curve of a finished run. A nil
// store ignores the call. Persistence failures are returned for logging
// but never invalidate the in-memory result.
func (s *Store) SaveResult(ctx context.Context, result *types.BacktestResult) error {
	if s == nil || result == nil {
		return nil
	}

	if err := s.saveTrades(ctx, result); err != nil {
		return err
	}
	if err := s.saveEquity(ctx, result); err != nil {
		return err
	}
	s.logger.Info("backtest result persisted",
		zap.String("backtest_id", result.BacktestID),
		zap.Int("trades", len(result.Trades)))
	return nil
}

func (s *Store) saveTrades(ctx context.Context, result *types.BacktestResult) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO backtest_trades")
	if err != nil {
		return fmt.Errorf("prepare trades batch: %w", err)
	}
	for _, t := range result.Trades {
		err := batch.Append(
			result.BacktestID,
			t.ID,
			t.Symbol,
			string(t.Direction),
			t.EntryPrice.InexactFloat64(),
			t.EntryTime,
			t.ExitPrice.InexactFloat64(),
			t.ExitTime,
			t.Size.InexactFloat64(),
			t.PnL.InexactFloat64(),
			t.PnLPct.InexactFloat64(),
			t.Commission.InexactFloat64(),
			string(t.ExitReason),
			t.Strategy,
		)
		if err != nil {
			return fmt.Errorf("append trade %s: %w", t.ID, err)
		}
	}
	return batch.Send()
}

func (s *Store) saveEquity(ctx context.Context, result *types.BacktestResult) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO backtest_equity")
	if err != nil {
		return fmt.Errorf("prepare equity batch: %w", err)
	}
	for i, ts := range result.EquityCurve.Timestamps {
		if err := batch.Append(result.BacktestID, ts, result.EquityCurve.Values[i].InexactFloat64()); err != nil {
			return fmt.Errorf("append equity point: %w", err)
		}
	}
	return batch.Send()
}

// Close shuts the connection down. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.conn.Close()
}
