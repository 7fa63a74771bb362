// Package warehouse defines the external OHLCV key/value store
// interface (spec §1, §6) and two implementations: an in-memory one
// for tests and a postgres-backed one for production.
package warehouse

import (
	"context"

	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

// Key identifies one OHLCV warehouse row.
type Key struct {
	Market    string
	Provider  string
	Symbol    string
	Timeframe string
}

// Warehouse is the external byte-addressable OHLCV store with range
// queries, treated per spec §1 as an out-of-core collaborator. Every
// timestamp is a millisecond UTC epoch (spec §9's standardization
// decision).
type Warehouse interface {
	// RangeQuery returns bars for key with since <= timestamp_ms <
	// until, ascending, at most limit bars.
	RangeQuery(ctx context.Context, key Key, sinceMs, untilMs int64, limit int) ([]pluginapi.OHLCVBar, error)

	// Upsert idempotently writes bars keyed by
	// (market,provider,symbol,timeframe,timestamp_ms).
	Upsert(ctx context.Context, key Key, bars []pluginapi.OHLCVBar) error

	// HasAnyInRange probes whether any bar exists in [sinceMs, beforeMs).
	HasAnyInRange(ctx context.Context, key Key, sinceMs, beforeMs int64) (bool, error)
}
