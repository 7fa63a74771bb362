// Package historical implements the historical OHLCV fetch path from
// spec §4.F: warehouse-first range query, gap backfill from the venue
// plugin, and resampling fallback when the venue lacks the target
// timeframe natively.
package historical

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tickerfan/tickerfan/internal/barutil"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/timeframe"
	"github.com/tickerfan/tickerfan/internal/warehouse"
)

// Params bounds one historical fetch request (spec §4.F step 3).
type Params struct {
	Key       warehouse.Key
	SinceMs   int64
	UntilMs   int64 // 0 means "no upper bound", resolved to NowMs
	Limit     int
	ChunkSize int // DEFAULT_PLUGIN_CHUNK_SIZE
	MaxChunks int // MAX_PLUGIN_CHUNKS_PER_GAP
	NowMs     int64
}

// Fetch runs the warehouse-first/gap-backfill/resample pipeline and
// returns the merged, ascending, deduplicated result truncated to
// p.Limit.
func Fetch(ctx context.Context, wh warehouse.Warehouse, instance pluginapi.Plugin, p Params) ([]pluginapi.OHLCVBar, error) {
	until := p.UntilMs
	if until == 0 {
		until = p.NowMs
	}

	tf, err := timeframe.Parse(p.Key.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("historical: invalid timeframe %q: %w", p.Key.Timeframe, err)
	}
	intervalMs := tf.Millis()

	stored, err := wh.RangeQuery(ctx, p.Key, p.SinceMs, until, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("historical: warehouse range query: %w", err)
	}

	if satisfiesRequest(stored, p.SinceMs, until, intervalMs, p.Limit) {
		return barutil.MergeDedup(p.Limit, stored), nil
	}

	for _, gap := range findGaps(stored, p.SinceMs, until, intervalMs) {
		backfilled, err := backfillGap(ctx, wh, instance, p.Key, gap, intervalMs, p.ChunkSize, p.MaxChunks, p.NowMs)
		if err != nil {
			log.Warn().Err(err).
				Str("symbol", p.Key.Symbol).Str("timeframe", p.Key.Timeframe).
				Int64("gap_start", gap.startMs).Int64("gap_end", gap.endMs).
				Msg("historical: gap backfill failed, returning what is available")
			continue
		}
		stored = barutil.MergeDedup(0, stored, backfilled)
	}

	return barutil.MergeDedup(p.Limit, stored), nil
}

// satisfiesRequest reports whether stored already covers [sinceMs,
// untilMs) with no gap wider than one interval (spec §4.F step 2). A
// gap-free result with fewer bars than limit still counts as satisfied,
// since the range itself holds no more bars.
func satisfiesRequest(stored []pluginapi.OHLCVBar, sinceMs, untilMs, intervalMs int64, limit int) bool {
	if len(stored) == 0 {
		return sinceMs >= untilMs
	}
	if limit > 0 && len(stored) < limit && stored[0].TimestampMs > sinceMs {
		return false
	}
	return len(findGaps(stored, sinceMs, untilMs, intervalMs)) == 0
}

type gapRange struct {
	startMs, endMs int64
}

// findGaps returns the contiguous sub-ranges of [sinceMs, untilMs) not
// covered by stored, assuming stored is sorted ascending and bars are
// intervalMs apart when contiguous.
func findGaps(stored []pluginapi.OHLCVBar, sinceMs, untilMs, intervalMs int64) []gapRange {
	if intervalMs <= 0 || sinceMs >= untilMs {
		return nil
	}
	var gaps []gapRange
	cursor := sinceMs

	for _, b := range stored {
		if b.TimestampMs < cursor {
			continue
		}
		if b.TimestampMs >= untilMs {
			break
		}
		if b.TimestampMs > cursor {
			gaps = append(gaps, gapRange{startMs: cursor, endMs: b.TimestampMs})
		}
		cursor = b.TimestampMs + intervalMs
	}
	if cursor < untilMs {
		gaps = append(gaps, gapRange{startMs: cursor, endMs: untilMs})
	}
	return gaps
}

// backfillGap calls the plugin in chunks to fill one gap, persisting new
// bars to the warehouse as they arrive (spec §4.F step 3), falling back
// to 1-minute bars and resampling when the venue lacks the target
// timeframe natively (step 4).
func backfillGap(ctx context.Context, wh warehouse.Warehouse, instance pluginapi.Plugin, key warehouse.Key, gap gapRange, intervalMs int64, chunkSize, maxChunks int, nowMs int64) ([]pluginapi.OHLCVBar, error) {
	var collected []pluginapi.OHLCVBar
	since := gap.startMs
	effectiveTimeframe := key.Timeframe
	resampleFrom := int64(0) // 0 means native; otherwise the source interval to resample from (1m)

	for chunk := 0; chunk < maxChunks && since < gap.endMs; chunk++ {
		bars, err := instance.FetchHistoricalOHLCV(ctx, key.Symbol, effectiveTimeframe, &since, chunkSize)
		if err != nil {
			if resampleFrom == 0 && pluginapi.KindOf(err) == pluginapi.KindNotSupported {
				// Venue doesn't support this timeframe natively: fall back
				// to 1-minute bars and resample (spec §4.F step 4).
				effectiveTimeframe = "1m"
				oneMinMs, parseErr := timeframe.Parse(effectiveTimeframe)
				if parseErr != nil {
					return nil, err
				}
				resampleFrom = oneMinMs.Millis()
				continue
			}
			return collected, err
		}
		if len(bars) == 0 {
			break
		}

		persisted := bars
		if resampleFrom != 0 {
			persisted = barutil.ResampleClosedOnly(bars, intervalMs, nowMs)
		}
		if len(persisted) > 0 {
			if err := wh.Upsert(ctx, key, persisted); err != nil {
				log.Warn().Err(err).Msg("historical: warehouse upsert failed during backfill")
			}
			collected = append(collected, persisted...)
		}

		last := bars[len(bars)-1].TimestampMs
		since = last + 1
		if int64(len(bars)) < int64(chunkSize) || since >= gap.endMs {
			break
		}
	}

	return collected, nil
}

// NowMs is a small indirection so callers (and tests) can supply a
// deterministic clock; production code should pass
// time.Now().UnixMilli().
func NowMs() int64 { return time.Now().UnixMilli() }
