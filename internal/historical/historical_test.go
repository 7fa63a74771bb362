package historical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/warehouse"
)

// stubPlugin answers FetchHistoricalOHLCV from a canned, ascending set
// of 1-minute bars so tests can control exactly what the "venue"
// returns during gap backfill.
type stubPlugin struct {
	pluginapi.Unimplemented
	bars      []pluginapi.OHLCVBar // full catalog the venue "has", ascending
	chunkCall int
	notSupportedFor string // timeframe string to reject with NotSupported
}

func (s *stubPlugin) ProviderID() string                             { return "stub" }
func (s *stubPlugin) SupportedFeatures() map[pluginapi.Feature]bool   { return nil }
func (s *stubPlugin) GetSymbols(ctx context.Context, market string) ([]string, error) {
	return nil, nil
}
func (s *stubPlugin) FetchLatestOHLCV(ctx context.Context, symbol, tf string) (*pluginapi.OHLCVBar, error) {
	return nil, nil
}
func (s *stubPlugin) Close() error { return nil }

func (s *stubPlugin) FetchHistoricalOHLCV(ctx context.Context, symbol, tf string, sinceMs *int64, limit int) ([]pluginapi.OHLCVBar, error) {
	s.chunkCall++
	if s.notSupportedFor != "" && tf == s.notSupportedFor {
		return nil, pluginapi.NotSupported("stub", "timeframe "+tf)
	}
	var out []pluginapi.OHLCVBar
	for _, b := range s.bars {
		if sinceMs != nil && b.TimestampMs < *sinceMs {
			continue
		}
		out = append(out, b)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func bar(ts int64, v float64) pluginapi.OHLCVBar {
	return pluginapi.OHLCVBar{TimestampMs: ts, Open: v, High: v, Low: v, Close: v, Volume: 1}
}

func testKey() warehouse.Key {
	return warehouse.Key{Market: "crypto", Provider: "stub", Symbol: "BTC_USDT", Timeframe: "1m"}
}

const minuteMs = 60_000

// TestGapBackfillFillsMissingBar is spec §8 scenario 5: warehouse has
// [T, T+60000, T+180000] (missing T+120000); a fetch for [T, T+240000)
// should backfill the gap and return a merged ascending sequence.
func TestGapBackfillFillsMissingBar(t *testing.T) {
	const T = int64(1_700_000_000_000)
	wh := warehouse.NewMemoryWarehouse()
	key := testKey()
	ctx := context.Background()

	require.NoError(t, wh.Upsert(ctx, key, []pluginapi.OHLCVBar{
		bar(T, 1), bar(T+minuteMs, 2), bar(T+3*minuteMs, 4),
	}))

	plugin := &stubPlugin{bars: []pluginapi.OHLCVBar{
		bar(T, 1), bar(T+minuteMs, 2), bar(T+2*minuteMs, 3), bar(T+3*minuteMs, 4),
	}}

	result, err := Fetch(ctx, wh, plugin, Params{
		Key: key, SinceMs: T, UntilMs: T + 4*minuteMs, Limit: 10,
		ChunkSize: 500, MaxChunks: 100, NowMs: T + 4*minuteMs,
	})
	require.NoError(t, err)

	var timestamps []int64
	for _, b := range result {
		timestamps = append(timestamps, b.TimestampMs)
	}
	require.Equal(t, []int64{T, T + minuteMs, T + 2*minuteMs, T + 3*minuteMs}, timestamps)
	require.GreaterOrEqual(t, plugin.chunkCall, 1)

	stored, err := wh.RangeQuery(ctx, key, T, T+4*minuteMs, 10)
	require.NoError(t, err)
	require.Len(t, stored, 4, "backfilled bar must be persisted idempotently")
}

// TestFetchIsIdempotent is spec §8 property 5: repeated fetches after
// the warehouse is populated return the same bars without additional
// plugin calls.
func TestFetchIsIdempotent(t *testing.T) {
	const T = int64(1_700_000_000_000)
	wh := warehouse.NewMemoryWarehouse()
	key := testKey()
	ctx := context.Background()
	plugin := &stubPlugin{bars: []pluginapi.OHLCVBar{bar(T, 1), bar(T+minuteMs, 2)}}

	params := Params{Key: key, SinceMs: T, UntilMs: T + 2*minuteMs, Limit: 10, ChunkSize: 500, MaxChunks: 100, NowMs: T + 2*minuteMs}

	first, err := Fetch(ctx, wh, plugin, params)
	require.NoError(t, err)

	callsAfterFirst := plugin.chunkCall
	second, err := Fetch(ctx, wh, plugin, params)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, callsAfterFirst, plugin.chunkCall, "fully satisfied fetch must not re-query the plugin")
}

// TestResampleFallbackWhenTimeframeUnsupported covers spec §4.F step 4:
// when the venue rejects the target timeframe, historical falls back to
// 1-minute bars and resamples.
func TestResampleFallbackWhenTimeframeUnsupported(t *testing.T) {
	const T = int64(1_700_000_000_000)
	wh := warehouse.NewMemoryWarehouse()
	key := warehouse.Key{Market: "crypto", Provider: "stub", Symbol: "BTC_USDT", Timeframe: "5m"}
	ctx := context.Background()

	var oneMinBars []pluginapi.OHLCVBar
	for i := int64(0); i < 10; i++ {
		oneMinBars = append(oneMinBars, bar(T+i*minuteMs, float64(i+1)))
	}
	plugin := &stubPlugin{bars: oneMinBars, notSupportedFor: "5m"}

	result, err := Fetch(ctx, wh, plugin, Params{
		Key: key, SinceMs: T, UntilMs: T + 10*minuteMs, Limit: 10,
		ChunkSize: 500, MaxChunks: 100, NowMs: T + 10*minuteMs,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result)
	for _, b := range result {
		require.Equal(t, int64(0), b.TimestampMs%(5*minuteMs), "resampled bars must align to 5m buckets")
	}
}

func TestFindGapsHandlesEmptyStored(t *testing.T) {
	gaps := findGaps(nil, 1000, 5000, 1000)
	require.Equal(t, []gapRange{{startMs: 1000, endMs: 5000}}, gaps)
}

func TestFindGapsSkipsContiguousRuns(t *testing.T) {
	stored := []pluginapi.OHLCVBar{bar(1000, 1), bar(2000, 2), bar(3000, 3)}
	gaps := findGaps(stored, 1000, 4000, 1000)
	require.Empty(t, gaps)
}
