// Package barutil aggregates OHLCV bars into coarser timeframes and
// merges/deduplicates bar sequences from multiple sources.
package barutil

import (
	"sort"

	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

// Resample buckets 1-minute bars into targetMs-wide buckets: bucket
// start = floor(t/targetMs)*targetMs, open=first, high=max, low=min,
// close=last, volume=sum (spec §4.F). Input must already be ascending
// by timestamp; output is ascending and contains one bar per bucket
// touched by the input.
func Resample(bars []pluginapi.OHLCVBar, targetMs int64) []pluginapi.OHLCVBar {
	if targetMs <= 0 || len(bars) == 0 {
		return nil
	}

	var out []pluginapi.OHLCVBar
	var cur *pluginapi.OHLCVBar
	var curBucket int64 = -1

	for _, b := range bars {
		bucket := floorDiv(b.TimestampMs, targetMs) * targetMs
		if cur == nil || bucket != curBucket {
			if cur != nil {
				out = append(out, *cur)
			}
			nb := pluginapi.OHLCVBar{
				TimestampMs: bucket,
				Open:        b.Open,
				High:        b.High,
				Low:         b.Low,
				Close:       b.Close,
				Volume:      b.Volume,
			}
			cur = &nb
			curBucket = bucket
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// ResampleClosedOnly is Resample restricted to fully-closed buckets:
// a bucket is closed once nowMs has reached the bucket's end
// (start+targetMs <= nowMs), matching spec §4.F's "output bars only for
// fully-closed buckets when producing historical data". Bars present
// in a later bucket do not by themselves close an earlier one.
func ResampleClosedOnly(bars []pluginapi.OHLCVBar, targetMs int64, nowMs int64) []pluginapi.OHLCVBar {
	all := Resample(bars, targetMs)
	var out []pluginapi.OHLCVBar
	for _, b := range all {
		if b.TimestampMs+targetMs <= nowMs {
			out = append(out, b)
		}
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// MergeDedup combines bar sequences that may overlap or be out of
// order, keeping one bar per timestamp (later source wins on
// collision) and returns the result ascending by timestamp, truncated
// to limit if limit > 0.
func MergeDedup(limit int, sources ...[]pluginapi.OHLCVBar) []pluginapi.OHLCVBar {
	byTs := make(map[int64]pluginapi.OHLCVBar)
	for _, src := range sources {
		for _, b := range src {
			byTs[b.TimestampMs] = b
		}
	}
	out := make([]pluginapi.OHLCVBar, 0, len(byTs))
	for _, b := range byTs {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
