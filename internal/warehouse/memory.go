package warehouse

import (
	"context"
	"sort"
	"sync"

	"github.com/tickerfan/tickerfan/internal/pluginapi"
)

// MemoryWarehouse is an in-memory Warehouse used by tests and by the
// historical-fetch property tests (spec §8, property 5).
type MemoryWarehouse struct {
	mu   sync.RWMutex
	bars map[Key]map[int64]pluginapi.OHLCVBar
}

func NewMemoryWarehouse() *MemoryWarehouse {
	return &MemoryWarehouse{bars: make(map[Key]map[int64]pluginapi.OHLCVBar)}
}

func (w *MemoryWarehouse) RangeQuery(ctx context.Context, key Key, sinceMs, untilMs int64, limit int) ([]pluginapi.OHLCVBar, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	bucket := w.bars[key]
	out := make([]pluginapi.OHLCVBar, 0, len(bucket))
	for ts, b := range bucket {
		if ts >= sinceMs && ts < untilMs {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (w *MemoryWarehouse) Upsert(ctx context.Context, key Key, bars []pluginapi.OHLCVBar) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	bucket := w.bars[key]
	if bucket == nil {
		bucket = make(map[int64]pluginapi.OHLCVBar)
		w.bars[key] = bucket
	}
	for _, b := range bars {
		bucket[b.TimestampMs] = b
	}
	return nil
}

func (w *MemoryWarehouse) HasAnyInRange(ctx context.Context, key Key, sinceMs, beforeMs int64) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for ts := range w.bars[key] {
		if ts >= sinceMs && ts < beforeMs {
			return true, nil
		}
	}
	return false, nil
}
