package streaming

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tickerfan/tickerfan/internal/pluginapi"
	"github.com/tickerfan/tickerfan/internal/viewkey"
)

// pollLoop repeatedly fetches the latest snapshot for key via REST and
// publishes it when changed, implementing the polling fallback and
// error-kind backoff policy of spec §4.C. It returns when ctx is
// cancelled or a cycle fails with NotSupported.
func (m *Manager) pollLoop(ctx context.Context, instance pluginapi.Plugin, key viewkey.ViewKey, interval time.Duration, rec *record) {
	timer := time.NewTimer(jitter(interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait, terminal := m.pollOnce(ctx, instance, key, interval, rec)
		if terminal {
			return
		}
		timer.Reset(jitter(wait))
	}
}

// pollOnce performs a single fetch-and-publish cycle. It returns the
// interval to wait before the next cycle and whether the stream should
// be abandoned entirely (a NotSupported error: spec §4.C, "terminally
// unavailable").
func (m *Manager) pollOnce(ctx context.Context, instance pluginapi.Plugin, key viewkey.ViewKey, interval time.Duration, rec *record) (wait time.Duration, terminal bool) {
	msg, err := fetchSnapshot(ctx, instance, key)
	if err != nil {
		kind := pluginapi.KindOf(err)
		if m.hooks.OnPollError != nil {
			m.hooks.OnPollError(key.Kind, kind)
		}
		log.Warn().Err(err).Str("view", key.String()).Str("error_kind", string(kind)).Msg("streaming: poll cycle failed")

		switch kind {
		case pluginapi.KindNotSupported:
			return 0, true
		case pluginapi.KindNetwork:
			return 2 * interval, false
		default:
			return 5 * interval, false
		}
	}

	hash := contentHash(msg)
	suppressed := hash == rec.lastHash
	if !suppressed {
		rec.lastHash = hash
		m.publish(ctx, key, msg)
	}
	if m.hooks.OnPublish != nil {
		m.hooks.OnPublish(key.Kind, suppressed)
	}
	return interval, false
}

// fetchSnapshot dispatches to the appropriate REST fetch for key.Kind.
func fetchSnapshot(ctx context.Context, instance pluginapi.Plugin, key viewkey.ViewKey) (map[string]interface{}, error) {
	switch key.Kind {
	case viewkey.OHLCV:
		bar, err := instance.FetchLatestOHLCV(ctx, key.Symbol, key.Discriminator)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"timestamp_ms": bar.TimestampMs,
			"open":         bar.Open,
			"high":         bar.High,
			"low":          bar.Low,
			"close":        bar.Close,
			"volume":       bar.Volume,
			"timeframe":    key.Discriminator,
		}, nil
	case viewkey.Trades:
		ticker, err := instance.FetchTicker(ctx, key.Symbol)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"price":        ticker.Price,
			"volume":       ticker.Volume,
			"timestamp_ms": ticker.Timestamp,
		}, nil
	case viewkey.OrderBook:
		book, err := instance.FetchOrderBook(ctx, key.Symbol)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"bids":         book.Bids,
			"asks":         book.Asks,
			"timestamp_ms": book.Timestamp,
		}, nil
	case viewkey.UserOrders:
		orders, err := instance.FetchOpenOrders(ctx, key.UserCtx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"orders": orders}, nil
	}
	return nil, pluginapi.NotSupported(key.Provider, "unknown view kind "+string(key.Kind))
}

// contentHash produces a stable digest of msg independent of Go map
// iteration order, used to suppress republishing unchanged polling
// snapshots (spec §4.C, "Publish suppression").
func contentHash(msg map[string]interface{}) string {
	keys := make([]string, 0, len(msg))
	for k := range msg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		if encoded, err := json.Marshal(msg[k]); err == nil {
			b.Write(encoded)
		}
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// denormalizeSymbol reverses the best-effort normalization applied to
// symbols at subscribe time, for inclusion in outbound payloads. It is
// a heuristic: callers that need the exact original casing/separator
// should echo what the client originally sent instead.
func denormalizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "_", "/")
}

// encodeMessage builds the outbound envelope described in spec §4.C,
// "Publish format", and marshals it to JSON for the bus.
func encodeMessage(key viewkey.ViewKey, msg map[string]interface{}) ([]byte, error) {
	envelope := make(map[string]interface{}, len(msg)+4)
	for k, v := range msg {
		envelope[k] = v
	}
	envelope["stream_type"] = string(key.Kind)
	envelope["provider"] = key.Provider
	envelope["symbol"] = denormalizeSymbol(key.Symbol)

	return json.Marshal(envelope)
}
