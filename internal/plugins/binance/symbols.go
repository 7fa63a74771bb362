package binance

import "strings"

// toBinancePair converts a normalized symbol (e.g. "BTC_USDT") into
// Binance's concatenated pair form (e.g. "BTCUSDT").
func toBinancePair(normalized string) string {
	return strings.ReplaceAll(normalized, "_", "")
}

// toBinanceStream lowercases a Binance pair for use in a combined
// WebSocket stream path (e.g. "btcusdt@trade").
func toBinanceStream(normalized string) string {
	return strings.ToLower(toBinancePair(normalized))
}

// intervalString maps a timeframe string to Binance's kline interval
// token. Binance already uses "1m"/"1h"/"1d"-style tokens, so most
// values pass through unchanged; this validates against the supported set.
func intervalString(timeframe string) (string, bool) {
	switch timeframe {
	case "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1M":
		return timeframe, true
	default:
		return "", false
	}
}
