package binance

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinStreamsSlashSeparates(t *testing.T) {
	require.Equal(t, "btcusdt@trade/ethusdt@depth", joinStreams([]string{"btcusdt@trade", "ethusdt@depth"}))
}

func TestDecodeStreamPayloadTrade(t *testing.T) {
	sub := &wsSubscription{symbol: "BTC_USDT", kind: "trade"}
	data, _ := json.Marshal(map[string]interface{}{"p": "50000.0", "q": "0.25", "m": true})

	msg := decodeStreamPayload(sub, data)
	require.NotNil(t, msg)
	require.Equal(t, "BTC_USDT", msg["symbol"])
	require.Equal(t, 50000.0, msg["price"])
	require.Equal(t, "sell", msg["side"]) // buyer-is-maker means the taker sold
}

func TestDecodeStreamPayloadDepthPassesThrough(t *testing.T) {
	sub := &wsSubscription{symbol: "ETH_USD", kind: "depth"}
	data, _ := json.Marshal(map[string]interface{}{"b": []interface{}{}})

	msg := decodeStreamPayload(sub, data)
	require.Equal(t, "depth", msg["type"])
	require.Equal(t, "ETH_USD", msg["symbol"])
}
