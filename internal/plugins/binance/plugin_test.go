package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickerfan/tickerfan/internal/circuit"
)

func newTestPlugin(t *testing.T, handler http.HandlerFunc) *Plugin {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prevBaseURL := baseURL
	baseURL = srv.URL
	t.Cleanup(func() { baseURL = prevBaseURL })

	return New(Config{RequestsPerSecond: 100, Breaker: circuit.DefaultConfig()})
}

func TestFetchTickerParsesBinanceResponse(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ticker/24hr", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50050.5","volume":"1200.0"}`))
	})

	ticker, err := p.FetchTicker(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	require.Equal(t, "BTC_USDT", ticker.Symbol)
	require.Equal(t, 50050.5, ticker.Price)
	require.Equal(t, 1200.0, ticker.Volume)
}

func TestFetchOrderBookParsesLevels(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/depth", r.URL.Path)
		w.Write([]byte(`{"lastUpdateId":1,"bids":[["50000.0","1.5"]],"asks":[["50100.0","2.0"]]}`))
	})

	book, err := p.FetchOrderBook(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Equal(t, 50000.0, book.Bids[0].Price)
	require.Equal(t, 2.0, book.Asks[0].Size)
}

func TestFetchHistoricalOHLCVDecodesKlineRows(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/klines", r.URL.Path)
		w.Write([]byte(`[[1000,"1","2","0.5","1.5","10","1060","12",5,"1","1",""]]`))
	})

	bars, err := p.FetchHistoricalOHLCV(context.Background(), "BTC_USDT", "1m", nil, 0)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	require.Equal(t, int64(1000), bars[0].TimestampMs)
	require.True(t, bars[0].Valid())
}

func TestFetchHistoricalOHLCVRejectsUnknownTimeframe(t *testing.T) {
	p := New(Config{RequestsPerSecond: 100, Breaker: circuit.DefaultConfig()})
	_, err := p.FetchHistoricalOHLCV(context.Background(), "BTC_USDT", "2m", nil, 0)
	require.Error(t, err)
}

func TestGetSymbolsFiltersToTradingStatus(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/exchangeInfo", r.URL.Path)
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"XYZABC","status":"BREAK","baseAsset":"XYZ","quoteAsset":"ABC"}
		]}`))
	})

	symbols, err := p.GetSymbols(context.Background(), "crypto")
	require.NoError(t, err)
	require.Equal(t, []string{"BTC_USDT"}, symbols)
}

func TestSupportedFeaturesAdvertisesStreamingPollingAndMeta(t *testing.T) {
	p := New(Config{})
	features := p.SupportedFeatures()
	require.True(t, features["stream_trades"])
	require.True(t, features["instrument_meta"])
	require.False(t, features["trading"])
}

func TestUnimplementedTradingOperationsReturnNotSupported(t *testing.T) {
	p := New(Config{})
	_, err := p.PlaceOrder(context.Background(), "user", "BTC_USDT", "buy", 1, 50000)
	require.Error(t, err)
}
