package kraken

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

func TestFetchTickerParsesKrakenEnvelope(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/0/public/Ticker", r.URL.Path)
		w.Write([]byte(`{"error":[],"result":{"XBTUSDT":{"a":["50100.0","1","1.0"],"b":["50000.0","1","1.0"],"c":["50050.0","0.1"],"v":["10.0","20.0"]}}}`))
	})

	ticker, err := p.FetchTicker(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	require.Equal(t, "BTC_USDT", ticker.Symbol)
	require.Equal(t, 50050.0, ticker.Price)
	require.Equal(t, 20.0, ticker.Volume)
}

func TestFetchTickerSurfacesAPIErrorAsPluginError(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EQuery:Unknown asset pair"],"result":{}}`))
	})

	_, err := p.FetchTicker(context.Background(), "BTC_USDT")
	require.Error(t, err)
}

func TestFetchOrderBookParsesBidsAndAsks(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/0/public/Depth", r.URL.Path)
		w.Write([]byte(`{"error":[],"result":{"XBTUSDT":{"bids":[["50000.0","1.5",1111111111]],"asks":[["50100.0","2.0",1111111112]]}}}`))
	})

	book, err := p.FetchOrderBook(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	require.Equal(t, 50000.0, book.Bids[0].Price)
	require.Equal(t, 2.0, book.Asks[0].Size)
}

func TestFetchHistoricalOHLCVDecodesRowsAndAppliesLimit(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/0/public/OHLC", r.URL.Path)
		w.Write([]byte(`{"error":[],"result":{"XBTUSDT":[[1000,"1","2","0.5","1.5","1.2","10",5],[1060,"1.5","2.5","1","2","1.7","12",6]],"last":1060}}`))
	})

	bars, err := p.FetchHistoricalOHLCV(context.Background(), "BTC_USDT", "1m", nil, 1)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	require.Equal(t, int64(1060000), bars[0].TimestampMs)
	require.True(t, bars[0].Valid())
}

func TestFetchHistoricalOHLCVRejectsUnknownTimeframe(t *testing.T) {
	p := New(Config{RequestsPerSecond: 100, Breaker: circuit.DefaultConfig()})
	_, err := p.FetchHistoricalOHLCV(context.Background(), "BTC_USDT", "3m", nil, 0)
	require.Error(t, err)
}

func TestSupportedFeaturesAdvertisesStreamingAndPolling(t *testing.T) {
	p := New(Config{})
	features := p.SupportedFeatures()
	require.True(t, features["stream_trades"])
	require.True(t, features["fetch_ticker"])
	require.False(t, features["trading"])
}

func TestUnimplementedTradingOperationsReturnNotSupported(t *testing.T) {
	p := New(Config{})
	_, err := p.PlaceOrder(context.Background(), "user", "BTC_USDT", "buy", 1, 50000)
	require.Error(t, err)
}
