package alpaca

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickerfan/tickerfan/internal/circuit"
)

func newTestPlugin(t *testing.T, dataHandler, tradingHandler http.HandlerFunc) *Plugin {
	t.Helper()

	prevData, prevTrading := dataBaseURL, tradingBaseURL
	if dataHandler != nil {
		srv := httptest.NewServer(dataHandler)
		t.Cleanup(srv.Close)
		dataBaseURL = srv.URL
	}
	if tradingHandler != nil {
		srv := httptest.NewServer(tradingHandler)
		t.Cleanup(srv.Close)
		tradingBaseURL = srv.URL
	}
	t.Cleanup(func() { dataBaseURL, tradingBaseURL = prevData, prevTrading })

	return New(Config{KeyID: "key", Secret: "secret", RequestsPerSecond: 100, Breaker: circuit.DefaultConfig()})
}

func TestFetchHistoricalOHLCVDecodesBars(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stocks/AAPL/bars", r.URL.Path)
		require.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		w.Write([]byte(`{"bars":[{"t":"2024-01-02T14:30:00Z","o":180,"h":182,"l":179,"c":181,"v":1000000}]}`))
	}, nil)

	bars, err := p.FetchHistoricalOHLCV(context.Background(), "AAPL_USD", "1d", nil, 0)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	require.Equal(t, 181.0, bars[0].Close)
	require.True(t, bars[0].Valid())
}

func TestFetchHistoricalOHLCVRejectsUnknownTimeframe(t *testing.T) {
	p := New(Config{RequestsPerSecond: 100, Breaker: circuit.DefaultConfig()})
	_, err := p.FetchHistoricalOHLCV(context.Background(), "AAPL", "2m", nil, 0)
	require.Error(t, err)
}

func TestFetchTickerParsesLatestTrade(t *testing.T) {
	p := newTestPlugin(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stocks/AAPL/trades/latest", r.URL.Path)
		w.Write([]byte(`{"trade":{"p":181.5,"s":100,"t":"2024-01-02T14:30:00Z"}}`))
	}, nil)

	ticker, err := p.FetchTicker(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, 181.5, ticker.Price)
	require.Equal(t, 100.0, ticker.Volume)
}

func TestGetSymbolsFiltersToTradableActiveAssets(t *testing.T) {
	p := newTestPlugin(t, nil, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/assets", r.URL.Path)
		w.Write([]byte(`[{"symbol":"AAPL","status":"active","tradable":true},{"symbol":"XYZ","status":"inactive","tradable":false}]`))
	})

	symbols, err := p.GetSymbols(context.Background(), "equities")
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL"}, symbols)
}

func TestSupportedFeaturesIsRESTOnly(t *testing.T) {
	p := New(Config{})
	features := p.SupportedFeatures()
	require.True(t, features["fetch_ticker"])
	require.False(t, features["stream_trades"])
}

func TestStreamTradesReturnsNotSupported(t *testing.T) {
	p := New(Config{})
	err := p.StreamTrades(context.Background(), "AAPL", func(map[string]interface{}) {})
	require.Error(t, err)
}
