package pluginapi

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingDetailsPlugin struct {
	fakePlugin
	calls int32
}

func (p *countingDetailsPlugin) GetInstrumentTradingDetails(ctx context.Context, symbol string) (*InstrumentDetails, error) {
	atomic.AddInt32(&p.calls, 1)
	return &InstrumentDetails{Symbol: symbol, IsActive: symbol == "BTCUSDT"}, nil
}

// TestValidateSymbolCaches covers spec §4.A: "Results MAY be cached
// in-instance with a 1-hour TTL." A second call within the TTL must not
// hit the plugin again.
func TestValidateSymbolCaches(t *testing.T) {
	p := &countingDetailsPlugin{}

	valid, err := ValidateSymbol(context.Background(), p, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, valid)
	require.EqualValues(t, 1, atomic.LoadInt32(&p.calls))

	valid, err = ValidateSymbol(context.Background(), p, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, valid)
	require.EqualValues(t, 1, atomic.LoadInt32(&p.calls), "second call within the TTL must be served from cache")

	valid, err = ValidateSymbol(context.Background(), p, "SCAMUSD")
	require.NoError(t, err)
	require.False(t, valid)
	require.EqualValues(t, 2, atomic.LoadInt32(&p.calls), "a distinct symbol is a cache miss")
}
