package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowRespectsBurst(t *testing.T) {
	l := NewLimiter(1, 2)
	require.True(t, l.Allow("binance.com"))
	require.True(t, l.Allow("binance.com"))
	require.False(t, l.Allow("binance.com"))
}

func TestPerHostIsolation(t *testing.T) {
	l := NewLimiter(1, 1)
	require.True(t, l.Allow("binance.com"))
	require.True(t, l.Allow("kraken.com"))
}

func TestWaitUnblocksAfterInterval(t *testing.T) {
	l := NewLimiter(100, 1)
	require.True(t, l.Allow("x"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx, "x"))
}
