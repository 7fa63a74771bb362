// Package pluginapi defines the uniform capability interface every venue
// connector implements, plus the process-wide registry and instance
// pool that manage their lifetime (spec §4.A, §9 "tagged enum of
// provider adapters").
package pluginapi

import "context"

// OHLCVBar is one open/high/low/close/volume bar, millisecond UTC epoch
// aligned to the bar's open (spec §3).
type OHLCVBar struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// Valid checks the bar invariants from spec §3: low <= min(o,c) <=
// max(o,c) <= high, volume >= 0.
func (b OHLCVBar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return b.Low <= lo && hi <= b.High
}

// Ticker is a normalized latest-price snapshot, the payload of the
// TRADES polling fallback (fetch_ticker).
type Ticker struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp int64
}

// BookLevel is one price/size level of an order book side.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a normalized L2 snapshot.
type OrderBook struct {
	Symbol    string
	Timestamp int64
	Bids      []BookLevel
	Asks      []BookLevel
}

// Order is a normalized user order/fill event.
type Order struct {
	OrderID   string
	Symbol    string
	Side      string
	Status    string
	Price     float64
	Amount    float64
	Filled    float64
	Timestamp int64
	Raw       map[string]interface{}
}

// Trade is a single executed trade from a venue's trade stream.
type Trade struct {
	Symbol    string
	Price     float64
	Amount    float64
	Side      string
	Timestamp int64
}

// Balance is a single-asset account balance.
type Balance struct {
	Asset string
	Free  float64
	Used  float64
}

// Position is an open derivatives position.
type Position struct {
	Symbol       string
	Side         string
	Amount       float64
	EntryPrice   float64
	UnrealizedPL float64
}

// InstrumentDetails describes a tradable instrument, used by the
// default symbol-validation implementation (spec §4.A).
type InstrumentDetails struct {
	Symbol   string
	IsActive bool
	MinSize  float64
	MaxSize  float64
}

// Credentials bundles venue API credentials. A zero value means
// unauthenticated (public-data-only) access.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string // some venues (OKX, Coinbase) require a third secret
}

// Feature enumerates the optional capabilities a Plugin may advertise.
type Feature string

const (
	FeatureStreamTrades     Feature = "stream_trades"
	FeatureStreamOHLCV      Feature = "stream_ohlcv"
	FeatureStreamOrderBook  Feature = "stream_order_book"
	FeatureStreamUserOrders Feature = "stream_user_orders"
	FeatureFetchTicker      Feature = "fetch_ticker"
	FeatureFetchOrderBook   Feature = "fetch_order_book"
	FeatureFetchOpenOrders  Feature = "fetch_open_orders"
	FeatureTrading          Feature = "trading"
	FeatureInstrumentMeta   Feature = "instrument_meta"
)

// StreamCallback receives one normalized upstream message. StreamingManager
// supplies a callback that publishes the message to the bus; the plugin
// never talks to the bus directly.
type StreamCallback func(msg map[string]interface{})

// Plugin is the uniform capability interface every venue connector
// implements. Mandatory operations must always be present; optional
// operations are gated by SupportedFeatures and return NotSupported when
// absent.
type Plugin interface {
	// ProviderID identifies the concrete venue this instance talks to
	// (e.g. "binance", "kraken", "alpaca").
	ProviderID() string

	// SupportedFeatures returns the static capability table for this
	// adapter. StreamingManager and SubscriptionService gate every
	// optional call on this set.
	SupportedFeatures() map[Feature]bool

	// Mandatory operations.
	GetSymbols(ctx context.Context, market string) ([]string, error)
	FetchHistoricalOHLCV(ctx context.Context, symbol, timeframe string, sinceMs *int64, limit int) ([]OHLCVBar, error)
	FetchLatestOHLCV(ctx context.Context, symbol, timeframe string) (*OHLCVBar, error)
	Close() error

	// Optional native streams. Implementations that lack a capability
	// return NotSupported; callers must check SupportedFeatures first.
	StreamTrades(ctx context.Context, symbol string, cb StreamCallback) error
	StreamOHLCV(ctx context.Context, symbol, timeframe string, cb StreamCallback) error
	StreamOrderBook(ctx context.Context, symbol string, cb StreamCallback) error
	StreamUserOrders(ctx context.Context, userID string, cb StreamCallback) error
	StopStreamTrades(ctx context.Context, symbol string) error
	StopStreamOHLCV(ctx context.Context, symbol, timeframe string) error
	StopStreamOrderBook(ctx context.Context, symbol string) error
	StopStreamUserOrders(ctx context.Context, userID string) error

	// Optional polling fetches, used as the StreamingManager fallback.
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string) (*OrderBook, error)
	FetchOpenOrders(ctx context.Context, userID string) ([]Order, error)

	// Optional trading operations.
	PlaceOrder(ctx context.Context, userID, symbol, side string, amount, price float64) (*Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) error
	GetAccountBalance(ctx context.Context, userID string) ([]Balance, error)
	GetOpenPositions(ctx context.Context, userID string) ([]Position, error)

	// Optional instrument metadata.
	GetInstrumentTradingDetails(ctx context.Context, symbol string) (*InstrumentDetails, error)
}

// ValidateSymbol reports whether the venue considers symbol tradable.
// It is the default implementation described in spec §4.A: call
// GetInstrumentTradingDetails and test IsActive, with the result cached
// in-instance for symbolValidationTTL so repeated checks against the
// same plugin instance don't each cost a round trip. Adapters with a
// cheaper native check may bypass this helper entirely; it exists so
// adapters that only implement GetInstrumentTradingDetails get
// validation for free.
func ValidateSymbol(ctx context.Context, p Plugin, symbol string) (bool, error) {
	key := symbolCacheKey(p, symbol)
	if valid, ok := defaultSymbolCache.get(key); ok {
		return valid, nil
	}

	details, err := p.GetInstrumentTradingDetails(ctx, symbol)
	if err != nil {
		return false, err
	}
	valid := details != nil && details.IsActive
	defaultSymbolCache.set(key, valid)
	return valid, nil
}
