package pluginapi

import "context"

// Unimplemented can be embedded by an adapter to get NotSupported
// default implementations for every optional operation it does not
// implement, so a bespoke single-venue adapter (spec §4.A: "a plugin
// class MAY handle ... exactly one [provider]") only has to override the
// handful of methods its venue actually supports.
type Unimplemented struct {
	Provider string
}

func (u Unimplemented) StreamTrades(ctx context.Context, symbol string, cb StreamCallback) error {
	return NotSupported(u.Provider, string(FeatureStreamTrades))
}
func (u Unimplemented) StreamOHLCV(ctx context.Context, symbol, timeframe string, cb StreamCallback) error {
	return NotSupported(u.Provider, string(FeatureStreamOHLCV))
}
func (u Unimplemented) StreamOrderBook(ctx context.Context, symbol string, cb StreamCallback) error {
	return NotSupported(u.Provider, string(FeatureStreamOrderBook))
}
func (u Unimplemented) StreamUserOrders(ctx context.Context, userID string, cb StreamCallback) error {
	return NotSupported(u.Provider, string(FeatureStreamUserOrders))
}
func (u Unimplemented) StopStreamTrades(ctx context.Context, symbol string) error       { return nil }
func (u Unimplemented) StopStreamOHLCV(ctx context.Context, symbol, tf string) error    { return nil }
func (u Unimplemented) StopStreamOrderBook(ctx context.Context, symbol string) error    { return nil }
func (u Unimplemented) StopStreamUserOrders(ctx context.Context, userID string) error   { return nil }
func (u Unimplemented) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return nil, NotSupported(u.Provider, string(FeatureFetchTicker))
}
func (u Unimplemented) FetchOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	return nil, NotSupported(u.Provider, string(FeatureFetchOrderBook))
}
func (u Unimplemented) FetchOpenOrders(ctx context.Context, userID string) ([]Order, error) {
	return nil, NotSupported(u.Provider, string(FeatureFetchOpenOrders))
}
func (u Unimplemented) PlaceOrder(ctx context.Context, userID, symbol, side string, amount, price float64) (*Order, error) {
	return nil, NotSupported(u.Provider, string(FeatureTrading))
}
func (u Unimplemented) CancelOrder(ctx context.Context, userID, orderID string) error {
	return NotSupported(u.Provider, string(FeatureTrading))
}
func (u Unimplemented) GetAccountBalance(ctx context.Context, userID string) ([]Balance, error) {
	return nil, NotSupported(u.Provider, string(FeatureTrading))
}
func (u Unimplemented) GetOpenPositions(ctx context.Context, userID string) ([]Position, error) {
	return nil, NotSupported(u.Provider, string(FeatureTrading))
}
func (u Unimplemented) GetInstrumentTradingDetails(ctx context.Context, symbol string) (*InstrumentDetails, error) {
	return nil, NotSupported(u.Provider, string(FeatureInstrumentMeta))
}
