// Package viewkey defines the client-facing subscription identity used
// throughout the fan-out core: the StreamingManager, SubscriptionRegistry
// and SubscriptionService all key their state off a ViewKey.
package viewkey

import (
	"fmt"
	"strings"
)

// Kind enumerates the stream kinds a client may subscribe to.
type Kind string

const (
	OHLCV      Kind = "ohlcv"
	Trades     Kind = "trades"
	OrderBook  Kind = "order_book"
	UserOrders Kind = "user_orders"
)

// ParseKind converts a client-supplied stream_type string into a Kind.
// Unknown strings return ok=false so callers can reject the request with
// a ValidationError instead of silently defaulting.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case OHLCV, Trades, OrderBook, UserOrders:
		return Kind(s), true
	default:
		return "", false
	}
}

// ViewKey is a value type identifying one client subscription. Equality
// is structural: two ViewKeys with identical fields are the same view.
type ViewKey struct {
	Market        string
	Provider      string
	Symbol        string
	Kind          Kind
	Discriminator string // timeframe for OHLCV, empty otherwise
	UserCtx       string // non-empty iff Kind == UserOrders
}

// NormalizeSymbol uppercases a symbol and folds "/" and "-" to "_", as
// required before a symbol is embedded in a ViewKey or channel name.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// New builds a normalized ViewKey. symbol is normalized via
// NormalizeSymbol; market and provider are lower-cased for stable
// comparison and channel naming.
func New(market, provider, symbol string, kind Kind, discriminator, userCtx string) ViewKey {
	return ViewKey{
		Market:        strings.ToLower(market),
		Provider:      strings.ToLower(provider),
		Symbol:        NormalizeSymbol(symbol),
		Kind:          kind,
		Discriminator: discriminator,
		UserCtx:       userCtx,
	}
}

// Valid reports whether the ViewKey satisfies the structural invariants
// from the data model: a timeframe discriminator iff OHLCV, a user
// context iff USER_ORDERS.
func (k ViewKey) Valid() bool {
	if k.Kind == OHLCV && k.Discriminator == "" {
		return false
	}
	if k.Kind != OHLCV && k.Discriminator != "" {
		return false
	}
	if k.Kind == UserOrders && k.UserCtx == "" {
		return false
	}
	if k.Kind != UserOrders && k.UserCtx != "" {
		return false
	}
	return true
}

// mainID returns the channel-name identity for the symbol side of the
// key: the normalized symbol for market-data kinds, or "user_<ctx>" for
// USER_ORDERS (spec §3, Channel name).
func (k ViewKey) mainID() string {
	if k.Kind == UserOrders {
		return "user_" + k.UserCtx
	}
	return k.Symbol
}

// Channel derives the pub/sub channel name for this ViewKey:
// stream:<kind>:<provider>:<main_id>[:<discriminator>].
func (k ViewKey) Channel() string {
	base := fmt.Sprintf("stream:%s:%s:%s", k.Kind, k.Provider, k.mainID())
	if k.Discriminator != "" {
		base += ":" + k.Discriminator
	}
	return base
}

// ManagerKey is the identity StreamingManager uses to refcount an
// upstream feed. It intentionally excludes UserCtx from deduplication
// for non-user-scoped kinds but keeps it as a distinct feed per user for
// USER_ORDERS, matching ViewKey itself — StreamingManager keys are
// ViewKeys.
type ManagerKey = ViewKey

// String renders a ViewKey for logging.
func (k ViewKey) String() string {
	if k.Discriminator != "" {
		return fmt.Sprintf("%s/%s/%s/%s/%s", k.Market, k.Provider, k.Symbol, k.Kind, k.Discriminator)
	}
	return fmt.Sprintf("%s/%s/%s/%s", k.Market, k.Provider, k.Symbol, k.Kind)
}
