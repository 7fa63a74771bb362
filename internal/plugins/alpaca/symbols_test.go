package alpaca

import "testing"

func TestToAlpacaSymbolDropsQuoteSuffix(t *testing.T) {
	if got := toAlpacaSymbol("AAPL_USD"); got != "AAPL" {
		t.Errorf("toAlpacaSymbol(AAPL_USD) = %q, want AAPL", got)
	}
	if got := toAlpacaSymbol("AAPL"); got != "AAPL" {
		t.Errorf("toAlpacaSymbol(AAPL) = %q, want AAPL", got)
	}
}

func TestTimeframeToAlpacaRejectsUnknown(t *testing.T) {
	if _, ok := timeframeToAlpaca("2m"); ok {
		t.Error("expected 2m to be unsupported")
	}
	if v, ok := timeframeToAlpaca("1h"); !ok || v != "1Hour" {
		t.Errorf("timeframeToAlpaca(1h) = (%q, %v), want (1Hour, true)", v, ok)
	}
}
