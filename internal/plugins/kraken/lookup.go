package kraken

import "encoding/json"

// Kraken's result maps are keyed by its own internal pair spelling
// (e.g. "XXBTZUSD"), which does not always match the pair string used
// in the request (e.g. "XBTUSD"). A single-pair request always yields a
// single-entry map, so take it regardless of key spelling.

func lookupPairResult(m map[string]json.RawMessage, pair string) (json.RawMessage, bool) {
	if v, ok := m[pair]; ok {
		return v, true
	}
	for _, v := range m {
		return v, true
	}
	return nil, false
}

func lookupPairResultTicker(m map[string]tickerInfo, pair string) (tickerInfo, bool) {
	if v, ok := m[pair]; ok {
		return v, true
	}
	for _, v := range m {
		return v, true
	}
	return tickerInfo{}, false
}

func lookupPairResultBook(m map[string]orderBookInfo, pair string) (orderBookInfo, bool) {
	if v, ok := m[pair]; ok {
		return v, true
	}
	for _, v := range m {
		return v, true
	}
	return orderBookInfo{}, false
}

func unmarshalRows(raw json.RawMessage, rows *[]ohlcRow) error {
	return json.Unmarshal(raw, rows)
}
