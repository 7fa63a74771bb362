package timeframe

import "testing"

func TestParseUnparseRoundTrip(t *testing.T) {
	units := []byte{'m', 'h', 'd', 'w', 'M', 'y'}
	for _, u := range units {
		for _, n := range []int{1, 5, 15, 240, 10000} {
			s := Unparse(n, u)
			tf, err := Parse(s)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", s, err)
			}
			if tf.N != n || tf.Unit != u {
				t.Fatalf("Parse(%q) = %+v, want N=%d Unit=%c", s, tf, n, u)
			}
			if tf.String() != s {
				t.Fatalf("round trip mismatch: %q != %q", tf.String(), s)
			}
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{"", "m", "1", "-5m", "0m", "5x", "abcm", "1.5m"}
	for _, s := range bad {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) expected error, got none", s)
		}
	}
}

func TestDurationsMatchSpec(t *testing.T) {
	cases := map[string]int64{
		"1m": 60,
		"1h": 3600,
		"1d": 86400,
		"1w": 604800,
		"1M": 2592000,
		"1y": 31536000,
	}
	for s, wantSec := range cases {
		tf, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if tf.Duration().Seconds() != float64(wantSec) {
			t.Errorf("Duration(%q) = %v, want %ds", s, tf.Duration(), wantSec)
		}
	}
}

func TestIsOneMinute(t *testing.T) {
	one, _ := Parse("1m")
	if !one.IsOneMinute() {
		t.Errorf("expected 1m to be one-minute")
	}
	five, _ := Parse("5m")
	if five.IsOneMinute() {
		t.Errorf("expected 5m not to be one-minute")
	}
}
