package risk

import "testing"

func TestAllow(t *testing.T) {
	limits := Limits{MinOrderNotional: 5000}
	if !limits.Allow(5000) {
		t.Fatalf("expected notional at the minimum to pass")
	}
	if limits.Allow(4999) {
		t.Fatalf("expected notional under the minimum to fail")
	}
}

func TestDust(t *testing.T) {
	limits := Limits{DustThreshold: 10000}
	if !limits.Dust(9999) {
		t.Fatalf("expected holding under the threshold to be dust")
	}
	if limits.Dust(10000) {
		t.Fatalf("expected holding at the threshold to count")
	}
}
