package common

import "testing"

func TestHasAny(t *testing.T) {
	if !HasAny("Access Denied by policy", "access denied") {
		t.Fatal("expected case-insensitive match")
	}
	if HasAny("connection refused", "denied", "signature") {
		t.Fatal("unexpected match")
	}
	if HasAny("anything") {
		t.Fatal("no substrings should never match")
	}
}
