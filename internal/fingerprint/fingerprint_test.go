package fingerprint

import (
	"strings"
	"testing"
)

func TestHash_deterministicAndKeyed(t *testing.T) {
	a, _ := NewHasher("secret-a")
	b, _ := NewHasher("secret-b")

	h1 := a.Hash("fp-1")
	h2 := a.Hash("fp-1")
	if h1 != h2 {
		t.Fatalf("Hash not deterministic: %q vs %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length: got %d, want 64", len(h1))
	}
	if h1 == b.Hash("fp-1") {
		t.Error("different keys produced the same hash")
	}
	if strings.Contains(h1, "fp-1") {
		t.Error("hash leaks the raw fingerprint")
	}
}

func TestHash_trims(t *testing.T) {
	h, _ := NewHasher("k")
	if h.Hash("  fp  ") != h.Hash("fp") {
		t.Error("surrounding whitespace should be ignored")
	}
}

func TestHash_longInputsWithSharedPrefix(t *testing.T) {
	h, _ := NewHasher("k")
	prefix := strings.Repeat("x", MaxLen)
	if h.Hash(prefix+"device-a") == h.Hash(prefix+"device-b") {
		t.Error("fingerprints differing after MaxLen bytes must not collide")
	}
}

func TestNewHasher_keyTooLong(t *testing.T) {
	if _, err := NewHasher(strings.Repeat("k", 65)); err == nil {
		t.Error("expected error for 65-byte key")
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("fp-1", "1.2.3.4", "ua"); got != "fp-1" {
		t.Errorf("Resolve with fp: got %q", got)
	}
	got := Resolve("   ", "1.2.3.4", "ua")
	if got != Derive("1.2.3.4", "ua") {
		t.Errorf("Resolve without fp: got %q", got)
	}
}
