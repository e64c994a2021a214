package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"
)

func TestHash_KnownVector(t *testing.T) {
	// sha256("hello"), lowercase hex.
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := Hash("hello"); got != want {
		t.Fatalf("Hash(hello) = %q, want %q", got, want)
	}
}

func TestHash_MatchesCryptoForArbitraryKeys(t *testing.T) {
	keys := []string{
		"abcdefghijabcdefghij",
		"a",
		"key with spaces",
		"ключ", // non-ASCII goes through as UTF-8 bytes
		"0123456789012345678901234567890123456789",
	}
	for _, k := range keys {
		sum := sha256.Sum256([]byte(k))
		if got, want := Hash(k), hex.EncodeToString(sum[:]); got != want {
			t.Fatalf("Hash(%q) = %q, want %q", k, got, want)
		}
	}
}

func TestHash_Deterministic(t *testing.T) {
	if Hash("same") != Hash("same") {
		t.Fatal("Hash is not deterministic")
	}
}

func TestExtract(t *testing.T) {
	h := http.Header{}
	if _, err := Extract(h); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey for absent header, got %v", err)
	}

	h.Set(HeaderName, "")
	if _, err := Extract(h); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey for empty header, got %v", err)
	}

	h.Set(HeaderName, "raw-key")
	raw, err := Extract(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw != "raw-key" {
		t.Fatalf("Extract = %q, want raw-key", raw)
	}
}

func TestExtract_HeaderNameCaseInsensitive(t *testing.T) {
	h := http.Header{}
	h.Set("X-Api-Key", "abc")
	raw, err := Extract(h)
	if err != nil || raw != "abc" {
		t.Fatalf("Extract with canonical casing = (%q, %v)", raw, err)
	}
}

func TestValidate(t *testing.T) {
	h := http.Header{}
	if _, err := Validate(h); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}

	h.Set(HeaderName, "abcdefghijabcdefghij")
	got, err := Validate(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Hash("abcdefghijabcdefghij") {
		t.Fatalf("Validate hash mismatch: %q", got)
	}
}
