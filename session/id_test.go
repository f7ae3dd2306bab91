package session

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewIDUniqueAndParsable(t *testing.T) {
	seen := make(map[ID]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := NewID(nil)
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id after %d draws", i)
		}
		seen[id] = struct{}{}

		token := id.String()
		if len(token) != 43 {
			t.Fatalf("expected 43-char token, got %d", len(token))
		}
		parsed, err := ParseID(token)
		if err != nil {
			t.Fatalf("parse %q: %v", token, err)
		}
		if parsed != id {
			t.Fatal("parsed id differs from original")
		}
	}
}

func TestNewIDUsesReader(t *testing.T) {
	src := bytes.Repeat([]byte{0xAB}, IDSize)
	id, err := NewID(bytes.NewReader(src))
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if !bytes.Equal(id[:], src) {
		t.Fatal("id must come from the supplied reader")
	}

	if _, err := NewID(bytes.NewReader(src[:4])); err == nil {
		t.Fatal("short reader must fail")
	}
}

func TestParseIDRejectsMalformedTokens(t *testing.T) {
	valid, _ := NewID(nil)
	token := valid.String()

	cases := map[string]string{
		"empty":     "",
		"short":     token[:10],
		"long":      token + "A",
		"bad chars": strings.Repeat("*", len(token)),
		"padding":   token[:len(token)-1] + "=",
	}
	for name, tc := range cases {
		if _, err := ParseID(tc); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("%s: expected ErrInvalidID, got %v", name, err)
		}
	}
}

func TestDigestHidesToken(t *testing.T) {
	id, _ := NewID(nil)
	hex := id.DigestHex()
	if len(hex) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(hex))
	}
	if strings.Contains(hex, id.String()) {
		t.Fatal("digest must not contain the token")
	}
	if id.ShortDigest() != hex[:12] {
		t.Fatal("short digest must prefix the full digest")
	}
}
