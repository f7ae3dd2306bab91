package session

import (
	"testing"
)

// FuzzParseID exercises token parsing with arbitrary strings.
// Goal: no panics; accepted tokens round-trip exactly.
func FuzzParseID(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	f.Add("!!!not-base64!!!")
	f.Add("aGVsbG8=")

	if id, err := NewID(nil); err == nil {
		f.Add(id.String())
	}

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseID(input)
		if err != nil {
			if err != ErrInvalidID {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		if id.String() != input {
			t.Fatalf("non-canonical token accepted: %q -> %q", input, id.String())
		}
	})
}
