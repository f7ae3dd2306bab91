package cookie

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func TestWriteReadRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, "tok", time.Hour, Options{Secure: true})

	res := rec.Result()
	cookies := res.Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != DefaultName || c.Value != "tok" {
		t.Fatalf("unexpected cookie %s=%s", c.Name, c.Value)
	}
	if !c.HttpOnly || !c.Secure || c.Path != "/" {
		t.Fatalf("expected hardened defaults, got %+v", c)
	}
	if c.MaxAge != 3600 {
		t.Fatalf("expected MaxAge 3600, got %d", c.MaxAge)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultName, Value: "tok"})
	if got := Read(req, Options{}); got != "tok" {
		t.Fatalf("expected tok, got %q", got)
	}
}

func TestReadMissingCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := Read(req, Options{Name: "sid"}); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestClearExpiresCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	Clear(rec, Options{Name: "sid"})

	header := rec.Header().Get("Set-Cookie")
	if !strings.HasPrefix(header, "sid=;") || !strings.Contains(header, "Max-Age=0") {
		t.Fatalf("expected expiring cookie, got %q", header)
	}
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestSignerRoundTrip(t *testing.T) {
	s, err := NewSigner(SignerConfig{Key: testKey, Issuer: "gosession"})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	wrapped, err := s.Wrap("tok")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	got, err := s.Unwrap(wrapped)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if got != "tok" {
		t.Fatalf("expected tok, got %q", got)
	}
}

func TestSignerRejectsTamperedCookie(t *testing.T) {
	s, err := NewSigner(SignerConfig{Key: testKey})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	wrapped, _ := s.Wrap("tok")

	parts := strings.Split(wrapped, ".")
	claims, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{SID: "other"}).SigningString()
	forged := strings.Split(claims, ".")[0] + "." + strings.Split(claims, ".")[1] + "." + parts[2]

	for name, v := range map[string]string{
		"empty":   "",
		"garbage": "not-a-jwt",
		"forged":  forged,
	} {
		if _, err := s.Unwrap(v); !errors.Is(err, ErrInvalidCookie) {
			t.Fatalf("%s: expected ErrInvalidCookie, got %v", name, err)
		}
	}
}

func TestSignerRejectsWrongAlgorithm(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ed, err := NewSigner(SignerConfig{Method: MethodEd25519, Key: priv})
	if err != nil {
		t.Fatalf("new ed signer: %v", err)
	}
	hs, err := NewSigner(SignerConfig{Key: testKey})
	if err != nil {
		t.Fatalf("new hs signer: %v", err)
	}

	wrapped, err := hs.Wrap("tok")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if _, err := ed.Unwrap(wrapped); !errors.Is(err, ErrInvalidCookie) {
		t.Fatalf("expected hs256 envelope to be rejected by ed25519 signer, got %v", err)
	}

	edWrapped, err := ed.Wrap("tok")
	if err != nil {
		t.Fatalf("ed wrap: %v", err)
	}
	if got, err := ed.Unwrap(edWrapped); err != nil || got != "tok" {
		t.Fatalf("ed round trip: %q %v", got, err)
	}
}

func TestSignerMaxAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s, err := NewSigner(SignerConfig{Key: testKey, MaxAge: time.Minute, Now: clock})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	wrapped, _ := s.Wrap("tok")

	now = now.Add(2 * time.Minute)
	if _, err := s.Unwrap(wrapped); !errors.Is(err, ErrInvalidCookie) {
		t.Fatalf("expected expired envelope to be rejected, got %v", err)
	}
}

func TestSignerKeyRotation(t *testing.T) {
	oldKey := []byte("old-key-old-key-old-key-old-key-")
	old, err := NewSigner(SignerConfig{Key: oldKey, KeyID: "k1"})
	if err != nil {
		t.Fatalf("old signer: %v", err)
	}
	wrapped, _ := old.Wrap("tok")

	current, err := NewSigner(SignerConfig{
		Key:        testKey,
		KeyID:      "k2",
		VerifyKeys: map[string][]byte{"k1": oldKey, "k2": testKey},
	})
	if err != nil {
		t.Fatalf("current signer: %v", err)
	}
	if got, err := current.Unwrap(wrapped); err != nil || got != "tok" {
		t.Fatalf("expected old envelope to verify, got %q %v", got, err)
	}
}

func TestNewSignerRejectsShortKey(t *testing.T) {
	if _, err := NewSigner(SignerConfig{Key: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 key to be rejected")
	}
}
