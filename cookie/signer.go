package cookie

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCookie is returned by Unwrap for any cookie that fails verification.
var ErrInvalidCookie = errors.New("invalid session cookie")

// SigningMethod selects the envelope signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// SignerConfig configures a Signer.
type SignerConfig struct {
	Method SigningMethod
	// Key is the HMAC secret for hs256 or the ed25519 private key (raw or PEM).
	Key []byte
	// PublicKey is the ed25519 verification key. Derived from Key when empty.
	PublicKey []byte
	Issuer    string
	// KeyID is written into the kid header. VerifyKeys, when set, are looked up by kid so
	// old keys keep verifying during rotation.
	KeyID      string
	VerifyKeys map[string][]byte
	// MaxAge bounds the envelope lifetime independently of the session. Zero means the
	// envelope carries no exp claim.
	MaxAge time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Claims is the envelope payload.
type Claims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Signer wraps session tokens in signed JWT envelopes.
type Signer struct {
	config  SignerConfig
	method  jwt.SigningMethod
	signKey any
}

// NewSigner validates cfg and returns a Signer.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if cfg.MaxAge < 0 {
		return nil, errors.New("invalid MaxAge configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	s := &Signer{config: cfg}
	switch cfg.Method {
	case MethodHS256, "":
		if len(cfg.Key) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
		s.config.Method = MethodHS256
		s.method = jwt.SigningMethodHS256
		s.signKey = cfg.Key
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.Key)
		if err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			s.config.PublicKey = priv.Public().(ed25519.PublicKey)
		} else if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
		s.method = jwt.SigningMethodEdDSA
		s.signKey = priv
	default:
		return nil, errors.New("unsupported signing method")
	}

	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if _, err := s.keyBytesToVerifyKey(key); err != nil {
			return nil, fmt.Errorf("invalid verify key for kid %q: %w", kid, err)
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return s, nil
}

// Wrap signs token into a cookie value.
func (s *Signer) Wrap(token string) (string, error) {
	now := s.config.Now()
	claims := Claims{
		SID: token,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   s.config.Issuer,
		},
	}
	if s.config.MaxAge > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.config.MaxAge))
	}

	t := jwt.NewWithClaims(s.method, claims)
	if s.config.KeyID != "" {
		t.Header["kid"] = s.config.KeyID
	}
	return t.SignedString(s.signKey)
}

// Unwrap verifies a cookie value and returns the session token inside. Every failure is
// reported as ErrInvalidCookie.
func (s *Signer) Unwrap(value string) (string, error) {
	if value == "" {
		return "", ErrInvalidCookie
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.config.Now),
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	t, err := parser.ParseWithClaims(value, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if len(s.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			key, ok := s.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return s.keyBytesToVerifyKey(key)
		}
		if s.config.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != s.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return s.verifyKey()
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}

	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || claims.SID == "" {
		return "", ErrInvalidCookie
	}
	return claims.SID, nil
}

func (s *Signer) verifyKey() (interface{}, error) {
	if s.config.Method == MethodEd25519 {
		return parseEdPublicKey(s.config.PublicKey)
	}
	return s.config.Key, nil
}

func (s *Signer) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	if s.config.Method == MethodEd25519 {
		return parseEdPublicKey(key)
	}
	if len(key) == 0 {
		return nil, errors.New("empty hs256 key")
	}
	return key, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
