package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretSize is the shortest HMAC secret accepted, matching the SHA-256
// block output size.
const MinSecretSize = 32

// ErrWeakSecret is returned when the signing secret is shorter than
// MinSecretSize.
var ErrWeakSecret = errors.New("jwtx: signing secret too short")

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	Sign(Claims) (string, error)
}

// HS256 signs and verifies tokens with one shared secret. The secret is
// copied at construction and never exposed or mutated afterwards.
type HS256 struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures an HS256.
type Option func(*HS256)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(h *HS256) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHS256 creates a signer/verifier pair for issuer. An empty issuer disables
// issuer enforcement on verify.
func NewHS256(secret []byte, issuer string, opts ...Option) (*HS256, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrWeakSecret, len(secret), MinSecretSize)
	}

	h := &HS256{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *HS256) Alg() string { return jwt.SigningMethodHS256.Alg() }

// Issuer returns the issuer stamped on and expected of tokens.
func (h *HS256) Issuer() string { return h.issuer }

// Sign takes your claims and turns them into a signed JWT string.
func (h *HS256) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = h.issuer
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return s, nil
}
