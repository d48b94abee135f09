package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (Claims, error)
}

var (
	// ErrInvalidToken covers malformed, tampered and wrongly signed tokens.
	ErrInvalidToken = errors.New("jwtx: invalid token")
	// ErrExpired is returned once now >= exp.
	ErrExpired = errors.New("jwtx: token expired")

	ErrIssuer       = fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	ErrNotYetValid  = fmt.Errorf("%w: token not yet valid", ErrInvalidToken)
	ErrInvalidClaim = fmt.Errorf("%w: invalid claims", ErrInvalidToken)
)

// Verify checks signature, algorithm, issuer and time claims. It is pure: no
// storage is consulted. Every failure wraps either ErrExpired or
// ErrInvalidToken.
func (h *HS256) Verify(tokenStr string) (Claims, error) {
	if tokenStr == "" {
		return Claims{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	// Time claims are checked below with our own clock.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var claims Claims
	token, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing sub", ErrInvalidClaim)
	}
	if err := claims.ValidateIssuer(h.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(h.now()); err != nil {
		return Claims{}, err
	}
	for _, r := range claims.Roles {
		if !r.Valid() {
			return Claims{}, fmt.Errorf("%w: role %d", ErrInvalidClaim, uint8(r))
		}
	}

	return claims, nil
}
