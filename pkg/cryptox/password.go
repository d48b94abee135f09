package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for newly created hashes. Verification reads the
// parameters back out of the encoded hash so these can be raised later.
const (
	argonMemory      = 19 * 1024 // KiB
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

var (
	ErrPasswordMismatch = errors.New("cryptox: password does not match")
	ErrMalformedHash    = errors.New("cryptox: malformed password hash")
)

// PasswordHasher produces and checks PHC-encoded Argon2id hashes. The pepper
// is appended to every password and is fixed for the lifetime of the hasher.
type PasswordHasher struct {
	pepper string
}

// NewPasswordHasher returns a hasher using the given pepper. An empty pepper
// is allowed but not recommended outside of tests.
func NewPasswordHasher(pepper string) *PasswordHasher {
	return &PasswordHasher{pepper: pepper}
}

// Hash returns "$argon2id$v=19$m=..,t=..,p=..$salt$hash".
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptox: read salt: %w", err)
	}

	sum := argon2.IDKey([]byte(password+h.pepper), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify compares password against an encoded hash in constant time.
func (h *PasswordHasher) Verify(password, encoded string) error {
	parts := strings.Split(encoded, "$")
	// ["", "argon2id", "v=19", "m=X,t=Y,p=Z", salt, hash]
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return ErrMalformedHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return ErrMalformedHash
	}

	var mem, iters uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return ErrMalformedHash
	}

	got := argon2.IDKey([]byte(password+h.pepper), salt, iters, mem, par, uint32(len(want))) // #nosec G115
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
