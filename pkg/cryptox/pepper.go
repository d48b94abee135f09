package cryptox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PepperSize is the number of random bytes in a generated pepper.
const PepperSize = 32

// LoadOrCreateSecret reads a base64url secret from file, generating and
// persisting size random bytes with mode 0600 when the file does not exist.
// Surrounding whitespace in an existing file is ignored.
func LoadOrCreateSecret(file string, size int) (string, error) {
	if file == "" {
		return "", errors.New("cryptox: secret file path is empty")
	}
	file = filepath.Clean(file)

	b, err := os.ReadFile(file)
	switch {
	case err == nil:
		secret := strings.TrimSpace(string(b))
		if secret == "" {
			return "", fmt.Errorf("cryptox: secret file %s is empty", file)
		}
		return secret, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("cryptox: read secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return "", fmt.Errorf("cryptox: create secret dir: %w", err)
	}

	secret, err := GenerateToken(size)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		// Another process created it first.
		return LoadOrCreateSecret(file, size)
	}
	if err != nil {
		return "", fmt.Errorf("cryptox: create secret: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(secret); err != nil {
		return "", fmt.Errorf("cryptox: write secret: %w", err)
	}
	return secret, nil
}
