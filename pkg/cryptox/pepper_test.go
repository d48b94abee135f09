package cryptox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateSecret_GeneratesOnce(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "pepper")

	first, err := LoadOrCreateSecret(file, PepperSize)
	require.NoError(t, err)
	require.Len(t, first, 43)

	info, err := os.Stat(file)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreateSecret(file, PepperSize)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLoadOrCreateSecret_ExistingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(file, []byte("  operator-provided-secret\n"), 0o600))

	got, err := LoadOrCreateSecret(file, PepperSize)
	require.NoError(t, err)
	require.Equal(t, "operator-provided-secret", got)
}

func TestLoadOrCreateSecret_Errors(t *testing.T) {
	_, err := LoadOrCreateSecret("", PepperSize)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(file, []byte("\n"), 0o600))
	_, err = LoadOrCreateSecret(file, PepperSize)
	require.Error(t, err)
}
