package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.pdf"), "", 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.pdf")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 2048), 0o644))

	_, err := Load(path, "", 1024)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLoadRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "CR_Doe.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is just text"), 0o644))

	_, err := Load(path, "Jean Doe", 0)
	assert.Error(t, err)
}
