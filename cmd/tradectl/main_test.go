package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSignCommand(t *testing.T) {
	t.Setenv("MEXC_SECRET_KEY", "Jefe")
	secretKey = ""

	out, err := run(t, "sign", "what do ya want for nothing?")
	require.NoError(t, err)
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", strings.TrimSpace(out))
}

func TestSignCommandRequiresSecret(t *testing.T) {
	t.Setenv("MEXC_SECRET_KEY", "")
	secretKey = ""

	_, err := run(t, "sign", "a=1")
	assert.Error(t, err)
}

func TestHashAccessKeyCommand(t *testing.T) {
	out, err := run(t, "hash-access-key", "--cost", "4", "correct-horse-battery")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct-horse-battery")))

	_, err = run(t, "hash-access-key", "short")
	assert.Error(t, err)
}

func TestMockModeCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"exchange":{"mock_mode":true}}`), 0o600))

	out, err := run(t, "--config", path, "symbols")
	require.NoError(t, err)
	assert.Contains(t, out, "BTCUSDT")

	out, err = run(t, "--config", path, "--json", "price", "btcusdt")
	require.NoError(t, err)
	assert.Contains(t, out, `"BTCUSDT"`)
}

func TestTrimFloat(t *testing.T) {
	assert.Equal(t, "1.5", trimFloat(1.5))
	assert.Equal(t, "100", trimFloat(100))
	assert.Equal(t, "0.00012", trimFloat(0.00012))
}
