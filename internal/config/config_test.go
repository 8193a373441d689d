package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.env"), []byte(body), 0o600))
	return dir
}

func TestLoad_FromFile(t *testing.T) {
	dir := writeConfig(t, `
JWT_SECRET=file-secret
STORE_DRIVER=sqlite
DSN=/tmp/funding.db
RECONCILE_INTERVAL=45s
CORS_ORIGINS=https://a.example, https://b.example
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "file-secret", cfg.JWTSecret)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/tmp/funding.db", cfg.DSN)
	assert.Equal(t, 45*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3*time.Minute, cfg.TxTimeout)
	assert.Equal(t, "Test SDF Network ; September 2015", cfg.NetworkPassphrase)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := writeConfig(t, "JWT_SECRET=file-secret\nPORT=9000\n")
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.JWTSecret)
	assert.Equal(t, "9000", cfg.Port)
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "only-env")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "only-env", cfg.JWTSecret)
	assert.Equal(t, "memory", cfg.StoreDriver)
}

func TestValidate(t *testing.T) {
	base := Config{
		JWTSecret:       "s",
		StoreDriver:     "memory",
		HorizonURL:      "https://horizon.test",
		WalletBridgeURL: "http://127.0.0.1:7777",
	}
	require.NoError(t, base.Validate())

	noSecret := base
	noSecret.JWTSecret = ""
	assert.ErrorContains(t, noSecret.Validate(), "JWT_SECRET")

	noDSN := base
	noDSN.StoreDriver = "postgres"
	assert.ErrorContains(t, noDSN.Validate(), "DSN")

	badDriver := base
	badDriver.StoreDriver = "mongo"
	badDriver.DSN = "x"
	assert.ErrorContains(t, badDriver.Validate(), "STORE_DRIVER")
}
