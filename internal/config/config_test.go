package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablepay/stablepay/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.RPCEndpoint)
	assert.Equal(t, "solana-devnet", cfg.Network)
	assert.Equal(t, "stablepay.db", cfg.HistoryPath)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 60, cfg.Server.TimeoutSeconds)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rpc_endpoint: https://rpc.from-file.test
network: solana-mainnet
server:
  port: "9090"
  timeout_seconds: 30
`), 0o644))

	t.Setenv("STABLEPAY_NETWORK", "solana-devnet")
	t.Setenv("SERVER_TIMEOUT_SECONDS", "15")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.from-file.test", cfg.RPCEndpoint, "file beats defaults")
	assert.Equal(t, "solana-devnet", cfg.Network, "env beats file")
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 15, cfg.Server.TimeoutSeconds)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConfiguration))
}

func TestLoadServerRequirements(t *testing.T) {
	_, err := LoadServer("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConfiguration))

	t.Setenv("DB_SOURCE", "postgresql://localhost/stablepay")
	t.Setenv("SERVER_PAY_TO", "PayToWallet111")
	cfg, err := LoadServer("")
	require.NoError(t, err)
	assert.Equal(t, "PayToWallet111", cfg.Server.PayTo)
}
