package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/stateless-verifier/config"
	"github.com/airchains-network/stateless-verifier/executor"
)

func TestSaveLoad(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.toml")

	cfg := config.DefaultConfig(home)
	cfg.General.Chain = "dev"
	cfg.Collector.ProofConcurrency = 3
	cfg.Prover.URL = "http://prover:9000"
	require.NoError(t, cfg.Save(path))

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFillsDefaults(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[general]\nrpc_url = \"http://node:8545\"\n"), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", cfg.General.RPCURL)
	assert.Equal(t, "mainnet", cfg.General.Chain)
	assert.Equal(t, 8, cfg.Collector.ProofConcurrency)
	assert.Equal(t, filepath.Join(home, "data", "blocks"), cfg.Collector.BlocksDir)
	assert.Equal(t, filepath.Join(home, "data", "proofs"), cfg.Prover.ProofsDir)

	backoff, err := cfg.RetryBackoff()
	require.NoError(t, err)
	assert.Equal(t, time.Second, backoff)
	timeout, err := cfg.ProverTimeout()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, timeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"chain", "[general]\nchain = \"sepolia\"\n"},
		{"concurrency", "[collector]\nproof_concurrency = 0\n"},
		{"retries", "[collector]\nmax_retries = 0\n"},
		{"backoff", "[collector]\nretry_backoff = \"soon\"\n"},
		{"timeout", "[prover]\ntimeout = \"5\"\n"},
		{"syntax", "[general\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := config.LoadConfig(path)
			assert.Error(t, err)
		})
	}

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestChainConfig(t *testing.T) {
	cfg, err := config.ChainConfig("mainnet")
	require.NoError(t, err)
	assert.Same(t, params.MainnetChainConfig, cfg)

	cfg, err = config.ChainConfig("dev")
	require.NoError(t, err)
	assert.Equal(t, executor.DevChainConfig().ChainID, cfg.ChainID)

	_, err = config.ChainConfig("")
	assert.Error(t, err)
}
