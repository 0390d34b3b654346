package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/pelletier/go-toml"

	"github.com/airchains-network/stateless-verifier/executor"
)

// Config holds the application configuration
type Config struct {
	General   GeneralConfig   `toml:"general"`
	Collector CollectorConfig `toml:"collector"`
	Cache     CacheConfig     `toml:"cache"`
	Prover    ProverConfig    `toml:"prover"`
	Server    ServerConfig    `toml:"server"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	RPCURL string `toml:"rpc_url"`
	Chain  string `toml:"chain"` // "mainnet" or "dev"
	Home   string `toml:"home"`
}

// CollectorConfig controls how bundles are collected and where they are kept.
type CollectorConfig struct {
	BlocksDir        string `toml:"blocks_dir"`
	ProofConcurrency int    `toml:"proof_concurrency"`
	MaxRetries       int    `toml:"max_retries"`
	RetryBackoff     string `toml:"retry_backoff"`
}

// CacheConfig holds the RPC response cache settings
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ProverConfig points at the proving backend
type ProverConfig struct {
	URL       string `toml:"url"`
	Timeout   string `toml:"timeout"`
	ProofsDir string `toml:"proofs_dir"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// DefaultHome returns ~/.stateless-verifier, or a relative directory when the
// home directory is unknown.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stateless-verifier"
	}
	return filepath.Join(home, ".stateless-verifier")
}

// DefaultConfig returns the default configuration rooted at home.
func DefaultConfig(home string) Config {
	if home == "" {
		home = DefaultHome()
	}
	return Config{
		General: GeneralConfig{
			RPCURL: "http://127.0.0.1:8545",
			Chain:  "mainnet",
			Home:   home,
		},
		Collector: CollectorConfig{
			BlocksDir:        filepath.Join(home, "data", "blocks"),
			ProofConcurrency: 8,
			MaxRetries:       3,
			RetryBackoff:     "1s",
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(home, "data", "rpc_cache"),
		},
		Prover: ProverConfig{
			URL:       "http://127.0.0.1:3000",
			Timeout:   "300s",
			ProofsDir: filepath.Join(home, "data", "proofs"),
		},
		Server: ServerConfig{
			ListenAddr: ":8090",
		},
	}
}

// LoadConfig reads from config.toml and returns Config struct
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig(filepath.Dir(path))
	file, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	err = toml.Unmarshal(file, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to path as TOML.
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the values that cannot be checked by the TOML decoder.
func (c Config) Validate() error {
	if _, err := ChainConfig(c.General.Chain); err != nil {
		return err
	}
	if c.Collector.ProofConcurrency < 1 {
		return fmt.Errorf("invalid collector.proof_concurrency %d", c.Collector.ProofConcurrency)
	}
	if c.Collector.MaxRetries < 1 {
		return fmt.Errorf("invalid collector.max_retries %d", c.Collector.MaxRetries)
	}
	if _, err := c.RetryBackoff(); err != nil {
		return err
	}
	if _, err := c.ProverTimeout(); err != nil {
		return err
	}
	return nil
}

// RetryBackoff parses collector.retry_backoff.
func (c Config) RetryBackoff() (time.Duration, error) {
	d, err := time.ParseDuration(c.Collector.RetryBackoff)
	if err != nil {
		return 0, fmt.Errorf("invalid collector.retry_backoff: %w", err)
	}
	return d, nil
}

// ProverTimeout parses prover.timeout.
func (c Config) ProverTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Prover.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid prover.timeout: %w", err)
	}
	return d, nil
}

// ChainConfig maps a chain name to its fork schedule.
func ChainConfig(name string) (*params.ChainConfig, error) {
	switch name {
	case "mainnet":
		return params.MainnetChainConfig, nil
	case "dev":
		return executor.DevChainConfig(), nil
	default:
		return nil, fmt.Errorf("unknown chain %q", name)
	}
}
