package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/airchains-network/stateless-verifier/blocks"
	"github.com/airchains-network/stateless-verifier/config"
	"github.com/airchains-network/stateless-verifier/db"
	"github.com/airchains-network/stateless-verifier/eth"
	"github.com/airchains-network/stateless-verifier/executor"
	"github.com/airchains-network/stateless-verifier/host"
)

// maxBlockRange bounds how many blocks one range argument may name.
const maxBlockRange = 10_000

// NewRootCmd builds the stateless command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stateless",
		Short: "Stateless Ethereum block verifier",
		Long: `Collects self-contained witness bundles for Ethereum blocks from an RPC node
and re-executes the blocks against those bundles alone.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("home", config.DefaultHome(), "Home directory holding config.toml and data")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newCollectCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newProveCmd())
	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(logrus.InfoLevel)
	return log
}

func configPath(cmd *cobra.Command) (string, error) {
	home, err := cmd.Flags().GetString("home")
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.toml"), nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := configPath(cmd)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w (run init first)", err)
	}
	return cfg, nil
}

// collectorEnv is everything a command needs to collect bundles.
type collectorEnv struct {
	collector *host.Collector
	store     *blocks.Store
	closers   []func()
}

func (e *collectorEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func openCollector(ctx context.Context, cfg config.Config, log *logrus.Logger) (*collectorEnv, error) {
	chainConfig, err := config.ChainConfig(cfg.General.Chain)
	if err != nil {
		return nil, err
	}
	backoff, err := cfg.RetryBackoff()
	if err != nil {
		return nil, err
	}
	store, err := blocks.NewStore(cfg.Collector.BlocksDir)
	if err != nil {
		return nil, err
	}
	env := &collectorEnv{store: store}

	client, err := eth.NewClient(ctx, cfg.General.RPCURL, cfg.Collector.MaxRetries, backoff, log)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, client.Close)

	var source host.ChainSource = client
	if cfg.Cache.Enabled {
		cache, err := db.NewLevelDB(cfg.Cache.Path)
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("failed to open RPC cache: %w", err)
		}
		env.closers = append(env.closers, func() { cache.Close() })
		source = eth.NewCachedSource(client, cache, log)
	}
	env.collector = host.NewCollector(source, executor.NewEngine(chainConfig), cfg.Collector.ProofConcurrency, log)
	return env, nil
}

// parseBlocks reads block arguments, each a number or an inclusive range
// such as 100-120.
func parseBlocks(args []string) ([]uint64, error) {
	var out []uint64
	for _, arg := range args {
		from, to, isRange := strings.Cut(arg, "-")
		first, err := strconv.ParseUint(from, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid block %q", arg)
		}
		last := first
		if isRange {
			if last, err = strconv.ParseUint(to, 10, 64); err != nil || last < first {
				return nil, fmt.Errorf("invalid block range %q", arg)
			}
			if last-first >= maxBlockRange {
				return nil, fmt.Errorf("block range %q spans more than %d blocks", arg, maxBlockRange)
			}
		}
		for n := first; ; n++ {
			out = append(out, n)
			if n == last {
				break
			}
		}
	}
	return out, nil
}
