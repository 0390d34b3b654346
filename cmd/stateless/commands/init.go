package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/airchains-network/stateless-verifier/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the home directory and a default config.toml",
		Args:  cobra.NoArgs,
		RunE:  initCommand,
	}
	cmd.Flags().String("rpc-url", "http://127.0.0.1:8545", "Ethereum JSON-RPC URL")
	cmd.Flags().String("chain", "mainnet", "Chain fork schedule (mainnet/dev)")
	cmd.Flags().String("prover-url", "http://127.0.0.1:3000", "Proving backend URL")
	cmd.Flags().String("listen-addr", ":8090", "API server listen address")
	cmd.Flags().Bool("no-cache", false, "Disable the RPC response cache")
	cmd.Flags().Bool("force", false, "Overwrite an existing config.toml")
	return cmd
}

func initCommand(cmd *cobra.Command, _ []string) error {
	home, _ := cmd.Flags().GetString("home")
	rpcURL, _ := cmd.Flags().GetString("rpc-url")
	chain, _ := cmd.Flags().GetString("chain")
	proverURL, _ := cmd.Flags().GetString("prover-url")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	force, _ := cmd.Flags().GetBool("force")

	log := newLogger()

	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
	}

	cfg := config.DefaultConfig(home)
	cfg.General.RPCURL = rpcURL
	cfg.General.Chain = chain
	cfg.Prover.URL = proverURL
	cfg.Server.ListenAddr = listenAddr
	cfg.Cache.Enabled = !noCache
	if err := cfg.Validate(); err != nil {
		return err
	}

	for _, dir := range []string{cfg.Collector.BlocksDir, cfg.Cache.Path, cfg.Prover.ProofsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	log.Infof("Created config file at: %s", path)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n=== Configuration Summary ===")
	fmt.Fprintf(out, "RPC URL: %s\n", cfg.General.RPCURL)
	fmt.Fprintf(out, "Chain: %s\n", cfg.General.Chain)
	fmt.Fprintf(out, "Blocks Dir: %s\n", cfg.Collector.BlocksDir)
	fmt.Fprintf(out, "RPC Cache: %t\n", cfg.Cache.Enabled)
	fmt.Fprintf(out, "Prover URL: %s\n", cfg.Prover.URL)
	fmt.Fprintf(out, "Proofs Dir: %s\n", cfg.Prover.ProofsDir)
	fmt.Fprintf(out, "Config File: %s\n", path)
	return nil
}
