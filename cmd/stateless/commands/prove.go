package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/airchains-network/stateless-verifier/blocks"
	"github.com/airchains-network/stateless-verifier/client"
	"github.com/airchains-network/stateless-verifier/config"
	"github.com/airchains-network/stateless-verifier/prover"
)

func newProveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prove <block>",
		Short: "Verify a collected block locally and submit it to the proving backend",
		Args:  cobra.ExactArgs(1),
		RunE:  proveCommand,
	}
}

func proveCommand(cmd *cobra.Command, args []string) error {
	n, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid block %q", args[0])
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	chainConfig, err := config.ChainConfig(cfg.General.Chain)
	if err != nil {
		return err
	}
	timeout, err := cfg.ProverTimeout()
	if err != nil {
		return err
	}
	backoff, err := cfg.RetryBackoff()
	if err != nil {
		return err
	}
	store, err := blocks.NewStore(cfg.Collector.BlocksDir)
	if err != nil {
		return err
	}
	log := newLogger()

	in, err := store.Load(n)
	if err != nil {
		return err
	}
	header, err := client.NewVerifier(chainConfig, nil).Execute(in)
	if err != nil {
		return fmt.Errorf("block %d does not verify locally: %w", n, err)
	}

	p := prover.NewProverClient(cfg.Prover.URL, timeout, cfg.Collector.MaxRetries, backoff, log)
	proof, err := p.Prove(cmd.Context(), in, header)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(proof, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Prover.ProofsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create proofs directory: %w", err)
	}
	path := filepath.Join(cfg.Prover.ProofsDir, strconv.FormatUint(n, 10)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write proof: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "block %d: proof written to %s\n", n, path)
	return nil
}
