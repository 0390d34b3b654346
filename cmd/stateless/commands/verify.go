package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airchains-network/stateless-verifier/blocks"
	"github.com/airchains-network/stateless-verifier/client"
	"github.com/airchains-network/stateless-verifier/config"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <block>...",
		Short: "Re-execute collected blocks from their bundles alone",
		Args:  cobra.MinimumNArgs(1),
		RunE:  verifyCommand,
	}
}

func verifyCommand(cmd *cobra.Command, args []string) error {
	numbers, err := parseBlocks(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	chainConfig, err := config.ChainConfig(cfg.General.Chain)
	if err != nil {
		return err
	}
	store, err := blocks.NewStore(cfg.Collector.BlocksDir)
	if err != nil {
		return err
	}
	verifier := client.NewVerifier(chainConfig, nil)

	for _, n := range numbers {
		in, err := store.Load(n)
		if err != nil {
			return err
		}
		header, err := verifier.Execute(in)
		if err != nil {
			return fmt.Errorf("block %d: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "block %d: hash %s state_root %s\n", n, header.Hash(), header.Root)
	}
	return nil
}
