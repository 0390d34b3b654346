package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect <block>...",
		Short: "Collect witness bundles for blocks from the RPC node",
		Long: `Collect executes each block against the node's state, gathers the proofs and
headers it touched and writes one bundle per block to the blocks directory.
Blocks that already have a bundle are skipped. Arguments are block numbers or
inclusive ranges such as 100-120.`,
		Args: cobra.MinimumNArgs(1),
		RunE: collectCommand,
	}
}

func collectCommand(cmd *cobra.Command, args []string) error {
	numbers, err := parseBlocks(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger()

	env, err := openCollector(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer env.Close()

	done, err := env.store.CollectAll(cmd.Context(), env.collector, numbers, log)
	fmt.Fprintf(cmd.OutOrStdout(), "collected %d of %d blocks\n", len(done), len(numbers))
	return err
}
