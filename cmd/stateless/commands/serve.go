package commands

import (
	"github.com/spf13/cobra"

	"github.com/airchains-network/stateless-verifier/client"
	"github.com/airchains-network/stateless-verifier/config"
	"github.com/airchains-network/stateless-verifier/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve bundle collection and verification over HTTP",
		Args:  cobra.NoArgs,
		RunE:  serveCommand,
	}
	cmd.Flags().String("listen-addr", "", "Override server.listen_addr")
	return cmd
}

func serveCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("listen-addr"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	chainConfig, err := config.ChainConfig(cfg.General.Chain)
	if err != nil {
		return err
	}
	log := newLogger()

	env, err := openCollector(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer env.Close()

	srv := server.New(env.collector, env.store, client.NewVerifier(chainConfig, nil), log)
	return srv.Run(cfg.Server.ListenAddr)
}
