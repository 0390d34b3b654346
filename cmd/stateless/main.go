package main

import (
	"os"

	"github.com/airchains-network/stateless-verifier/cmd/stateless/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
