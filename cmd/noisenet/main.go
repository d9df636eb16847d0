package main

import (
	"os"

	"github.com/opd-ai/noisenet/cmd/noisenet/commands"
)

func main() {
	rootCmd := commands.RootCmd

	rootCmd.AddCommand(
		commands.NewKeygenCmd(),
		commands.NewListenCmd(),
		commands.NewConnectCmd(),
		commands.NewBootstrapCmd(),
	)

	// Do not print usage when an error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
