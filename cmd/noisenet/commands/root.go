package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

// RootCmd is the root command for noisenet
var RootCmd = &cobra.Command{
	Use:              "noisenet",
	Short:            "encrypted peer-to-peer streams addressed by public key",
	TraverseChildren: true,
}

func init() {
	RootCmd.PersistentFlags().String("datadir", _config.DataDir, "Directory holding the key pair and noisenet.toml")
	RootCmd.PersistentFlags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	RootCmd.PersistentFlags().StringSlice("bootstrap", _config.Bootstrap, "Bootstrap nodes (host:port)")
}
